package wallet

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/config"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"0.01":    1,
		"12.5":    1_250,
		"150":     15_000,
		"5000.00": 500_000,
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %d got %d", in, want, got)
		}
	}

	for _, in := range []string{"abc", "1.001", "", "184467440737095517.16", "-184467440737095517.16", "92233720368547758.08"} {
		if _, err := ParseAmount(in); !errors.Is(err, ErrValidation) {
			t.Fatalf("parse %q: expected validation error, got %v", in, err)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(35_000); got != "350.00" {
		t.Fatalf("expected 350.00 got %s", got)
	}
	if got := FormatAmount(-150); got != "-1.50" {
		t.Fatalf("expected -1.50 got %s", got)
	}
	if got, _ := ToMinorUnits(decimal.RequireFromString("0.1")); got != 10 {
		t.Fatalf("expected 10 got %d", got)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.WalletPolicy{Currency: "EUR", MaxTransfer: 100})
	if p.Currency != "EUR" || p.MaxTransfer != 100 {
		t.Fatalf("configured values not applied: %+v", p)
	}
	if p.MaxTopUp != DefaultPolicy().MaxTopUp || p.MaxPageSize != 100 {
		t.Fatalf("defaults not kept: %+v", p)
	}
}
