package wallet

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/ledger"
)

// Policy holds the limits enforced by the service. Amounts are minor units.
type Policy struct {
	Currency             string
	MaxTopUp             int64
	MaxTransfer          int64
	MaxDescriptionLength int
	DefaultPageSize      int
	MaxPageSize          int
	InsightsWindow       int
}

// DefaultPolicy returns a 10,000 top-up ceiling and a 5,000 transfer ceiling.
func DefaultPolicy() Policy {
	return Policy{
		Currency:             ledger.DefaultCurrency,
		MaxTopUp:             1_000_000,
		MaxTransfer:          500_000,
		MaxDescriptionLength: 500,
		DefaultPageSize:      50,
		MaxPageSize:          100,
		InsightsWindow:       100,
	}
}

// PolicyFromConfig overlays configured limits on DefaultPolicy.
func PolicyFromConfig(cfg config.WalletPolicy) Policy {
	p := DefaultPolicy()
	if cfg.Currency != "" {
		p.Currency = cfg.Currency
	}
	if cfg.MaxTopUp > 0 {
		p.MaxTopUp = cfg.MaxTopUp
	}
	if cfg.MaxTransfer > 0 {
		p.MaxTransfer = cfg.MaxTransfer
	}
	if cfg.MaxDescriptionLength > 0 {
		p.MaxDescriptionLength = cfg.MaxDescriptionLength
	}
	return p
}

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// ToMinorUnits converts a major-unit decimal such as 12.50 into 1250. Values
// that do not fit in an int64 are rejected rather than truncated.
func ToMinorUnits(d decimal.Decimal) (int64, error) {
	if !d.Equal(d.Round(2)) {
		return 0, invalid("amount", "at most two decimal places are allowed")
	}
	minor := d.Shift(2)
	if minor.GreaterThan(maxMinorUnits) || minor.LessThan(minMinorUnits) {
		return 0, invalid("amount", "is too large")
	}
	return minor.IntPart(), nil
}

// ParseAmount parses a major-unit string into minor units.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, invalid("amount", fmt.Sprintf("%q is not a number", s))
	}
	return ToMinorUnits(d)
}

// FormatAmount renders minor units as a fixed two-decimal string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
