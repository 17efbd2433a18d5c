package receipt

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const codePrefix = "RC"

// Type classifies the wallet event a receipt documents.
type Type string

const (
	TypeTopUp            Type = "top_up"
	TypeTransferSent     Type = "transfer_sent"
	TypeTransferReceived Type = "transfer_received"
)

// Receipt describes a completed wallet event for one party.
type Receipt struct {
	Code          string
	OwnerID       string
	TransactionID string
	Amount        int64
	Currency      string
	Type          Type
	Description   string
	PaymentMethod string
	Status        string
	Timestamp     time.Time
}

// Generator produces receipts. Callers treat failures as non-fatal.
type Generator interface {
	Generate(ctx context.Context, r Receipt) (string, error)
}

// NewCode returns a sortable receipt code such as RC01J9Z3K8....
func NewCode(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(t.UTC()), entropy)
	return codePrefix + id.String()
}

// IsCode reports whether s looks like a code produced by NewCode.
func IsCode(s string) bool {
	if !strings.HasPrefix(s, codePrefix) {
		return false
	}
	_, err := ulid.ParseStrict(strings.TrimPrefix(s, codePrefix))
	return err == nil
}

func withCode(r Receipt) Receipt {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Code == "" {
		r.Code = NewCode(r.Timestamp)
	}
	return r
}

// LoggerGenerator writes receipts to the structured logger.
type LoggerGenerator struct {
	logger *slog.Logger
}

// NewLoggerGenerator constructs a logging receipt generator.
func NewLoggerGenerator(logger *slog.Logger) *LoggerGenerator {
	return &LoggerGenerator{logger: logger}
}

// Generate assigns a code and logs the receipt.
func (g *LoggerGenerator) Generate(_ context.Context, r Receipt) (string, error) {
	r = withCode(r)
	if g == nil || g.logger == nil {
		return r.Code, nil
	}
	g.logger.Info("receipt",
		slog.String("code", r.Code),
		slog.String("owner_id", r.OwnerID),
		slog.String("transaction_id", r.TransactionID),
		slog.Int64("amount", r.Amount),
		slog.String("type", string(r.Type)),
		slog.String("status", r.Status),
	)
	return r.Code, nil
}
