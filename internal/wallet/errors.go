package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/processor"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrProcessor matches every *ProcessorError.
	ErrProcessor = errors.New("payment processor error")

	// ErrStore matches every *StoreError.
	ErrStore = errors.New("ledger store error")

	// ErrInsufficientFunds is returned when the sender cannot cover a transfer.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds

	// ErrDuplicateTransaction is returned alongside the original result when a
	// client transaction id is replayed.
	ErrDuplicateTransaction = ledger.ErrDuplicateTransaction
)

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ProcessorError wraps a failed charge. Nothing has been written to the ledger.
type ProcessorError struct {
	Err error
}

func (e *ProcessorError) Error() string { return "payment processor: " + e.Err.Error() }

func (e *ProcessorError) Unwrap() error { return e.Err }

func (e *ProcessorError) Is(target error) bool { return target == ErrProcessor }

// StoreError wraps a ledger store failure for operation Op.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// UserMessage maps an error to text suitable for direct display.
func UserMessage(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient funds"
	case errors.As(err, &verr):
		if verr.Field == "amount" {
			return "invalid amount"
		}
		return verr.Error()
	case errors.Is(err, ErrValidation):
		return "invalid request"
	case errors.Is(err, processor.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "network timeout, please try again"
	case errors.Is(err, processor.ErrDeclined):
		return "payment was declined"
	case errors.Is(err, ErrProcessor):
		return "payment could not be processed"
	case errors.Is(err, ErrDuplicateTransaction):
		return "transaction already processed"
	case errors.Is(err, ErrStore):
		return "wallet is temporarily unavailable"
	default:
		return "something went wrong"
	}
}
