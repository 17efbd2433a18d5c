package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDeclined indicates the processor refused the charge.
	ErrDeclined = errors.New("charge declined")

	// ErrTimeout indicates the processor did not answer within the configured timeout.
	ErrTimeout = errors.New("payment processor timeout")
)

// Charge statuses reported by processors.
const (
	StatusSucceeded = "succeeded"
	StatusDeclined  = "declined"
)

// ChargeRequest asks the processor to collect Amount minor units from the
// referenced payment method.
type ChargeRequest struct {
	Amount           int64
	Currency         string
	PaymentMethodRef string
	Description      string
	Metadata         map[string]string
	IdempotencyKey   string
}

// Charge is the processor's answer; ID is the opaque payment reference stored
// on the ledger entry.
type Charge struct {
	ID           string
	ClientSecret string
	Status       string
}

// Processor represents a connector to an external payment processor.
type Processor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
}

// staticNamespace derives stable charge ids from idempotency keys.
var staticNamespace = uuid.MustParse("0d6f1c52-3b8e-4f0a-9c57-6e2a41b8d913")

// Static approves every charge with a synthetic reference. Like a real
// processor, a repeated idempotency key yields the same charge.
type Static struct{}

// CreateCharge approves the request.
func (Static) CreateCharge(_ context.Context, req ChargeRequest) (Charge, error) {
	if req.Amount <= 0 {
		return Charge{}, fmt.Errorf("%w: amount must be positive", ErrDeclined)
	}
	id := uuid.New()
	if req.IdempotencyKey != "" {
		id = uuid.NewSHA1(staticNamespace, []byte(req.IdempotencyKey))
	}
	return Charge{ID: "ch_" + id.String(), Status: StatusSucceeded}, nil
}

type timeoutProcessor struct {
	next    Processor
	timeout time.Duration
}

// WithTimeout bounds every charge by d and reports an expired deadline as ErrTimeout.
func WithTimeout(next Processor, d time.Duration) Processor {
	if d <= 0 {
		return next
	}
	return &timeoutProcessor{next: next, timeout: d}
}

func (p *timeoutProcessor) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		charge Charge
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, err := p.next.CreateCharge(ctx, req)
		done <- result{charge: c, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return Charge{}, fmt.Errorf("%w: %v", ErrTimeout, r.err)
		}
		return r.charge, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Charge{}, ErrTimeout
		}
		return Charge{}, ctx.Err()
	}
}
