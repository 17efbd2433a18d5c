package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Stripe charges payment methods through confirmed PaymentIntents.
type Stripe struct {
	client *client.API
}

// NewStripe builds a Stripe processor for the given secret key.
func NewStripe(secretKey string) *Stripe {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &Stripe{client: sc}
}

// CreateCharge creates and confirms a PaymentIntent for the request.
func (s *Stripe) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return Charge{}, fmt.Errorf("%w: %s", ErrDeclined, stripeErr.Msg)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Charge{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Charge{}, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return chargeFromIntent(pi)
}

func chargeFromIntent(pi *stripe.PaymentIntent) (Charge, error) {
	if pi == nil {
		return Charge{}, errors.New("empty payment intent")
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return Charge{ID: pi.ID, Status: string(pi.Status)}, fmt.Errorf("%w: payment intent %s is %s", ErrDeclined, pi.ID, pi.Status)
	}
	return Charge{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: StatusSucceeded}, nil
}
