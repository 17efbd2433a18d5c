package wallet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/processor"
	"github.com/congo-pay/walletledger/internal/receipt"
)

const topUpDescription = "Wallet top-up"

// AddFundsInput captures the data required to top up a wallet.
type AddFundsInput struct {
	OwnerID          string
	Amount           int64
	PaymentMethodRef string
	Metadata         map[string]string
	ClientTxID       string
}

// AddFundsResult represents the outcome of a top-up.
type AddFundsResult struct {
	Success          bool
	ClientTxID       string
	TransactionID    string
	PaymentReference string
	ReceiptCode      string
	Balance          int64
}

// AddFunds charges the payment method and credits the wallet. A processor
// rejection leaves the ledger untouched. The processor id doubles as the
// ledger idempotency key, so a retried credit never applies twice.
func (s *Service) AddFunds(ctx context.Context, input AddFundsInput) (AddFundsResult, error) {
	if err := s.validateAddFunds(input); err != nil {
		return AddFundsResult{}, err
	}
	// Every charge carries a processor idempotency key.
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}
	log := logging.FromContext(ctx, s.logger).With(slog.String("owner_id", input.OwnerID))

	w, err := s.Wallet(ctx, input.OwnerID)
	if err != nil {
		return AddFundsResult{}, err
	}

	charge, err := s.processor.CreateCharge(ctx, processor.ChargeRequest{
		Amount:           input.Amount,
		Currency:         w.Currency,
		PaymentMethodRef: input.PaymentMethodRef,
		Description:      topUpDescription,
		Metadata:         withOwner(input.Metadata, input.OwnerID),
		IdempotencyKey:   input.ClientTxID,
	})
	if err != nil {
		log.Warn("top-up charge rejected", slog.Int64("amount", input.Amount), slog.Any("error", err))
		return AddFundsResult{}, &ProcessorError{Err: err}
	}

	credit, err := s.store.Credit(ctx, ledger.CreditRequest{
		OwnerID:          input.OwnerID,
		Amount:           input.Amount,
		Kind:             ledger.KindTopUp,
		Description:      topUpDescription,
		PaymentReference: charge.ID,
		ClientTxID:       charge.ID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			return AddFundsResult{
				Success:          true,
				ClientTxID:       input.ClientTxID,
				TransactionID:    credit.TransactionID,
				PaymentReference: charge.ID,
				Balance:          credit.Balance,
			}, ErrDuplicateTransaction
		}
		// The charge succeeded but the credit did not; retrying with the same
		// payment reference is safe.
		log.Error("ledger credit failed after successful charge",
			slog.String("payment_reference", charge.ID),
			slog.Int64("amount", input.Amount),
			slog.Any("error", err),
		)
		return AddFundsResult{}, storeError("credit wallet", err)
	}

	res := AddFundsResult{
		Success:          true,
		ClientTxID:       input.ClientTxID,
		TransactionID:    credit.TransactionID,
		PaymentReference: charge.ID,
		Balance:          credit.Balance,
	}
	res.ReceiptCode = s.issueReceipt(ctx, receipt.Receipt{
		OwnerID:       input.OwnerID,
		TransactionID: credit.TransactionID,
		Amount:        input.Amount,
		Currency:      w.Currency,
		Type:          receipt.TypeTopUp,
		Description:   topUpDescription,
		PaymentMethod: input.PaymentMethodRef,
		Status:        string(ledger.StatusCompleted),
		Timestamp:     credit.Timestamp,
	})

	log.Info("wallet funded",
		slog.String("transaction_id", credit.TransactionID),
		slog.String("payment_reference", charge.ID),
		slog.Int64("amount", input.Amount),
		slog.Int64("balance", credit.Balance),
	)
	return res, nil
}

func (s *Service) validateAddFunds(input AddFundsInput) error {
	switch {
	case input.OwnerID == "":
		return invalid("owner_id", "is required")
	case input.Amount <= 0:
		return invalid("amount", "must be positive")
	case input.Amount > s.policy.MaxTopUp:
		return invalid("amount", "exceeds the top-up limit of "+FormatAmount(s.policy.MaxTopUp))
	case input.PaymentMethodRef == "":
		return invalid("payment_method", "is required")
	}
	return nil
}

func withOwner(metadata map[string]string, ownerID string) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["owner_id"] = ownerID
	return out
}
