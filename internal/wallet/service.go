package wallet

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/processor"
	"github.com/congo-pay/walletledger/internal/receipt"
)

const receiptTimeout = 5 * time.Second

// Service exposes wallet operations backed by the ledger store.
type Service struct {
	store     ledger.Store
	processor processor.Processor
	receipts  receipt.Generator
	policy    Policy
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a wallet service instance. A nil processor approves every
// charge and a nil receipt generator only logs.
func NewService(store ledger.Store, proc processor.Processor, receipts receipt.Generator, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if proc == nil {
		proc = processor.Static{}
	}
	if receipts == nil {
		receipts = receipt.NewLoggerGenerator(logger)
	}
	return &Service{
		store:     store,
		processor: proc,
		receipts:  receipts,
		policy:    policy,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the limits enforced by the service.
func (s *Service) Policy() Policy {
	return s.policy
}

// GetBalance returns the owner's balance, creating an empty wallet on first
// access. Only store failures are returned.
func (s *Service) GetBalance(ctx context.Context, ownerID string) (int64, error) {
	w, err := s.Wallet(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// Wallet returns the full wallet record, creating it on first access.
func (s *Service) Wallet(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	if ownerID == "" {
		return ledger.Wallet{}, invalid("owner_id", "is required")
	}

	w, err := s.store.GetWallet(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ledger.ErrWalletNotFound) {
		return ledger.Wallet{}, storeError("get wallet", err)
	}

	w, err = s.store.CreateWallet(ctx, ownerID, s.policy.Currency, 0)
	if errors.Is(err, ledger.ErrWalletExists) {
		// Lost a creation race with another session of the same owner.
		w, err = s.store.GetWallet(ctx, ownerID)
	}
	if err != nil {
		return ledger.Wallet{}, storeError("create wallet", err)
	}

	logging.FromContext(ctx, s.logger).Info("wallet created",
		slog.String("owner_id", ownerID),
		slog.String("currency", w.Currency),
	)
	return w, nil
}

// GetTransactions lists the owner's ledger entries newest first. A non-positive
// limit uses the policy default; larger limits are capped.
func (s *Service) GetTransactions(ctx context.Context, ownerID string, limit int) ([]ledger.Transaction, error) {
	if ownerID == "" {
		return nil, invalid("owner_id", "is required")
	}
	if limit <= 0 {
		limit = s.policy.DefaultPageSize
	}
	if s.policy.MaxPageSize > 0 && limit > s.policy.MaxPageSize {
		limit = s.policy.MaxPageSize
	}

	txs, err := s.store.QueryTransactions(ctx, ownerID, ledger.Query{Limit: limit})
	if err != nil {
		return nil, storeError("query transactions", err)
	}
	return txs, nil
}

// issueReceipt is best-effort: failures are logged and never returned.
func (s *Service) issueReceipt(ctx context.Context, r receipt.Receipt) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptTimeout)
	defer cancel()

	code, err := s.receipts.Generate(ctx, r)
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("receipt generation failed",
			slog.String("owner_id", r.OwnerID),
			slog.String("transaction_id", r.TransactionID),
			slog.Any("error", err),
		)
		return ""
	}
	return code
}
