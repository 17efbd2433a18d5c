package wallet

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/receipt"
)

// TransferState tracks a transfer through its lifecycle.
type TransferState string

const (
	TransferInitiated TransferState = "initiated"
	TransferValidated TransferState = "validated"
	TransferDebited   TransferState = "debited"
	TransferCredited  TransferState = "credited"
	TransferLogged    TransferState = "logged"
	TransferComplete  TransferState = "complete"
	TransferRejected  TransferState = "rejected"
)

// SendMoneyInput captures the data needed to move funds between wallets.
type SendMoneyInput struct {
	FromOwnerID string
	ToOwnerID   string
	Amount      int64
	Description string
	ClientTxID  string
}

// SendMoneyResult describes the ledger outcome of a transfer.
type SendMoneyResult struct {
	Success               bool
	State                 TransferState
	ClientTxID            string
	SentTransactionID     string
	ReceivedTransactionID string
	FromBalance           int64
	ToBalance             int64
}

type transferTrace struct {
	state TransferState
	log   *slog.Logger
}

func (t *transferTrace) advance(next TransferState) {
	t.log.Debug("transfer state", slog.String("from", string(t.state)), slog.String("to", string(next)))
	t.state = next
}

// SendMoney debits the sender and credits the recipient as one ledger
// transfer. Any failure leaves both wallets and both logs untouched.
func (s *Service) SendMoney(ctx context.Context, input SendMoneyInput) (SendMoneyResult, error) {
	replayable := input.ClientTxID != ""
	if !replayable {
		input.ClientTxID = uuid.NewString()
	}
	log := logging.FromContext(ctx, s.logger).With(
		slog.String("from_owner_id", input.FromOwnerID),
		slog.String("to_owner_id", input.ToOwnerID),
		slog.String("client_tx_id", input.ClientTxID),
	)
	trace := &transferTrace{state: TransferInitiated, log: log}

	reject := func(err error) (SendMoneyResult, error) {
		trace.advance(TransferRejected)
		return SendMoneyResult{State: TransferRejected, ClientTxID: input.ClientTxID}, err
	}

	if err := s.validateSendMoney(input); err != nil {
		return reject(err)
	}
	trace.advance(TransferValidated)

	sender, err := s.Wallet(ctx, input.FromOwnerID)
	if err != nil {
		return reject(err)
	}
	// Caller-supplied ids may be replays; the store dedupes them before its own balance check.
	if sender.Balance < input.Amount && !replayable {
		log.Info("transfer rejected", slog.Int64("amount", input.Amount), slog.Int64("balance", sender.Balance))
		return reject(ErrInsufficientFunds)
	}
	if _, err := s.Wallet(ctx, input.ToOwnerID); err != nil {
		return reject(err)
	}

	res, err := s.store.Transfer(ctx, ledger.TransferRequest{
		FromOwnerID: input.FromOwnerID,
		ToOwnerID:   input.ToOwnerID,
		Amount:      input.Amount,
		Description: input.Description,
		ClientTxID:  input.ClientTxID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrDuplicateTransaction):
			return SendMoneyResult{
				Success:               true,
				State:                 TransferComplete,
				ClientTxID:            input.ClientTxID,
				SentTransactionID:     res.SentTransactionID,
				ReceivedTransactionID: res.ReceivedTransactionID,
				FromBalance:           res.FromBalance,
				ToBalance:             res.ToBalance,
			}, ErrDuplicateTransaction
		case errors.Is(err, ledger.ErrInsufficientFunds):
			log.Info("transfer rejected", slog.Int64("amount", input.Amount), slog.Any("error", err))
			return reject(ErrInsufficientFunds)
		default:
			log.Error("transfer failed", slog.Any("error", err))
			return reject(storeError("transfer", err))
		}
	}
	// The store commits debit, credit and both entries together.
	trace.advance(TransferDebited)
	trace.advance(TransferCredited)
	trace.advance(TransferLogged)

	for _, r := range []receipt.Receipt{
		{
			OwnerID:       input.FromOwnerID,
			TransactionID: res.SentTransactionID,
			Amount:        -input.Amount,
			Currency:      sender.Currency,
			Type:          receipt.TypeTransferSent,
			Description:   input.Description,
			PaymentMethod: "wallet",
			Status:        string(ledger.StatusCompleted),
			Timestamp:     res.Timestamp,
		},
		{
			OwnerID:       input.ToOwnerID,
			TransactionID: res.ReceivedTransactionID,
			Amount:        input.Amount,
			Currency:      sender.Currency,
			Type:          receipt.TypeTransferReceived,
			Description:   input.Description,
			PaymentMethod: "wallet",
			Status:        string(ledger.StatusCompleted),
			Timestamp:     res.Timestamp,
		},
	} {
		s.issueReceipt(ctx, r)
	}
	trace.advance(TransferComplete)

	log.Info("transfer completed",
		slog.Int64("amount", input.Amount),
		slog.Int64("from_balance", res.FromBalance),
		slog.Int64("to_balance", res.ToBalance),
	)

	return SendMoneyResult{
		Success:               true,
		State:                 trace.state,
		ClientTxID:            input.ClientTxID,
		SentTransactionID:     res.SentTransactionID,
		ReceivedTransactionID: res.ReceivedTransactionID,
		FromBalance:           res.FromBalance,
		ToBalance:             res.ToBalance,
	}, nil
}

func (s *Service) validateSendMoney(input SendMoneyInput) error {
	switch {
	case input.FromOwnerID == "":
		return invalid("from_owner_id", "is required")
	case input.ToOwnerID == "":
		return invalid("to_owner_id", "is required")
	case input.FromOwnerID == input.ToOwnerID:
		return invalid("to_owner_id", "cannot send money to yourself")
	case input.Amount <= 0:
		return invalid("amount", "must be positive")
	case input.Amount > s.policy.MaxTransfer:
		return invalid("amount", "exceeds the transfer limit of "+FormatAmount(s.policy.MaxTransfer))
	case utf8.RuneCountInString(input.Description) > s.policy.MaxDescriptionLength:
		return invalid("description", "is too long")
	}
	return nil
}
