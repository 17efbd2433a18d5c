package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWalletNotFound is returned when no wallet exists for the requested owner.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletExists is returned by CreateWallet when the owner already has a wallet.
	ErrWalletExists = errors.New("wallet exists")

	// ErrInsufficientFunds occurs when a mutation would take a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrInvalidAmount indicates a non-positive amount or a signed amount that
	// disagrees with its direction.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrSameOwner is returned by Transfer when sender and recipient are the same wallet.
	ErrSameOwner = errors.New("cannot transfer to the same wallet")
)

// Direction tells whether a transaction added value to or removed value from a wallet.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// Status of a logged transaction.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// Kind records which wallet operation produced a transaction.
type Kind string

const (
	KindTopUp    Kind = "top_up"
	KindTransfer Kind = "transfer"
)

// DefaultCurrency is used when a wallet is created without an explicit currency.
const DefaultCurrency = "USD"

// Wallet is the custodial balance of a single owner, in minor units.
type Wallet struct {
	OwnerID   string
	Balance   int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an immutable ledger entry. Amount is positive for received
// entries and negative for sent entries.
type Transaction struct {
	ID               string
	OwnerID          string
	Direction        Direction
	Amount           int64
	Description      string
	Status           Status
	Kind             Kind
	CounterpartyID   string
	PaymentReference string
	ClientTxID       string
	Timestamp        time.Time
}

// Magnitude returns the absolute amount moved by the transaction.
func (t Transaction) Magnitude() int64 {
	if t.Amount < 0 {
		return -t.Amount
	}
	return t.Amount
}

// Query narrows QueryTransactions. Results are always newest first.
type Query struct {
	Limit int
	Since time.Time
}

// CreditRequest describes an external inflow such as a card top-up.
type CreditRequest struct {
	OwnerID          string
	Amount           int64
	Kind             Kind
	Description      string
	PaymentReference string
	ClientTxID       string
}

// CreditResult captures the outcome of a credit posting.
type CreditResult struct {
	TransactionID string
	Balance       int64
	Timestamp     time.Time
}

// TransferRequest describes a wallet-to-wallet movement of funds.
type TransferRequest struct {
	FromOwnerID string
	ToOwnerID   string
	Amount      int64
	Description string
	ClientTxID  string
}

// TransferResult captures the outcome of a transfer posting.
type TransferResult struct {
	SentTransactionID     string
	ReceivedTransactionID string
	FromBalance           int64
	ToBalance             int64
	Timestamp             time.Time
}

// Store defines the contract implemented by ledger backends (memory, Postgres,
// Firestore). Every balance mutation is an atomic read-check-write, so a
// committed balance is never negative.
type Store interface {
	GetWallet(ctx context.Context, ownerID string) (Wallet, error)
	CreateWallet(ctx context.Context, ownerID, currency string, initial int64) (Wallet, error)
	UpdateBalance(ctx context.Context, ownerID string, delta int64) (Wallet, error)
	AppendTransaction(ctx context.Context, entry Transaction) (string, error)
	QueryTransactions(ctx context.Context, ownerID string, q Query) ([]Transaction, error)

	// Credit increments a balance and appends the matching received entry in a
	// single atomic write. A repeated ClientTxID returns the original result
	// with ErrDuplicateTransaction.
	Credit(ctx context.Context, req CreditRequest) (CreditResult, error)

	// Transfer debits the sender, credits the recipient and appends both
	// entries as one unit; either everything applies or nothing does.
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}

func validateEntry(entry Transaction) error {
	if entry.OwnerID == "" {
		return errors.New("owner id is required")
	}
	switch entry.Direction {
	case DirectionReceived:
		if entry.Amount <= 0 {
			return ErrInvalidAmount
		}
	case DirectionSent:
		if entry.Amount >= 0 {
			return ErrInvalidAmount
		}
	default:
		return errors.New("unknown transaction direction")
	}
	return nil
}

func normalizeCurrency(currency string) string {
	if currency == "" {
		return DefaultCurrency
	}
	return currency
}
