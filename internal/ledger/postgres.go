package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const selectTransactionColumns = `SELECT id, owner_id, direction, amount, description, status, kind,
        COALESCE(counterparty_id, ''), COALESCE(payment_reference, ''), COALESCE(client_tx_id, ''), created_at
        FROM wallet_transactions`

// PostgresStore persists wallets and their transaction log in PostgreSQL. Balance
// mutations lock the wallet rows so concurrent writers serialize per owner.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the wallet tables and indexes when they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// GetWallet fetches the wallet of an owner.
func (s *PostgresStore) GetWallet(ctx context.Context, ownerID string) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT owner_id, balance, currency, created_at, updated_at
        FROM wallets WHERE owner_id = $1`, ownerID)
	return scanWallet(row)
}

// CreateWallet inserts a wallet with the provided opening balance.
func (s *PostgresStore) CreateWallet(ctx context.Context, ownerID, currency string, initial int64) (Wallet, error) {
	if initial < 0 {
		return Wallet{}, ErrInvalidAmount
	}
	row := s.db.QueryRow(ctx, `INSERT INTO wallets (owner_id, balance, currency)
        VALUES ($1, $2, $3)
        RETURNING owner_id, balance, currency, created_at, updated_at`, ownerID, initial, normalizeCurrency(currency))
	w, err := scanWallet(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Wallet{}, ErrWalletExists
		}
		return Wallet{}, err
	}
	return w, nil
}

// UpdateBalance applies a signed delta under a row lock.
func (s *PostgresStore) UpdateBalance(ctx context.Context, ownerID string, delta int64) (Wallet, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Wallet{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := lockWallet(ctx, tx, ownerID)
	if err != nil {
		return Wallet{}, err
	}
	if balance+delta < 0 {
		return Wallet{}, ErrInsufficientFunds
	}

	row := tx.QueryRow(ctx, `UPDATE wallets SET balance = balance + $2, updated_at = now()
        WHERE owner_id = $1
        RETURNING owner_id, balance, currency, created_at, updated_at`, ownerID, delta)
	w, err := scanWallet(row)
	if err != nil {
		return Wallet{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// AppendTransaction writes a standalone ledger entry.
func (s *PostgresStore) AppendTransaction(ctx context.Context, entry Transaction) (string, error) {
	if err := validateEntry(entry); err != nil {
		return "", err
	}
	id, _, err := insertEntry(ctx, s.db, entry)
	if err != nil {
		return "", err
	}
	return id, nil
}

// QueryTransactions lists an owner's entries newest first.
func (s *PostgresStore) QueryTransactions(ctx context.Context, ownerID string, q Query) ([]Transaction, error) {
	query := selectTransactionColumns + ` WHERE owner_id = $1`
	args := []any{ownerID}
	if !q.Since.IsZero() {
		args = append(args, q.Since.UTC())
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Credit increments a wallet and appends the received entry in one transaction.
func (s *PostgresStore) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	if req.Amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}
	kind := req.Kind
	if kind == "" {
		kind = KindTopUp
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CreditResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := lockWallet(ctx, tx, req.OwnerID)
	if err != nil {
		return CreditResult{}, err
	}

	if req.ClientTxID != "" {
		existing, err := findByClientTx(ctx, tx, req.OwnerID, kind, DirectionReceived, req.ClientTxID)
		if err == nil {
			return CreditResult{TransactionID: existing.ID, Balance: balance, Timestamp: existing.Timestamp}, ErrDuplicateTransaction
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return CreditResult{}, err
		}
	}

	var newBalance int64
	if err := tx.QueryRow(ctx, `UPDATE wallets SET balance = balance + $2, updated_at = now()
        WHERE owner_id = $1 RETURNING balance`, req.OwnerID, req.Amount).Scan(&newBalance); err != nil {
		return CreditResult{}, err
	}

	id, ts, err := insertEntry(ctx, tx, Transaction{
		OwnerID:          req.OwnerID,
		Direction:        DirectionReceived,
		Amount:           req.Amount,
		Description:      req.Description,
		Status:           StatusCompleted,
		Kind:             kind,
		PaymentReference: req.PaymentReference,
		ClientTxID:       req.ClientTxID,
	})
	if err != nil {
		return CreditResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CreditResult{}, err
	}
	return CreditResult{TransactionID: id, Balance: newBalance, Timestamp: ts}, nil
}

// Transfer records a balanced debit/credit pair between two wallets.
func (s *PostgresStore) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if req.Amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if req.FromOwnerID == req.ToOwnerID {
		return TransferResult{}, ErrSameOwner
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransferResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Consistent lock order prevents deadlocks between opposite transfers.
	first, second := req.FromOwnerID, req.ToOwnerID
	if first > second {
		first, second = second, first
	}
	balances := make(map[string]int64, 2)
	for _, owner := range []string{first, second} {
		bal, err := lockWallet(ctx, tx, owner)
		if err != nil {
			return TransferResult{}, err
		}
		balances[owner] = bal
	}

	if req.ClientTxID != "" {
		sent, err := findByClientTx(ctx, tx, req.FromOwnerID, KindTransfer, DirectionSent, req.ClientTxID)
		if err == nil {
			received, err := findByClientTx(ctx, tx, req.ToOwnerID, KindTransfer, DirectionReceived, req.ClientTxID)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return TransferResult{}, err
			}
			return TransferResult{
				SentTransactionID:     sent.ID,
				ReceivedTransactionID: received.ID,
				FromBalance:           balances[req.FromOwnerID],
				ToBalance:             balances[req.ToOwnerID],
				Timestamp:             sent.Timestamp,
			}, ErrDuplicateTransaction
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return TransferResult{}, err
		}
	}

	if balances[req.FromOwnerID] < req.Amount {
		return TransferResult{}, ErrInsufficientFunds
	}

	var res TransferResult
	const adjust = `UPDATE wallets SET balance = balance + $2, updated_at = now() WHERE owner_id = $1 RETURNING balance`
	if err := tx.QueryRow(ctx, adjust, req.FromOwnerID, -req.Amount).Scan(&res.FromBalance); err != nil {
		return TransferResult{}, err
	}
	if err := tx.QueryRow(ctx, adjust, req.ToOwnerID, req.Amount).Scan(&res.ToBalance); err != nil {
		return TransferResult{}, err
	}

	res.SentTransactionID, res.Timestamp, err = insertEntry(ctx, tx, Transaction{
		OwnerID:        req.FromOwnerID,
		Direction:      DirectionSent,
		Amount:         -req.Amount,
		Description:    req.Description,
		Status:         StatusCompleted,
		Kind:           KindTransfer,
		CounterpartyID: req.ToOwnerID,
		ClientTxID:     req.ClientTxID,
	})
	if err != nil {
		return TransferResult{}, err
	}
	res.ReceivedTransactionID, _, err = insertEntry(ctx, tx, Transaction{
		OwnerID:        req.ToOwnerID,
		Direction:      DirectionReceived,
		Amount:         req.Amount,
		Description:    req.Description,
		Status:         StatusCompleted,
		Kind:           KindTransfer,
		CounterpartyID: req.FromOwnerID,
		ClientTxID:     req.ClientTxID,
	})
	if err != nil {
		return TransferResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransferResult{}, err
	}
	return res, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lockWallet(ctx context.Context, tx pgx.Tx, ownerID string) (int64, error) {
	var balance int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, err
	}
	return balance, nil
}

func findByClientTx(ctx context.Context, tx pgx.Tx, ownerID string, kind Kind, dir Direction, clientTxID string) (Transaction, error) {
	row := tx.QueryRow(ctx, selectTransactionColumns+` WHERE owner_id = $1 AND kind = $2 AND direction = $3 AND client_tx_id = $4`,
		ownerID, string(kind), string(dir), clientTxID)
	return scanTransaction(row)
}

func insertEntry(ctx context.Context, q querier, entry Transaction) (string, time.Time, error) {
	id := uuid.New()
	status := entry.Status
	if status == "" {
		status = StatusCompleted
	}
	var createdAt time.Time
	err := q.QueryRow(ctx, `INSERT INTO wallet_transactions
        (id, owner_id, direction, amount, description, status, kind, counterparty_id, payment_reference, client_tx_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''))
        RETURNING created_at`,
		id, entry.OwnerID, string(entry.Direction), entry.Amount, entry.Description, string(status), string(entry.Kind),
		entry.CounterpartyID, entry.PaymentReference, entry.ClientTxID).Scan(&createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", time.Time{}, ErrDuplicateTransaction
		}
		return "", time.Time{}, err
	}
	return id.String(), createdAt.UTC(), nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.OwnerID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t         Transaction
		id        uuid.UUID
		direction string
		status    string
		kind      string
	)
	if err := row.Scan(&id, &t.OwnerID, &direction, &t.Amount, &t.Description, &status, &kind,
		&t.CounterpartyID, &t.PaymentReference, &t.ClientTxID, &t.Timestamp); err != nil {
		return Transaction{}, err
	}
	t.ID = id.String()
	t.Direction = Direction(direction)
	t.Status = Status(status)
	t.Kind = Kind(kind)
	t.Timestamp = t.Timestamp.UTC()
	return t, nil
}
