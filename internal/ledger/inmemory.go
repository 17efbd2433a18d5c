package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryStore struct {
	mu           sync.RWMutex
	now          func() time.Time
	wallets      map[string]Wallet
	transactions []Transaction
	credits      map[string]CreditResult
	transfers    map[string]TransferResult
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and local development.
func NewInMemory() Store {
	return &inMemoryStore{
		now:       func() time.Time { return time.Now().UTC() },
		wallets:   make(map[string]Wallet),
		credits:   make(map[string]CreditResult),
		transfers: make(map[string]TransferResult),
	}
}

func (s *inMemoryStore) GetWallet(_ context.Context, ownerID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *inMemoryStore) CreateWallet(_ context.Context, ownerID, currency string, initial int64) (Wallet, error) {
	if initial < 0 {
		return Wallet{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[ownerID]; exists {
		return Wallet{}, ErrWalletExists
	}
	now := s.now()
	w := Wallet{
		OwnerID:   ownerID,
		Balance:   initial,
		Currency:  normalizeCurrency(currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.wallets[ownerID] = w
	return w, nil
}

func (s *inMemoryStore) UpdateBalance(_ context.Context, ownerID string, delta int64) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyDelta(ownerID, delta)
}

func (s *inMemoryStore) AppendTransaction(_ context.Context, entry Transaction) (string, error) {
	if err := validateEntry(entry); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[entry.OwnerID]; !ok {
		return "", ErrWalletNotFound
	}
	return s.appendLocked(entry).ID, nil
}

func (s *inMemoryStore) QueryTransactions(_ context.Context, ownerID string, q Query) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Transaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.OwnerID != ownerID {
			continue
		}
		if !q.Since.IsZero() && tx.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, tx)
	}
	// Entries are appended in time order except for seeded fixtures.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *inMemoryStore) Credit(_ context.Context, req CreditRequest) (CreditResult, error) {
	if req.Amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}
	kind := req.Kind
	if kind == "" {
		kind = KindTopUp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := idempotencyKey(kind, req.OwnerID, req.ClientTxID)
	if req.ClientTxID != "" {
		if res, exists := s.credits[key]; exists {
			return res, ErrDuplicateTransaction
		}
	}

	w, err := s.applyDelta(req.OwnerID, req.Amount)
	if err != nil {
		return CreditResult{}, err
	}
	entry := s.appendLocked(Transaction{
		OwnerID:          req.OwnerID,
		Direction:        DirectionReceived,
		Amount:           req.Amount,
		Description:      req.Description,
		Status:           StatusCompleted,
		Kind:             kind,
		PaymentReference: req.PaymentReference,
		ClientTxID:       req.ClientTxID,
	})

	res := CreditResult{TransactionID: entry.ID, Balance: w.Balance, Timestamp: entry.Timestamp}
	if req.ClientTxID != "" {
		s.credits[key] = res
	}
	return res, nil
}

func (s *inMemoryStore) Transfer(_ context.Context, req TransferRequest) (TransferResult, error) {
	if req.Amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if req.FromOwnerID == req.ToOwnerID {
		return TransferResult{}, ErrSameOwner
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := idempotencyKey(KindTransfer, req.FromOwnerID, req.ClientTxID)
	if req.ClientTxID != "" {
		if res, exists := s.transfers[key]; exists {
			return res, ErrDuplicateTransaction
		}
	}

	from, ok := s.wallets[req.FromOwnerID]
	if !ok {
		return TransferResult{}, ErrWalletNotFound
	}
	to, ok := s.wallets[req.ToOwnerID]
	if !ok {
		return TransferResult{}, ErrWalletNotFound
	}
	if from.Balance < req.Amount {
		return TransferResult{}, ErrInsufficientFunds
	}

	now := s.now()
	from.Balance -= req.Amount
	from.UpdatedAt = now
	to.Balance += req.Amount
	to.UpdatedAt = now
	s.wallets[from.OwnerID] = from
	s.wallets[to.OwnerID] = to

	sent := s.appendLocked(Transaction{
		OwnerID:        from.OwnerID,
		Direction:      DirectionSent,
		Amount:         -req.Amount,
		Description:    req.Description,
		Status:         StatusCompleted,
		Kind:           KindTransfer,
		CounterpartyID: to.OwnerID,
		ClientTxID:     req.ClientTxID,
	})
	received := s.appendLocked(Transaction{
		OwnerID:        to.OwnerID,
		Direction:      DirectionReceived,
		Amount:         req.Amount,
		Description:    req.Description,
		Status:         StatusCompleted,
		Kind:           KindTransfer,
		CounterpartyID: from.OwnerID,
		ClientTxID:     req.ClientTxID,
	})

	res := TransferResult{
		SentTransactionID:     sent.ID,
		ReceivedTransactionID: received.ID,
		FromBalance:           from.Balance,
		ToBalance:             to.Balance,
		Timestamp:             now,
	}
	if req.ClientTxID != "" {
		s.transfers[key] = res
	}
	return res, nil
}

// applyDelta must be called with s.mu held.
func (s *inMemoryStore) applyDelta(ownerID string, delta int64) (Wallet, error) {
	w, ok := s.wallets[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	if w.Balance+delta < 0 {
		return Wallet{}, ErrInsufficientFunds
	}
	w.Balance += delta
	w.UpdatedAt = s.now()
	s.wallets[ownerID] = w
	return w, nil
}

// appendLocked must be called with s.mu held.
func (s *inMemoryStore) appendLocked(entry Transaction) Transaction {
	entry.ID = uuid.NewString()
	entry.Timestamp = s.now()
	if entry.Status == "" {
		entry.Status = StatusCompleted
	}
	s.transactions = append(s.transactions, entry)
	return entry
}

func idempotencyKey(kind Kind, ownerID, clientTxID string) string {
	return string(kind) + ":" + ownerID + ":" + clientTxID
}
