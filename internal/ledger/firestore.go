package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	walletsCollection      = "wallets"
	transactionsCollection = "walletTransactions"
)

// entryNamespace scopes the deterministic document IDs of idempotent entries.
var entryNamespace = uuid.MustParse("5f0c7f4e-6a36-4b8e-9a1e-2f3d8c1b7a90")

type firestoreWallet struct {
	OwnerID   string    `firestore:"ownerId"`
	Balance   int64     `firestore:"balance"`
	Currency  string    `firestore:"currency"`
	CreatedAt time.Time `firestore:"createdAt,serverTimestamp"`
	UpdatedAt time.Time `firestore:"updatedAt,serverTimestamp"`
}

type firestoreEntry struct {
	OwnerID          string    `firestore:"ownerId"`
	Direction        string    `firestore:"direction"`
	Amount           int64     `firestore:"amount"`
	Description      string    `firestore:"description"`
	Status           string    `firestore:"status"`
	Kind             string    `firestore:"kind"`
	CounterpartyID   string    `firestore:"counterpartyId,omitempty"`
	PaymentReference string    `firestore:"paymentReference,omitempty"`
	ClientTxID       string    `firestore:"clientTxId,omitempty"`
	Timestamp        time.Time `firestore:"timestamp,serverTimestamp"`
}

// FirestoreStore keeps wallets under wallets/{ownerId} and the append-only log
// in walletTransactions. Every mutation runs inside a Firestore transaction so
// the balance check and the write commit together.
type FirestoreStore struct {
	client *firestore.Client
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore constructs a Firestore-backed ledger store.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) walletRef(ownerID string) *firestore.DocumentRef {
	return s.client.Collection(walletsCollection).Doc(ownerID)
}

// entryRef returns a deterministic reference for entries carrying a client
// transaction id so replays collide on the same document.
func (s *FirestoreStore) entryRef(e Transaction) *firestore.DocumentRef {
	col := s.client.Collection(transactionsCollection)
	if e.ClientTxID == "" {
		return col.NewDoc()
	}
	return col.Doc(entryDocID(e.Kind, e.Direction, e.OwnerID, e.ClientTxID))
}

func entryDocID(kind Kind, dir Direction, ownerID, clientTxID string) string {
	key := fmt.Sprintf("%s|%s|%s|%s", kind, dir, ownerID, clientTxID)
	return uuid.NewSHA1(entryNamespace, []byte(key)).String()
}

// GetWallet reads wallets/{ownerID}.
func (s *FirestoreStore) GetWallet(ctx context.Context, ownerID string) (Wallet, error) {
	snap, err := s.walletRef(ownerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	return decodeWallet(snap)
}

// CreateWallet creates wallets/{ownerID}, failing if it already exists.
func (s *FirestoreStore) CreateWallet(ctx context.Context, ownerID, currency string, initial int64) (Wallet, error) {
	if initial < 0 {
		return Wallet{}, ErrInvalidAmount
	}
	_, err := s.walletRef(ownerID).Create(ctx, firestoreWallet{
		OwnerID:  ownerID,
		Balance:  initial,
		Currency: normalizeCurrency(currency),
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return Wallet{}, ErrWalletExists
		}
		return Wallet{}, err
	}
	return s.GetWallet(ctx, ownerID)
}

// UpdateBalance applies a signed delta inside a transaction.
func (s *FirestoreStore) UpdateBalance(ctx context.Context, ownerID string, delta int64) (Wallet, error) {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		w, err := s.txWallet(tx, ownerID)
		if err != nil {
			return err
		}
		if w.Balance+delta < 0 {
			return ErrInsufficientFunds
		}
		return tx.Update(s.walletRef(ownerID), balanceUpdate(w.Balance+delta))
	})
	if err != nil {
		return Wallet{}, err
	}
	return s.GetWallet(ctx, ownerID)
}

// AppendTransaction writes a standalone entry.
func (s *FirestoreStore) AppendTransaction(ctx context.Context, entry Transaction) (string, error) {
	if err := validateEntry(entry); err != nil {
		return "", err
	}
	ref := s.entryRef(entry)
	if _, err := ref.Create(ctx, encodeEntry(entry)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ref.ID, ErrDuplicateTransaction
		}
		return "", err
	}
	return ref.ID, nil
}

// QueryTransactions lists an owner's entries newest first. It relies on a
// composite index on (ownerId, timestamp desc).
func (s *FirestoreStore) QueryTransactions(ctx context.Context, ownerID string, q Query) ([]Transaction, error) {
	query := s.client.Collection(transactionsCollection).Where("ownerId", "==", ownerID)
	if !q.Since.IsZero() {
		query = query.Where("timestamp", ">=", q.Since)
	}
	query = query.OrderBy("timestamp", firestore.Desc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	out := make([]Transaction, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		t, err := decodeEntry(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Credit increments a wallet and creates the received entry atomically.
func (s *FirestoreStore) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	if req.Amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}
	kind := req.Kind
	if kind == "" {
		kind = KindTopUp
	}
	entry := Transaction{
		OwnerID:          req.OwnerID,
		Direction:        DirectionReceived,
		Amount:           req.Amount,
		Description:      req.Description,
		Status:           StatusCompleted,
		Kind:             kind,
		PaymentReference: req.PaymentReference,
		ClientTxID:       req.ClientTxID,
	}
	ref := s.entryRef(entry)

	var res CreditResult
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		w, err := s.txWallet(tx, req.OwnerID)
		if err != nil {
			return err
		}
		if req.ClientTxID != "" {
			existing, found, err := txEntry(tx, ref)
			if err != nil {
				return err
			}
			if found {
				res = CreditResult{TransactionID: existing.ID, Balance: w.Balance, Timestamp: existing.Timestamp}
				return ErrDuplicateTransaction
			}
		}

		res = CreditResult{TransactionID: ref.ID, Balance: w.Balance + req.Amount}
		if err := tx.Update(s.walletRef(req.OwnerID), balanceUpdate(res.Balance)); err != nil {
			return err
		}
		return tx.Create(ref, encodeEntry(entry))
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return res, ErrDuplicateTransaction
		}
		return CreditResult{}, err
	}
	res.Timestamp = time.Now().UTC()
	return res, nil
}

// Transfer moves funds between two wallets in one Firestore transaction.
func (s *FirestoreStore) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if req.Amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if req.FromOwnerID == req.ToOwnerID {
		return TransferResult{}, ErrSameOwner
	}
	sent := Transaction{
		OwnerID:        req.FromOwnerID,
		Direction:      DirectionSent,
		Amount:         -req.Amount,
		Description:    req.Description,
		Status:         StatusCompleted,
		Kind:           KindTransfer,
		CounterpartyID: req.ToOwnerID,
		ClientTxID:     req.ClientTxID,
	}
	received := Transaction{
		OwnerID:        req.ToOwnerID,
		Direction:      DirectionReceived,
		Amount:         req.Amount,
		Description:    req.Description,
		Status:         StatusCompleted,
		Kind:           KindTransfer,
		CounterpartyID: req.FromOwnerID,
		ClientTxID:     req.ClientTxID,
	}
	sentRef, receivedRef := s.entryRef(sent), s.entryRef(received)

	var res TransferResult
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		from, err := s.txWallet(tx, req.FromOwnerID)
		if err != nil {
			return err
		}
		to, err := s.txWallet(tx, req.ToOwnerID)
		if err != nil {
			return err
		}
		if req.ClientTxID != "" {
			existing, found, err := txEntry(tx, sentRef)
			if err != nil {
				return err
			}
			if found {
				res = TransferResult{
					SentTransactionID:     existing.ID,
					ReceivedTransactionID: receivedRef.ID,
					FromBalance:           from.Balance,
					ToBalance:             to.Balance,
					Timestamp:             existing.Timestamp,
				}
				return ErrDuplicateTransaction
			}
		}
		if from.Balance < req.Amount {
			return ErrInsufficientFunds
		}

		res = TransferResult{
			SentTransactionID:     sentRef.ID,
			ReceivedTransactionID: receivedRef.ID,
			FromBalance:           from.Balance - req.Amount,
			ToBalance:             to.Balance + req.Amount,
		}
		if err := tx.Update(s.walletRef(req.FromOwnerID), balanceUpdate(res.FromBalance)); err != nil {
			return err
		}
		if err := tx.Update(s.walletRef(req.ToOwnerID), balanceUpdate(res.ToBalance)); err != nil {
			return err
		}
		if err := tx.Create(sentRef, encodeEntry(sent)); err != nil {
			return err
		}
		return tx.Create(receivedRef, encodeEntry(received))
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return res, ErrDuplicateTransaction
		}
		return TransferResult{}, err
	}
	res.Timestamp = time.Now().UTC()
	return res, nil
}

func (s *FirestoreStore) txWallet(tx *firestore.Transaction, ownerID string) (Wallet, error) {
	snap, err := tx.Get(s.walletRef(ownerID))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	return decodeWallet(snap)
}

func txEntry(tx *firestore.Transaction, ref *firestore.DocumentRef) (Transaction, bool, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	t, err := decodeEntry(snap)
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}

func balanceUpdate(balance int64) []firestore.Update {
	return []firestore.Update{
		{Path: "balance", Value: balance},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
}

func encodeEntry(t Transaction) firestoreEntry {
	st := t.Status
	if st == "" {
		st = StatusCompleted
	}
	return firestoreEntry{
		OwnerID:          t.OwnerID,
		Direction:        string(t.Direction),
		Amount:           t.Amount,
		Description:      t.Description,
		Status:           string(st),
		Kind:             string(t.Kind),
		CounterpartyID:   t.CounterpartyID,
		PaymentReference: t.PaymentReference,
		ClientTxID:       t.ClientTxID,
	}
}

func decodeWallet(snap *firestore.DocumentSnapshot) (Wallet, error) {
	var fw firestoreWallet
	if err := snap.DataTo(&fw); err != nil {
		return Wallet{}, fmt.Errorf("decode wallet %s: %w", snap.Ref.ID, err)
	}
	return Wallet{
		OwnerID:   fw.OwnerID,
		Balance:   fw.Balance,
		Currency:  fw.Currency,
		CreatedAt: fw.CreatedAt.UTC(),
		UpdatedAt: fw.UpdatedAt.UTC(),
	}, nil
}

func decodeEntry(snap *firestore.DocumentSnapshot) (Transaction, error) {
	var fe firestoreEntry
	if err := snap.DataTo(&fe); err != nil {
		return Transaction{}, fmt.Errorf("decode transaction %s: %w", snap.Ref.ID, err)
	}
	return Transaction{
		ID:               snap.Ref.ID,
		OwnerID:          fe.OwnerID,
		Direction:        Direction(fe.Direction),
		Amount:           fe.Amount,
		Description:      fe.Description,
		Status:           Status(fe.Status),
		Kind:             Kind(fe.Kind),
		CounterpartyID:   fe.CounterpartyID,
		PaymentReference: fe.PaymentReference,
		ClientTxID:       fe.ClientTxID,
		Timestamp:        fe.Timestamp.UTC(),
	}, nil
}
