package ledger

import (
	"context"
	"errors"
	"os"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

func TestEntryDocIDDeterministic(t *testing.T) {
	a := entryDocID(KindTransfer, DirectionSent, "alice", "c-1")
	b := entryDocID(KindTransfer, DirectionSent, "alice", "c-1")
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if entryDocID(KindTransfer, DirectionReceived, "alice", "c-1") == a {
		t.Fatalf("direction must change the id")
	}
	if entryDocID(KindTopUp, DirectionSent, "alice", "c-1") == a {
		t.Fatalf("kind must change the id")
	}
}

func TestEncodeEntryDefaultsStatus(t *testing.T) {
	fe := encodeEntry(Transaction{OwnerID: "alice", Direction: DirectionReceived, Amount: 10, Kind: KindTopUp})
	if fe.Status != string(StatusCompleted) {
		t.Fatalf("expected completed status, got %q", fe.Status)
	}
	if fe.Direction != "received" || fe.Kind != "top_up" {
		t.Fatalf("unexpected encoding: %+v", fe)
	}
}

// newEmulatorStore connects to the Firestore emulator named by
// FIRESTORE_EMULATOR_HOST, skipping the test when it is not running.
func newEmulatorStore(t *testing.T) *FirestoreStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := firestore.NewClient(context.Background(), "walletledger-test")
	if err != nil {
		t.Fatalf("connect emulator: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewFirestoreStore(client)
}

func TestFirestoreStore_TransferAndReplay(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()
	from, to := "fs-from-"+uuid.NewString(), "fs-to-"+uuid.NewString()

	if _, err := s.CreateWallet(ctx, from, "USD", 500); err != nil {
		t.Fatalf("create sender: %v", err)
	}
	if _, err := s.CreateWallet(ctx, to, "USD", 0); err != nil {
		t.Fatalf("create recipient: %v", err)
	}
	if _, err := s.CreateWallet(ctx, to, "USD", 0); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}

	req := TransferRequest{FromOwnerID: from, ToOwnerID: to, Amount: 150, Description: "rent", ClientTxID: "c-1"}
	res, err := s.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.FromBalance != 350 || res.ToBalance != 150 {
		t.Fatalf("unexpected balances %d/%d", res.FromBalance, res.ToBalance)
	}

	again, err := s.Transfer(ctx, req)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if again.SentTransactionID != res.SentTransactionID || again.FromBalance != 350 {
		t.Fatalf("replay returned %+v", again)
	}

	if _, err := s.Transfer(ctx, TransferRequest{FromOwnerID: from, ToOwnerID: to, Amount: 1_000}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	if _, err := s.Transfer(ctx, TransferRequest{FromOwnerID: from, ToOwnerID: from, Amount: 100}); !errors.Is(err, ErrSameOwner) {
		t.Fatalf("expected ErrSameOwner, got %v", err)
	}

	sent, err := s.QueryTransactions(ctx, from, Query{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(sent) != 1 || sent[0].Amount != -150 || sent[0].Direction != DirectionSent {
		t.Fatalf("unexpected sender log %+v", sent)
	}
}

func TestFirestoreStore_CreditDedupesOnClientTxID(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()
	owner := "fs-credit-" + uuid.NewString()

	if _, err := s.GetWallet(ctx, owner); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
	if _, err := s.CreateWallet(ctx, owner, "USD", 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	req := CreditRequest{OwnerID: owner, Amount: 10_000, PaymentReference: "pi_1", ClientTxID: "pi_1"}
	first, err := s.Credit(ctx, req)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	second, err := s.Credit(ctx, req)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if second.TransactionID != first.TransactionID || second.Balance != 10_000 {
		t.Fatalf("replay returned %+v", second)
	}

	w, err := s.GetWallet(ctx, owner)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.Balance != 10_000 {
		t.Fatalf("expected balance 10000, got %d", w.Balance)
	}
}
