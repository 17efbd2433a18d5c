package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// newPostgresTestStore connects to TEST_DATABASE_URL and applies the schema,
// skipping the test when no database is configured.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestPostgresStore_CreditDedupesOnClientTxID(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()
	owner := "pg-credit-" + uuid.NewString()

	if _, err := s.GetWallet(ctx, owner); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
	if _, err := s.CreateWallet(ctx, owner, "usd", 0); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := s.CreateWallet(ctx, owner, "USD", 0); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}

	req := CreditRequest{OwnerID: owner, Amount: 10_000, PaymentReference: "pi_1", ClientTxID: "pi_1"}
	first, err := s.Credit(ctx, req)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if first.Balance != 10_000 {
		t.Fatalf("expected balance 10000, got %d", first.Balance)
	}
	second, err := s.Credit(ctx, req)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if second.TransactionID != first.TransactionID || second.Balance != 10_000 {
		t.Fatalf("replay returned %+v", second)
	}

	txs, err := s.QueryTransactions(ctx, owner, Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(txs) != 1 || txs[0].PaymentReference != "pi_1" || txs[0].Kind != KindTopUp {
		t.Fatalf("unexpected log %+v", txs)
	}
}

func TestPostgresStore_TransferAtomicAndReplayable(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()
	from, to := "pg-from-"+uuid.NewString(), "pg-to-"+uuid.NewString()
	if _, err := s.CreateWallet(ctx, from, "USD", 500); err != nil {
		t.Fatalf("create sender: %v", err)
	}
	if _, err := s.CreateWallet(ctx, to, "USD", 0); err != nil {
		t.Fatalf("create recipient: %v", err)
	}

	req := TransferRequest{FromOwnerID: from, ToOwnerID: to, Amount: 150, Description: "rent", ClientTxID: "c-1"}
	res, err := s.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.FromBalance != 350 || res.ToBalance != 150 {
		t.Fatalf("expected 350/150, got %d/%d", res.FromBalance, res.ToBalance)
	}

	// Once the balance is below the amount, a replay still reports the committed transfer.
	if _, err := s.UpdateBalance(ctx, from, -300); err != nil {
		t.Fatalf("drain sender: %v", err)
	}
	again, err := s.Transfer(ctx, req)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if again.SentTransactionID != res.SentTransactionID || again.ReceivedTransactionID != res.ReceivedTransactionID {
		t.Fatalf("replay returned %+v", again)
	}

	if _, err := s.Transfer(ctx, TransferRequest{FromOwnerID: from, ToOwnerID: to, Amount: 51}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := s.Transfer(ctx, TransferRequest{FromOwnerID: from, ToOwnerID: from, Amount: 10}); !errors.Is(err, ErrSameOwner) {
		t.Fatalf("expected ErrSameOwner, got %v", err)
	}
	if _, err := s.UpdateBalance(ctx, from, -51); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	a, _ := s.GetWallet(ctx, from)
	b, _ := s.GetWallet(ctx, to)
	if a.Balance != 50 || b.Balance != 150 {
		t.Fatalf("expected 50/150, got %d/%d", a.Balance, b.Balance)
	}
	sent, err := s.QueryTransactions(ctx, from, Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(sent) != 1 || sent[0].Amount != -150 || sent[0].CounterpartyID != to {
		t.Fatalf("unexpected sender log %+v", sent)
	}
}

func TestPostgresStore_OppositeTransfersDoNotDeadlock(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()
	a, b := "pg-a-"+uuid.NewString(), "pg-b-"+uuid.NewString()
	for _, owner := range []string{a, b} {
		if _, err := s.CreateWallet(ctx, owner, "USD", 1_000); err != nil {
			t.Fatalf("create %s: %v", owner, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Transfer(ctx, TransferRequest{FromOwnerID: a, ToOwnerID: b, Amount: 10})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := s.Transfer(ctx, TransferRequest{FromOwnerID: b, ToOwnerID: a, Amount: 10})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("transfer: %v", err)
		}
	}

	wa, _ := s.GetWallet(ctx, a)
	wb, _ := s.GetWallet(ctx, b)
	if wa.Balance+wb.Balance != 2_000 {
		t.Fatalf("money was not conserved: %d + %d", wa.Balance, wb.Balance)
	}
}
