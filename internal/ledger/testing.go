package ledger

import (
	"time"

	"github.com/google/uuid"
)

// SeedBalance is a test helper that sets the balance for an owner when using the
// in-memory store, creating the wallet if needed.
func SeedBalance(s Store, ownerID string, amount int64) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w, exists := mem.wallets[ownerID]
		if !exists {
			w = Wallet{OwnerID: ownerID, Currency: DefaultCurrency, CreatedAt: mem.now()}
		}
		w.Balance = amount
		w.UpdatedAt = mem.now()
		mem.wallets[ownerID] = w
	}
}

// SeedTransaction is a test helper that appends an entry with its timestamp
// preserved when using the in-memory store. Balances are left untouched.
func SeedTransaction(s Store, entry Transaction) string {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return ""
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = StatusCompleted
	}
	mem.transactions = append(mem.transactions, entry)
	return entry.ID
}

// SetClock is a test helper that overrides the time source of the in-memory store.
func SetClock(s Store, now func() time.Time) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.now = now
	}
}
