// Package settlement provides the in-process settlement ledger: an
// atomic account store with locked balances and idempotent transfers.
//
// In production the authoritative ledger is an external chain; this
// implementation stands in for it in local mode and in tests, and it
// honors the same contract — all-or-nothing mutations, and duplicate
// submission of the same transfer reference never double-pays. Every
// mutation is appended to a journal so settlements stay auditable.
package settlement

import (
	"crypto/sha256"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// JournalEntry records one ledger mutation.
type JournalEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Op        string    `json:"op"` // LOCK | UNLOCK | TRANSFER | DEPOSIT
	Account   string    `json:"account"`
	Peer      string    `json:"peer,omitempty"` // Transfer counterparty
	Amount    int64     `json:"amount"`
	Ref       string    `json:"ref,omitempty"` // Idempotency key
}

// Journal persists ledger mutations. Implemented by infra/sqlite.
type Journal interface {
	AppendSettlement(e JournalEntry) error
}

// account splits a balance into free and locked portions.
type account struct {
	free   int64
	locked int64
}

// Ledger is the in-memory settlement ledger.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
	applied  map[string]bool // Transfer refs already applied
	seed     [32]byte        // Rolls forward with every mutation
	journal  Journal         // Optional; nil disables persistence

	// Injectable clock
	now func() time.Time
}

// NewLedger creates a settlement ledger. journal may be nil.
func NewLedger(journal Journal) *Ledger {
	return &Ledger{
		accounts: make(map[string]*account),
		applied:  make(map[string]bool),
		journal:  journal,
		now:      time.Now,
	}
}

var _ domain.SettlementLedger = (*Ledger)(nil)

// Deposit credits an account's free balance. Local-mode faucet; on a
// real ledger deposits arrive from outside the marketplace.
func (l *Ledger) Deposit(acct string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.get(acct).free += amount
	l.record(JournalEntry{Op: "DEPOSIT", Account: acct, Amount: amount})
	return nil
}

// Lock reserves amount from the account's free balance.
func (l *Ledger) Lock(acct string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.get(acct)
	if a.free < amount {
		return domain.ErrInsufficientFunds
	}
	a.free -= amount
	a.locked += amount
	l.record(JournalEntry{Op: "LOCK", Account: acct, Amount: amount})
	return nil
}

// Unlock releases a reservation back to the free balance.
func (l *Ledger) Unlock(acct string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.get(acct)
	if a.locked < amount {
		return fmt.Errorf("unlock %d exceeds locked balance %d of %s", amount, a.locked, acct)
	}
	a.locked -= amount
	a.free += amount
	l.record(JournalEntry{Op: "UNLOCK", Account: acct, Amount: amount})
	return nil
}

// Transfer moves amount between free balances. ref is the idempotency
// key: a ref that was already applied is a silent no-op, so retrying a
// settlement can never double-pay.
func (l *Ledger) Transfer(from, to string, amount int64, ref string) error {
	if amount < 0 {
		return fmt.Errorf("transfer amount must be non-negative, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ref != "" && l.applied[ref] {
		return nil // Already settled
	}

	src := l.get(from)
	if src.free < amount {
		return domain.ErrInsufficientFunds
	}
	src.free -= amount
	l.get(to).free += amount
	if ref != "" {
		l.applied[ref] = true
	}
	l.record(JournalEntry{Op: "TRANSFER", Account: from, Peer: to, Amount: amount, Ref: ref})
	return nil
}

// Balance returns the free balance of an account.
func (l *Ledger) Balance(acct string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(acct).free, nil
}

// Locked returns the locked balance of an account.
func (l *Ledger) Locked(acct string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(acct).locked
}

// Seed returns entropy derived from the ledger's mutation history.
// It changes with every committed operation, so it cannot be predicted
// ahead of the block of activity that feeds it.
func (l *Ledger) Seed() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]byte, len(l.seed))
	copy(out, l.seed[:])
	return out
}

// get returns the account, creating it at zero on first reference.
// Caller must hold l.mu.
func (l *Ledger) get(acct string) *account {
	a, ok := l.accounts[acct]
	if !ok {
		a = &account{}
		l.accounts[acct] = a
	}
	return a
}

// record rolls the seed forward and journals the entry. Caller must
// hold l.mu.
func (l *Ledger) record(e JournalEntry) {
	e.Timestamp = l.now()

	h := sha256.New()
	h.Write(l.seed[:])
	fmt.Fprintf(h, "%s|%s|%s|%d|%s", e.Op, e.Account, e.Peer, e.Amount, e.Ref)
	copy(l.seed[:], h.Sum(nil))

	if l.journal != nil {
		if err := l.journal.AppendSettlement(e); err != nil {
			// Journal loss does not fail the mutation; the in-memory
			// ledger remains the source of truth for this process.
			log.Printf("[settlement] journal append failed: %v", err)
		}
	}
}
