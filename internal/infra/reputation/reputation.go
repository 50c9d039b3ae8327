// Package reputation implements the reputation and stake ledger.
//
// Every worker carries a reputation score (earned one accepted task at
// a time) and a stake (milli-credits at risk). The score gates how
// strictly results are verified; the stake is what confirmed fraud
// forfeits. Workers are never hard-deleted — a banned worker persists
// with BannedUntil set so its history survives the ban.
package reputation

import (
	"sort"
	"sync"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// Config controls the stake ledger.
type Config struct {
	// MinStake: milli-credits a worker must stake to register.
	MinStake int64

	// BanPeriod: how long a confirmed-fraud ban lasts.
	BanPeriod time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinStake:  10_000, // 10 credits
		BanPeriod: 7 * 24 * time.Hour,
	}
}

// Ledger tracks worker stake, reputation, and ban status.
type Ledger struct {
	mu      sync.RWMutex
	config  Config
	workers map[string]*domain.Worker

	// Injectable clock
	now func() time.Time
}

// NewLedger creates a reputation and stake ledger.
func NewLedger(cfg Config) *Ledger {
	return &Ledger{
		config:  cfg,
		workers: make(map[string]*domain.Worker),
		now:     time.Now,
	}
}

// Register adds a worker with its initial stake and capabilities.
// The stake must already be locked on the settlement ledger by the
// caller — this ledger only records it.
func (l *Ledger) Register(address string, stake int64, caps []domain.Capability) error {
	if stake < l.config.MinStake {
		return domain.ErrInsufficientStake
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.workers[address]; exists {
		return domain.ErrWorkerExists
	}
	l.workers[address] = &domain.Worker{
		Address:      address,
		Capabilities: caps,
		Stake:        stake,
		RegisteredAt: l.now(),
	}
	return nil
}

// Get returns a copy of the worker record.
func (l *Ledger) Get(address string) (*domain.Worker, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.workers[address]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	cp := *w
	return &cp, nil
}

// Reputation returns the current score, or 0 for unknown workers.
func (l *Ledger) Reputation(address string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if w, ok := l.workers[address]; ok {
		return w.Reputation
	}
	return 0
}

// Banned reports whether the worker is currently banned.
func (l *Ledger) Banned(address string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.workers[address]
	return ok && w.Banned(l.now())
}

// VerificationFor returns the verification mode the worker's current
// reputation tier earns.
func (l *Ledger) VerificationFor(address string) domain.VerificationMode {
	return domain.VerificationFor(l.Reputation(address))
}

// RecordAccepted bumps reputation after an accepted, settled task.
func (l *Ledger) RecordAccepted(address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.workers[address]
	if !ok {
		return domain.ErrWorkerNotFound
	}
	w.Reputation++
	w.TasksDone++
	return nil
}

// Slash confirms fraud: the worker's entire stake is forfeited,
// reputation resets to zero, and the worker is banned for the
// configured period. Returns the slashed amount for redistribution.
func (l *Ledger) Slash(address string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.workers[address]
	if !ok {
		return 0, domain.ErrWorkerNotFound
	}
	slashed := w.Stake
	w.Stake = 0
	w.Reputation = 0
	w.BannedUntil = l.now().Add(l.config.BanPeriod)
	return slashed, nil
}

// Eligible returns non-banned workers with reputation at or above
// minReputation, excluding the given addresses. Used to build the
// verifier pool for disputes. Sorted for deterministic selection input.
func (l *Ledger) Eligible(minReputation int64, exclude ...string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	skip := make(map[string]bool, len(exclude))
	for _, a := range exclude {
		skip[a] = true
	}

	now := l.now()
	var pool []string
	for addr, w := range l.workers {
		if skip[addr] || w.Banned(now) || w.Reputation < minReputation {
			continue
		}
		pool = append(pool, addr)
	}
	sort.Strings(pool)
	return pool
}

// Stats returns aggregate ledger statistics.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s Stats
	now := l.now()
	for _, w := range l.workers {
		s.Workers++
		s.TotalStake += w.Stake
		if w.Banned(now) {
			s.Banned++
		}
	}
	return s
}

// Stats holds aggregate ledger data.
type Stats struct {
	Workers    int   `json:"workers"`
	Banned     int   `json:"banned"`
	TotalStake int64 `json:"total_stake"`
}
