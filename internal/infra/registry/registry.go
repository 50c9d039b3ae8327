// Package registry implements the capability registry: a TTL-indexed
// directory mapping task types to the workers currently advertising them.
//
// Workers announce their capabilities and must re-announce before the
// TTL lapses or they fall out of discovery. The directory is eventually
// consistent — each writer only touches its own entries, so there are
// no cross-writer conflicts to resolve.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// Config controls the registry.
type Config struct {
	// TTL: how long an announcement stays discoverable without refresh.
	TTL time.Duration
}

// DefaultConfig returns production registry defaults.
func DefaultConfig() Config {
	return Config{TTL: 10 * time.Minute}
}

// entry is one worker's announcement for one task type.
type entry struct {
	capability  domain.Capability
	refreshedAt time.Time
}

// Registry is the in-memory capability directory.
type Registry struct {
	mu      sync.RWMutex
	config  Config
	entries map[domain.TaskType]map[string]*entry // taskType → worker → entry

	// Injectable clock
	now func() time.Time
}

// New creates a capability registry.
func New(cfg Config) *Registry {
	return &Registry{
		config:  cfg,
		entries: make(map[domain.TaskType]map[string]*entry),
		now:     time.Now,
	}
}

// Announce records (or refreshes) a worker's capability. Announcing the
// same (worker, taskType) pair again resets the TTL clock.
func (r *Registry) Announce(worker string, cap domain.Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byWorker, ok := r.entries[cap.Type]
	if !ok {
		byWorker = make(map[string]*entry)
		r.entries[cap.Type] = byWorker
	}
	byWorker[worker] = &entry{capability: cap, refreshedAt: r.now()}
}

// Candidate pairs a worker address with its advertised capability and
// the reputation snapshot used for ordering.
type Candidate struct {
	Worker     string            `json:"worker"`
	Capability domain.Capability `json:"capability"`
	Reputation int64             `json:"reputation"`
}

// Find returns non-expired workers meeting the requirement, ordered by
// (reputation desc, cost asc). reputationOf supplies the current score
// for each candidate; unknown workers rank at zero.
func (r *Registry) Find(req domain.Requirement, reputationOf func(worker string) int64) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-r.config.TTL)

	var results []Candidate
	for worker, e := range r.entries[req.Type] {
		if e.refreshedAt.Before(cutoff) {
			continue
		}
		if e.capability.SpeedMultiplier < req.MinSpeed {
			continue
		}
		if req.MaxCost > 0 && e.capability.CostPerUnit > req.MaxCost {
			continue
		}
		results = append(results, Candidate{
			Worker:     worker,
			Capability: e.capability,
			Reputation: reputationOf(worker),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Reputation != results[j].Reputation {
			return results[i].Reputation > results[j].Reputation
		}
		if results[i].Capability.CostPerUnit != results[j].Capability.CostPerUnit {
			return results[i].Capability.CostPerUnit < results[j].Capability.CostPerUnit
		}
		return results[i].Worker < results[j].Worker // Deterministic order
	})
	return results
}

// Prune drops expired entries. Called by the daemon's periodic sweep;
// Find already filters expired entries, so pruning only bounds memory.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.config.TTL)
	removed := 0
	for taskType, byWorker := range r.entries {
		for worker, e := range byWorker {
			if e.refreshedAt.Before(cutoff) {
				delete(byWorker, worker)
				removed++
			}
		}
		if len(byWorker) == 0 {
			delete(r.entries, taskType)
		}
	}
	return removed
}

// Size returns the number of live announcements.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, byWorker := range r.entries {
		n += len(byWorker)
	}
	return n
}
