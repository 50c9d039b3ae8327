package registry

import (
	"testing"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

func newTestRegistry(ttl time.Duration) (*Registry, *time.Time) {
	r := New(Config{TTL: ttl})
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	return r, &clock
}

func zeroRep(string) int64 { return 0 }

func TestRegistry_AnnounceAndFind(t *testing.T) {
	r, _ := newTestRegistry(10 * time.Minute)

	r.Announce("alice", domain.Capability{Type: domain.TaskInference, SpeedMultiplier: 1.0, CostPerUnit: 5})
	r.Announce("bob", domain.Capability{Type: domain.TaskInference, SpeedMultiplier: 2.0, CostPerUnit: 8})
	r.Announce("carol", domain.Capability{Type: domain.TaskRender, SpeedMultiplier: 1.0, CostPerUnit: 3})

	got := r.Find(domain.Requirement{Type: domain.TaskInference}, zeroRep)
	if len(got) != 2 {
		t.Fatalf("found %d candidates, want 2", len(got))
	}

	// Render requirement must not surface inference workers.
	got = r.Find(domain.Requirement{Type: domain.TaskRender}, zeroRep)
	if len(got) != 1 || got[0].Worker != "carol" {
		t.Errorf("render find = %+v, want [carol]", got)
	}
}

func TestRegistry_SpeedAndCostBounds(t *testing.T) {
	r, _ := newTestRegistry(10 * time.Minute)

	r.Announce("slow", domain.Capability{Type: domain.TaskBatch, SpeedMultiplier: 0.5, CostPerUnit: 1})
	r.Announce("pricey", domain.Capability{Type: domain.TaskBatch, SpeedMultiplier: 3.0, CostPerUnit: 100})
	r.Announce("fit", domain.Capability{Type: domain.TaskBatch, SpeedMultiplier: 1.5, CostPerUnit: 10})

	got := r.Find(domain.Requirement{Type: domain.TaskBatch, MinSpeed: 1.0, MaxCost: 50}, zeroRep)
	if len(got) != 1 || got[0].Worker != "fit" {
		t.Errorf("bounded find = %+v, want [fit]", got)
	}
}

func TestRegistry_Ordering(t *testing.T) {
	r, _ := newTestRegistry(10 * time.Minute)

	r.Announce("cheap", domain.Capability{Type: domain.TaskInference, SpeedMultiplier: 1, CostPerUnit: 2})
	r.Announce("famous", domain.Capability{Type: domain.TaskInference, SpeedMultiplier: 1, CostPerUnit: 9})
	r.Announce("mid", domain.Capability{Type: domain.TaskInference, SpeedMultiplier: 1, CostPerUnit: 5})

	rep := map[string]int64{"cheap": 10, "famous": 200, "mid": 10}
	got := r.Find(domain.Requirement{Type: domain.TaskInference}, func(w string) int64 { return rep[w] })

	want := []string{"famous", "cheap", "mid"} // Rep desc, then cost asc
	for i, c := range got {
		if c.Worker != want[i] {
			t.Errorf("position %d = %s, want %s", i, c.Worker, want[i])
		}
	}
}

func TestRegistry_TTLExpiry(t *testing.T) {
	r, clock := newTestRegistry(10 * time.Minute)

	r.Announce("alice", domain.Capability{Type: domain.TaskInference, SpeedMultiplier: 1, CostPerUnit: 1})

	*clock = clock.Add(11 * time.Minute)
	got := r.Find(domain.Requirement{Type: domain.TaskInference}, zeroRep)
	if len(got) != 0 {
		t.Errorf("expired entry still discoverable: %+v", got)
	}

	// Re-announcing revives discovery.
	r.Announce("alice", domain.Capability{Type: domain.TaskInference, SpeedMultiplier: 1, CostPerUnit: 1})
	got = r.Find(domain.Requirement{Type: domain.TaskInference}, zeroRep)
	if len(got) != 1 {
		t.Errorf("re-announced entry not discoverable")
	}
}

func TestRegistry_Prune(t *testing.T) {
	r, clock := newTestRegistry(10 * time.Minute)

	r.Announce("alice", domain.Capability{Type: domain.TaskInference, SpeedMultiplier: 1, CostPerUnit: 1})
	r.Announce("bob", domain.Capability{Type: domain.TaskRender, SpeedMultiplier: 1, CostPerUnit: 1})

	*clock = clock.Add(5 * time.Minute)
	r.Announce("bob", domain.Capability{Type: domain.TaskRender, SpeedMultiplier: 1, CostPerUnit: 1})

	*clock = clock.Add(6 * time.Minute) // alice is 11m stale, bob 6m
	if removed := r.Prune(); removed != 1 {
		t.Errorf("pruned %d entries, want 1", removed)
	}
	if r.Size() != 1 {
		t.Errorf("size after prune = %d, want 1", r.Size())
	}
}
