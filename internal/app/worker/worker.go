// Package worker implements the worker agent: the loop that turns a
// node into an earning participant. Each tick it stakes and registers
// the worker if it has not yet, refreshes the worker's capability
// announcements, polls for claimable tasks it can serve, and claims
// and executes them up to its concurrency budget.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/app/lifecycle"
	"github.com/taskmesh-network/taskmesh/internal/domain"
	"github.com/taskmesh-network/taskmesh/internal/infra/registry"
	"github.com/taskmesh-network/taskmesh/internal/infra/reputation"
)

// Config controls the worker agent.
type Config struct {
	// MaxConcurrent: how many tasks may execute at once.
	MaxConcurrent int

	// PollInterval: how often the agent looks for claimable work.
	PollInterval time.Duration

	// Stake: milli-credits locked as the registration stake.
	Stake int64
}

// DefaultConfig returns production agent defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		PollInterval:  5 * time.Second,
		Stake:         10_000, // 10 credits
	}
}

// SimRunner is the built-in stand-in runner used when no execution
// sandbox is attached: it produces a deterministic output reference
// after a short simulated compute delay. Useful for local clusters and
// soak tests; real deployments plug their sandbox in as the
// domain.TaskRunner.
type SimRunner struct{}

// Execute implements domain.TaskRunner.
func (SimRunner) Execute(ctx context.Context, taskType domain.TaskType, inputRef, _ string) (string, time.Duration, error) {
	start := time.Now()
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
	return fmt.Sprintf("%s#%s", inputRef, taskType), time.Since(start), nil
}

// RunnerFunc adapts a function to domain.TaskRunner.
type RunnerFunc func(ctx context.Context, taskType domain.TaskType, inputRef, outputSpec string) (string, time.Duration, error)

// Execute implements domain.TaskRunner.
func (f RunnerFunc) Execute(ctx context.Context, taskType domain.TaskType, inputRef, outputSpec string) (string, time.Duration, error) {
	return f(ctx, taskType, inputRef, outputSpec)
}

// Agent claims and executes marketplace tasks for one worker address.
type Agent struct {
	config   Config
	address  string
	caps     []domain.Capability
	tasks    *lifecycle.Manager
	registry *registry.Registry
	workers  *reputation.Ledger
	ledger   domain.SettlementLedger
	runner   domain.TaskRunner

	slots      chan struct{} // Concurrency budget
	wg         sync.WaitGroup
	registered bool // Only touched by the poll loop

	mu       sync.Mutex
	claimed  int64
	executed int64
	failed   int64
}

// New creates a worker agent.
func New(cfg Config, address string, caps []domain.Capability, tasks *lifecycle.Manager,
	reg *registry.Registry, workers *reputation.Ledger, ledger domain.SettlementLedger, runner domain.TaskRunner) *Agent {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Agent{
		config:   cfg,
		address:  address,
		caps:     caps,
		tasks:    tasks,
		registry: reg,
		workers:  workers,
		ledger:   ledger,
		runner:   runner,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Run polls until the context ends. Each tick re-announces
// capabilities and claims whatever eligible work fits the budget.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	log.Printf("[worker] agent %s running (%d slots, %d capabilities)",
		a.address, a.config.MaxConcurrent, len(a.caps))

	for {
		select {
		case <-ctx.Done():
			a.Drain()
			return
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single poll tick and returns how many claims it
// started. Execution happens in the background; Drain waits for it.
func (a *Agent) RunOnce(ctx context.Context) int {
	if err := a.ensureRegistered(); err != nil {
		// Unregistered workers still execute, at the FULL tier.
		log.Printf("[worker] registration pending for %s: %v", a.address, err)
	}
	for _, c := range a.caps {
		a.registry.Announce(a.address, c)
	}

	started := 0
	for _, t := range a.tasks.PostedTasks(2 * a.config.MaxConcurrent) {
		if !a.supports(t.Type) {
			continue
		}

		select {
		case a.slots <- struct{}{}:
		default:
			return started // Budget exhausted until something finishes
		}

		if _, err := a.tasks.ClaimTask(t.ID, a.address); err != nil {
			<-a.slots
			if errors.Is(err, domain.ErrAlreadyClaimed) {
				continue // Lost the race; normal under contention
			}
			log.Printf("[worker] claim %s: %v", t.ID, err)
			if errors.Is(err, domain.ErrWorkerBanned) {
				return started
			}
			continue
		}

		a.record(func() { a.claimed++ })
		started++

		a.wg.Add(1)
		go func(taskID string) {
			defer a.wg.Done()
			defer func() { <-a.slots }()
			a.execute(ctx, taskID)
		}(t.ID)
	}
	return started
}

// execute runs one claimed task through the runner and submits the
// result. Runner failures release the claim inside the manager.
func (a *Agent) execute(ctx context.Context, taskID string) {
	if err := a.tasks.ExecuteAndSubmit(ctx, taskID, a.address, a.runner); err != nil {
		a.record(func() { a.failed++ })
		log.Printf("[worker] execute %s: %v", taskID, err)
		return
	}
	a.record(func() { a.executed++ })
}

// ensureRegistered stakes and registers the worker on its first tick.
// Failures retry every tick, so a node that starts unfunded registers
// as soon as its account is topped up; until then its results face
// full verification and it earns no reputation.
func (a *Agent) ensureRegistered() error {
	if a.registered {
		return nil
	}
	if _, err := a.workers.Get(a.address); err == nil {
		a.registered = true
		return nil
	}

	if err := a.ledger.Lock(a.address, a.config.Stake); err != nil {
		return fmt.Errorf("lock registration stake: %w", err)
	}
	if err := a.workers.Register(a.address, a.config.Stake, a.caps); err != nil {
		a.ledger.Unlock(a.address, a.config.Stake)
		return fmt.Errorf("register: %w", err)
	}

	log.Printf("[worker] registered %s with stake %d", a.address, a.config.Stake)
	a.registered = true
	return nil
}

// Drain blocks until all in-flight executions finish.
func (a *Agent) Drain() {
	a.wg.Wait()
}

// supports reports whether any announced capability covers the type.
func (a *Agent) supports(t domain.TaskType) bool {
	for _, c := range a.caps {
		if c.Type == t {
			return true
		}
	}
	return false
}

func (a *Agent) record(f func()) {
	a.mu.Lock()
	f()
	a.mu.Unlock()
}

// Stats returns the agent's lifetime counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Claimed: a.claimed, Executed: a.executed, Failed: a.failed}
}

// Stats holds agent counters.
type Stats struct {
	Claimed  int64 `json:"claimed"`
	Executed int64 `json:"executed"`
	Failed   int64 `json:"failed"`
}
