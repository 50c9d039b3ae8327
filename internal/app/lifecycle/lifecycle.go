// Package lifecycle implements the task lifecycle manager: the state
// machine that carries a task from posting through claim, execution,
// result submission, verification, and settlement or dispute.
//
//	Posted → Claimed → Submitted → {Accepted | Disputed}
//	Disputed → {Resolved-Accept | Resolved-Reject}
//	Accepted / Resolved-Accept → Settled
//
// A Claimed task reverts to Posted if the claim expires before a
// result arrives; a Resolved-Reject task also returns to Posted so
// another worker can pick it up. Verification strictness is gated by
// the worker's reputation tier: trusted workers skip proof checks,
// known workers get probabilistic audits, and newcomers are verified
// on every submission.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh-network/taskmesh/internal/domain"
	"github.com/taskmesh-network/taskmesh/internal/infra/metrics"
	"github.com/taskmesh-network/taskmesh/internal/infra/reputation"
)

// Config controls the lifecycle manager.
type Config struct {
	// ClaimWindow: how long a worker may hold a claim before it
	// reverts to Posted.
	ClaimWindow time.Duration

	// AuditRate: probability that an AUDIT-tier submission is
	// re-verified (0..1).
	AuditRate float64
}

// DefaultConfig returns production lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		ClaimWindow: 5 * time.Minute,
		AuditRate:   0.10,
	}
}

// Payer settles a bounty to the worker once a task is accepted.
// The channel manager provides an off-chain implementation; the
// fallback pays out of the on-ledger escrow.
type Payer interface {
	PayBounty(ctx context.Context, taskID, requester, worker string, bounty int64) error
}

// Disputer opens a dispute against a submitted result. Implemented by
// the dispute resolver; verification failures escalate through it
// rather than failing the submission outright.
type Disputer interface {
	OpenDispute(taskID, challenger string, stake int64) error
}

// Archiver persists terminal tasks out of the live store. Implemented
// by infra/sqlite; nil disables archiving.
type Archiver interface {
	ArchiveTask(t domain.Task) error
}

// taskState pairs a task with its own lock so claims on different
// tasks never contend and claims on the same task serialize.
type taskState struct {
	mu sync.Mutex
	t  domain.Task
}

// Manager drives every live task on this node.
type Manager struct {
	mu     sync.RWMutex
	config Config
	tasks  map[string]*taskState

	workers  *reputation.Ledger
	ledger   domain.SettlementLedger
	proofs   domain.ProofBackend
	payer    Payer
	disputer Disputer
	archive  Archiver

	// Injectable clock and audit coin-flip
	now       func() time.Time
	auditRoll func() float64
}

// NewManager creates a task lifecycle manager.
func NewManager(cfg Config, workers *reputation.Ledger, ledger domain.SettlementLedger, proofs domain.ProofBackend, payer Payer) *Manager {
	return &Manager{
		config:    cfg,
		tasks:     make(map[string]*taskState),
		workers:   workers,
		ledger:    ledger,
		proofs:    proofs,
		payer:     payer,
		now:       time.Now,
		auditRoll: rand.Float64,
	}
}

// SetDisputer wires the dispute resolver. Without one, verification
// failures reject the submission directly.
func (m *Manager) SetDisputer(d Disputer) { m.disputer = d }

// SetArchiver wires terminal-task persistence.
func (m *Manager) SetArchiver(a Archiver) { m.archive = a }

// ─── Posting ────────────────────────────────────────────────────────────────

// PostTask validates the spec, escrows the bounty from the requester's
// ledger balance, and publishes the task.
func (m *Manager) PostTask(spec domain.TaskSpec) (string, error) {
	if spec.Bounty <= 0 || !spec.Deadline.After(m.now()) || spec.Requester == "" {
		return "", domain.ErrInvalidTaskSpec
	}

	if err := m.ledger.Lock(spec.Requester, spec.Bounty); err != nil {
		return "", fmt.Errorf("escrow bounty: %w", err)
	}

	id := uuid.NewString()
	ts := &taskState{t: domain.Task{
		ID:         id,
		Requester:  spec.Requester,
		Type:       spec.Type,
		InputRef:   spec.InputRef,
		OutputSpec: spec.OutputSpec,
		Bounty:     spec.Bounty,
		Deadline:   spec.Deadline,
		Status:     domain.TaskPosted,
		CreatedAt:  m.now(),
	}}

	m.mu.Lock()
	m.tasks[id] = ts
	m.mu.Unlock()

	metrics.TasksPosted.WithLabelValues(string(spec.Type)).Inc()
	return id, nil
}

// Get returns a copy of a live task.
func (m *Manager) Get(taskID string) (*domain.Task, error) {
	ts, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	cp := ts.t
	return &cp, nil
}

// ─── Claiming ───────────────────────────────────────────────────────────────

// ClaimTask gives the worker a time-bounded exclusive right to execute
// the task. The status check and transition happen under the task's
// lock, so exactly one of any number of concurrent claimants wins.
func (m *Manager) ClaimTask(taskID, worker string) (*domain.ClaimToken, error) {
	if m.workers.Banned(worker) {
		return nil, domain.ErrWorkerBanned
	}

	ts, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.t.Status != domain.TaskPosted {
		return nil, domain.ErrAlreadyClaimed
	}

	now := m.now()
	ts.t.Status = domain.TaskClaimed
	ts.t.ClaimedBy = worker
	ts.t.ClaimedAt = now
	ts.t.ClaimExpiry = now.Add(m.config.ClaimWindow)

	metrics.TasksClaimed.Inc()
	return &domain.ClaimToken{TaskID: taskID, Worker: worker, Expires: ts.t.ClaimExpiry}, nil
}

// ExpireClaim reverts a timed-out claim to Posted. Invoked by the
// daemon's background sweep; a no-op if the claim is still live or a
// result already arrived.
func (m *Manager) ExpireClaim(taskID string) error {
	ts, err := m.lookup(taskID)
	if err != nil {
		return err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.t.ClaimExpired(m.now()) {
		return nil
	}
	m.releaseClaimLocked(ts)
	metrics.ClaimsExpired.Inc()
	return nil
}

// SweepExpiredClaims expires every timed-out claim and returns how
// many it reverted.
func (m *Manager) SweepExpiredClaims() int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	swept := 0
	now := m.now()
	for _, id := range ids {
		ts, err := m.lookup(id)
		if err != nil {
			continue
		}
		ts.mu.Lock()
		if ts.t.ClaimExpired(now) {
			m.releaseClaimLocked(ts)
			metrics.ClaimsExpired.Inc()
			swept++
		}
		ts.mu.Unlock()
	}
	return swept
}

// ReleaseClaim voluntarily gives a claim back, returning the task to
// Posted. Runner failures (unsupported type, execution error) land here.
func (m *Manager) ReleaseClaim(taskID, worker string) error {
	ts, err := m.lookup(taskID)
	if err != nil {
		return err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.t.Status != domain.TaskClaimed {
		return domain.ErrAlreadyClaimed
	}
	if ts.t.ClaimedBy != worker {
		return domain.ErrNotClaimant
	}
	m.releaseClaimLocked(ts)
	return nil
}

// releaseClaimLocked resets claim state. Caller holds ts.mu.
func (m *Manager) releaseClaimLocked(ts *taskState) {
	ts.t.Status = domain.TaskPosted
	ts.t.ClaimedBy = ""
	ts.t.ClaimedAt = time.Time{}
	ts.t.ClaimExpiry = time.Time{}
	ts.t.OutputRef = ""
	ts.t.OutputHash = ""
}

// ─── Execution ──────────────────────────────────────────────────────────────

// ExecuteAndSubmit runs the claimed task on the worker's runner and
// submits the result with a proof. Runner failures release the claim
// so the task returns to Posted for another worker.
func (m *Manager) ExecuteAndSubmit(ctx context.Context, taskID, worker string, runner domain.TaskRunner) error {
	t, err := m.Get(taskID)
	if err != nil {
		return err
	}

	outputRef, computeTime, err := runner.Execute(ctx, t.Type, t.InputRef, t.OutputSpec)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedTaskType) || errors.Is(err, domain.ErrExecutionFailed) {
			if relErr := m.ReleaseClaim(taskID, worker); relErr != nil {
				return fmt.Errorf("release after runner failure: %w", relErr)
			}
			return err
		}
		return fmt.Errorf("execute task %s: %w", taskID, err)
	}

	proof, err := m.proofs.Prove([]byte(t.InputRef), []byte(outputRef), nil)
	if err != nil {
		return fmt.Errorf("prove task %s: %w", taskID, err)
	}
	return m.SubmitResult(taskID, worker, outputRef, OutputHash(outputRef), proof, computeTime)
}

// OutputHash derives the canonical hash of an output reference, the
// value disputes compare verifier recomputations against.
func OutputHash(outputRef string) string {
	sum := sha256.Sum256([]byte(outputRef))
	return hex.EncodeToString(sum[:])
}

// ─── Submission & Verification ──────────────────────────────────────────────

// SubmitResult records the worker's output and routes it through
// verification per the worker's reputation tier. A passing (or
// waived) check moves the task to Accepted; a failing check is a
// state transition into the dispute flow, not an error.
func (m *Manager) SubmitResult(taskID, worker, outputRef, outputHash string, proof []byte, computeTime time.Duration) error {
	ts, err := m.lookup(taskID)
	if err != nil {
		return err
	}

	ts.mu.Lock()

	if ts.t.Status != domain.TaskClaimed {
		ts.mu.Unlock()
		return domain.ErrAlreadyClaimed
	}
	if ts.t.ClaimedBy != worker {
		ts.mu.Unlock()
		return domain.ErrNotClaimant
	}
	now := m.now()
	if now.After(ts.t.Deadline) {
		m.releaseClaimLocked(ts)
		ts.mu.Unlock()
		return domain.ErrDeadlineExceeded
	}

	mode := m.workers.VerificationFor(worker)
	ts.t.Status = domain.TaskSubmitted
	ts.t.VerificationMode = mode
	ts.t.OutputRef = outputRef
	ts.t.OutputHash = outputHash
	ts.t.ComputeTime = computeTime
	ts.t.SubmittedAt = now
	requester := ts.t.Requester
	ts.mu.Unlock()

	verified, checked := m.verify(mode, proof, outputHash)
	if checked && !verified {
		// Treated identically to a challenged result.
		log.Printf("[lifecycle] proof check failed for task %s (worker %s, mode %s) — escalating", taskID, worker, mode)
		if m.disputer != nil {
			if err := m.disputer.OpenDispute(taskID, requester, 0); err != nil {
				return fmt.Errorf("escalate failed verification: %w", err)
			}
			return nil
		}
		ts.mu.Lock()
		ts.t.Status = domain.TaskDisputed
		ts.mu.Unlock()
		return nil
	}

	ts.mu.Lock()
	// A challenge may have raced the proof check and legally moved the
	// task to Disputed; commit Accepted only from Submitted.
	if ts.t.Status == domain.TaskSubmitted {
		ts.t.Status = domain.TaskAccepted
	}
	ts.mu.Unlock()
	return nil
}

// verify runs the proof check the mode calls for. checked is false
// when the tier (or the audit coin-flip) waived verification.
func (m *Manager) verify(mode domain.VerificationMode, proof []byte, outputHash string) (verified, checked bool) {
	switch mode {
	case domain.VerifyNone:
		return true, false
	case domain.VerifyAudit:
		if m.auditRoll() >= m.config.AuditRate {
			return true, false
		}
	}

	ok, err := m.proofs.Verify(proof, []byte(outputHash))
	outcome := "pass"
	if err != nil || !ok {
		outcome = "fail"
	}
	metrics.VerificationsRun.WithLabelValues(string(mode), outcome).Inc()
	return outcome == "pass", true
}

// ─── Dispute Hooks ──────────────────────────────────────────────────────────
// Called by the dispute resolver; payments for disputed outcomes are
// handled there.

// MarkDisputed moves a task into the dispute flow. Accepted tasks are
// still contestable until settlement pays them out.
func (m *Manager) MarkDisputed(taskID string) error {
	ts, err := m.lookup(taskID)
	if err != nil {
		return err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.t.Status != domain.TaskSubmitted && ts.t.Status != domain.TaskAccepted {
		return domain.ErrTaskNotSubmitted
	}
	ts.t.Status = domain.TaskDisputed
	return nil
}

// FinalizeDispute applies a dispute outcome. Accept settles the task
// (payment already distributed by the resolver); Reject returns it to
// Posted for re-claim with the bounty still escrowed.
func (m *Manager) FinalizeDispute(taskID string, accept bool) error {
	ts, err := m.lookup(taskID)
	if err != nil {
		return err
	}

	ts.mu.Lock()

	if ts.t.Status != domain.TaskDisputed {
		ts.mu.Unlock()
		return domain.ErrDisputeResolved
	}

	if !accept {
		ts.t.Status = domain.TaskResolvedReject
		m.releaseClaimLocked(ts) // Back to Posted, claim cleared
		ts.mu.Unlock()
		return nil
	}

	ts.t.Status = domain.TaskSettled
	ts.t.SettledAt = m.now()
	t := ts.t
	ts.mu.Unlock()

	metrics.TasksSettled.WithLabelValues(string(t.Type)).Inc()
	m.archiveTask(t)
	return nil
}

// ─── Settlement ─────────────────────────────────────────────────────────────

// SettleTask pays the bounty to the worker of an Accepted task, bumps
// the worker's reputation, and archives the task.
func (m *Manager) SettleTask(ctx context.Context, taskID string) error {
	ts, err := m.lookup(taskID)
	if err != nil {
		return err
	}

	ts.mu.Lock()

	if ts.t.Status != domain.TaskAccepted {
		ts.mu.Unlock()
		return domain.ErrConcurrencyConflict
	}
	t := ts.t
	ts.mu.Unlock()

	if err := m.payer.PayBounty(ctx, t.ID, t.Requester, t.ClaimedBy, t.Bounty); err != nil {
		return fmt.Errorf("pay bounty for %s: %w", t.ID, err)
	}
	if err := m.workers.RecordAccepted(t.ClaimedBy); err != nil && !errors.Is(err, domain.ErrWorkerNotFound) {
		return err
	}

	ts.mu.Lock()
	ts.t.Status = domain.TaskSettled
	ts.t.SettledAt = m.now()
	t = ts.t
	ts.mu.Unlock()

	metrics.TasksSettled.WithLabelValues(string(t.Type)).Inc()
	m.archiveTask(t)
	return nil
}

// SweepAccepted settles every task sitting in Accepted. Run by the
// daemon so settlement does not depend on the submitter staying online.
func (m *Manager) SweepAccepted(ctx context.Context) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tasks))
	for id, ts := range m.tasks {
		ts.mu.Lock()
		if ts.t.Status == domain.TaskAccepted {
			ids = append(ids, id)
		}
		ts.mu.Unlock()
	}
	m.mu.RUnlock()

	settled := 0
	for _, id := range ids {
		if err := m.SettleTask(ctx, id); err == nil {
			settled++
		} else if !errors.Is(err, domain.ErrConcurrencyConflict) {
			log.Printf("[lifecycle] settle %s: %v", id, err)
		}
	}
	return settled
}

// PostedTasks returns up to limit claimable tasks, oldest first.
// Worker agents poll this to find work.
func (m *Manager) PostedTasks(limit int) []domain.Task {
	m.mu.RLock()
	var posted []domain.Task
	for _, ts := range m.tasks {
		ts.mu.Lock()
		if ts.t.Status == domain.TaskPosted {
			posted = append(posted, ts.t)
		}
		ts.mu.Unlock()
	}
	m.mu.RUnlock()

	sort.Slice(posted, func(i, j int) bool {
		if posted[i].CreatedAt.Equal(posted[j].CreatedAt) {
			return posted[i].ID < posted[j].ID
		}
		return posted[i].CreatedAt.Before(posted[j].CreatedAt)
	})
	if limit > 0 && len(posted) > limit {
		posted = posted[:limit]
	}
	return posted
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (m *Manager) lookup(taskID string) (*taskState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return ts, nil
}

// archiveTask persists a terminal task and evicts it from the live set.
func (m *Manager) archiveTask(t domain.Task) {
	if m.archive != nil {
		if err := m.archive.ArchiveTask(t); err != nil {
			log.Printf("[lifecycle] archive task %s: %v", t.ID, err)
			return // Keep it live rather than lose it
		}
	}
	m.mu.Lock()
	delete(m.tasks, t.ID)
	m.mu.Unlock()
}

// Stats returns aggregate live-task statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, ts := range m.tasks {
		ts.mu.Lock()
		s.Live++
		switch ts.t.Status {
		case domain.TaskPosted:
			s.Posted++
		case domain.TaskClaimed:
			s.Claimed++
		case domain.TaskDisputed:
			s.Disputed++
		}
		s.EscrowedBounty += ts.t.Bounty
		ts.mu.Unlock()
	}
	return s
}

// Stats holds aggregate task data.
type Stats struct {
	Live           int   `json:"live"`
	Posted         int   `json:"posted"`
	Claimed        int   `json:"claimed"`
	Disputed       int   `json:"disputed"`
	EscrowedBounty int64 `json:"escrowed_bounty"`
}
