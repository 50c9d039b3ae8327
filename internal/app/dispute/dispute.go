// Package dispute implements the dispute resolver: verifier selection,
// vote collection, and penalty distribution for challenged results.
//
// A challenge locks the challenger's stake and draws k verifiers from
// the eligible worker pool using entropy the parties cannot steer.
// Each verifier independently re-executes the task and votes with its
// recomputed output hash. A majority of matching votes clears the
// worker; a majority of mismatches — or a tie, or a vote timeout —
// resolves against the worker. The bias is deliberate: a false
// submission costs the network more than a false challenge.
package dispute

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/domain"
	"github.com/taskmesh-network/taskmesh/internal/infra/metrics"
	"github.com/taskmesh-network/taskmesh/internal/infra/reputation"
)

// Config controls dispute resolution.
type Config struct {
	// Verifiers: how many verifiers a challenge draws (k).
	Verifiers int

	// MinVerifierReputation: floor for the verifier pool.
	MinVerifierReputation int64

	// VoteTimeout: how long verifiers have before the dispute
	// defaults to Resolved-Reject.
	VoteTimeout time.Duration

	// VerifierFeePct: each verifier's fee as a percentage of the task
	// bounty.
	VerifierFeePct int64
}

// DefaultConfig returns production dispute defaults.
func DefaultConfig() Config {
	return Config{
		Verifiers:             3,
		MinVerifierReputation: 10,
		VoteTimeout:           2 * time.Minute,
		VerifierFeePct:        5,
	}
}

// Tasks is the slice of the task lifecycle the resolver drives.
// Implemented by the lifecycle manager.
type Tasks interface {
	Get(taskID string) (*domain.Task, error)
	MarkDisputed(taskID string) error
	FinalizeDispute(taskID string, accept bool) error
}

// Resolver coordinates all open disputes.
type Resolver struct {
	mu       sync.Mutex
	config   Config
	disputes map[string]*domain.Dispute // taskID → dispute

	tasks    Tasks
	workers  *reputation.Ledger
	ledger   domain.SettlementLedger
	selector domain.VerifierSelector

	// Injectable clock
	now func() time.Time
}

// NewResolver creates a dispute resolver.
func NewResolver(cfg Config, tasks Tasks, workers *reputation.Ledger, ledger domain.SettlementLedger, selector domain.VerifierSelector) *Resolver {
	return &Resolver{
		config:   cfg,
		disputes: make(map[string]*domain.Dispute),
		tasks:    tasks,
		workers:  workers,
		ledger:   ledger,
		selector: selector,
		now:      time.Now,
	}
}

// ─── Challenge ──────────────────────────────────────────────────────────────

// Challenge opens a dispute against a submitted result. The window
// stays open until the task settles, so a requester can contest a
// result that passed (or was waived from) automatic verification. The
// challenger's stake is locked for the life of the dispute; verifier
// selection is seeded from recent ledger history, so neither party can
// predict the draw ahead of time.
func (r *Resolver) Challenge(taskID, challenger string, stake int64) error {
	t, err := r.tasks.Get(taskID)
	if err != nil {
		return err
	}
	if t.Status != domain.TaskSubmitted && t.Status != domain.TaskAccepted {
		return domain.ErrTaskNotSubmitted
	}

	if stake > 0 {
		if err := r.ledger.Lock(challenger, stake); err != nil {
			return fmt.Errorf("lock challenger stake: %w", err)
		}
	}

	pool := r.workers.Eligible(r.config.MinVerifierReputation, t.ClaimedBy, challenger)
	if len(pool) == 0 {
		if stake > 0 {
			r.ledger.Unlock(challenger, stake)
		}
		return domain.ErrNoEligibleVerifiers
	}
	verifiers := r.selector.SelectRandom(pool, r.config.Verifiers, r.ledger.Seed())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, open := r.disputes[taskID]; open {
		if stake > 0 {
			r.ledger.Unlock(challenger, stake)
		}
		return domain.ErrTaskNotSubmitted
	}

	if err := r.tasks.MarkDisputed(taskID); err != nil {
		if stake > 0 {
			r.ledger.Unlock(challenger, stake)
		}
		return err
	}

	r.disputes[taskID] = &domain.Dispute{
		TaskID:           taskID,
		Challenger:       challenger,
		ChallengedWorker: t.ClaimedBy,
		Stake:            stake,
		SubmittedHash:    t.OutputHash,
		Verifiers:        verifiers,
		Votes:            make(map[string]domain.Vote),
		Status:           domain.DisputePending,
		OpenedAt:         r.now(),
		Deadline:         r.now().Add(r.config.VoteTimeout),
	}

	log.Printf("[dispute] task %s challenged by %s (stake %d, %d verifiers)", taskID, challenger, stake, len(verifiers))
	metrics.DisputesOpened.Inc()
	return nil
}

// OpenDispute implements the lifecycle manager's Disputer contract —
// failed proof checks escalate here as a zero-stake system challenge.
func (r *Resolver) OpenDispute(taskID, challenger string, stake int64) error {
	return r.Challenge(taskID, challenger, stake)
}

// Get returns a copy of a dispute.
func (r *Resolver) Get(taskID string) (*domain.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.disputes[taskID]
	if !ok {
		return nil, domain.ErrDisputeNotFound
	}
	cp := *d
	cp.Votes = make(map[string]domain.Vote, len(d.Votes))
	for k, v := range d.Votes {
		cp.Votes[k] = v
	}
	return &cp, nil
}

// ─── Voting ─────────────────────────────────────────────────────────────────

// SubmitVote records one selected verifier's recomputed output hash.
// The dispute resolves as soon as every verifier has voted.
func (r *Resolver) SubmitVote(taskID, verifier, recomputedHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.disputes[taskID]
	if !ok {
		return domain.ErrDisputeNotFound
	}
	if d.Status != domain.DisputePending {
		return domain.ErrDisputeResolved
	}
	if !d.IsVerifier(verifier) {
		return domain.ErrNotSelectedVerifier
	}
	if _, voted := d.Votes[verifier]; voted {
		return domain.ErrDuplicateVote
	}

	d.Votes[verifier] = domain.Vote{
		Verifier:          verifier,
		RecomputedHash:    recomputedHash,
		MatchesSubmission: recomputedHash == d.SubmittedHash,
		ReceivedAt:        r.now(),
	}

	if len(d.Votes) == len(d.Verifiers) {
		return r.resolveLocked(d, false)
	}
	return nil
}

// SweepTimeouts resolves every pending dispute whose vote deadline has
// passed. Insufficient votes fail toward caution: Resolved-Reject.
func (r *Resolver) SweepTimeouts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := 0
	now := r.now()
	for _, d := range r.disputes {
		if d.Status == domain.DisputePending && now.After(d.Deadline) {
			if err := r.resolveLocked(d, true); err != nil {
				log.Printf("[dispute] timeout resolution for %s: %v", d.TaskID, err)
				continue
			}
			resolved++
		}
	}
	return resolved
}

// ─── Resolution ─────────────────────────────────────────────────────────────

// resolveLocked applies the resolution rule and distributes penalties
// and rewards. Caller holds r.mu; a dispute resolves exactly once.
func (r *Resolver) resolveLocked(d *domain.Dispute, timedOut bool) error {
	matches := 0
	for _, v := range d.Votes {
		if v.MatchesSubmission {
			matches++
		}
	}

	// Strict majority of the full panel clears the worker. Ties and
	// timeouts favor the challenger.
	accept := !timedOut && 2*matches > len(d.Verifiers)

	t, err := r.tasks.Get(d.TaskID)
	if err != nil {
		return err
	}
	fee := t.Bounty * r.config.VerifierFeePct / 100

	if accept {
		r.resolveAccept(d, t, fee)
	} else {
		r.resolveReject(d, t, fee)
	}

	d.ResolvedAt = r.now()
	if accept {
		d.Status = domain.DisputeResolvedAccept
		metrics.DisputesResolved.WithLabelValues("accept").Inc()
	} else {
		d.Status = domain.DisputeResolvedReject
		metrics.DisputesResolved.WithLabelValues("reject").Inc()
	}
	log.Printf("[dispute] task %s resolved %s (%d/%d matching votes, timeout=%v)",
		d.TaskID, d.Status, matches, len(d.Verifiers), timedOut)
	return nil
}

// resolveAccept clears the worker: challenger stake comes back,
// verifiers are paid from the bounty, and the worker settles for the
// remainder.
func (r *Resolver) resolveAccept(d *domain.Dispute, t *domain.Task, fee int64) {
	if d.Stake > 0 {
		r.ledger.Unlock(d.Challenger, d.Stake)
	}

	if err := r.ledger.Unlock(t.Requester, t.Bounty); err != nil {
		log.Printf("[dispute] release escrow for %s: %v", t.ID, err)
	}
	paidFees := int64(0)
	for _, v := range d.Verifiers {
		if _, voted := d.Votes[v]; !voted {
			continue // Same rule as rejection: no fee without a vote
		}
		if err := r.ledger.Transfer(t.Requester, v, fee, "vfee:"+t.ID+":"+v); err != nil {
			log.Printf("[dispute] verifier fee to %s: %v", v, err)
			continue
		}
		paidFees += fee
	}
	if err := r.ledger.Transfer(t.Requester, d.ChallengedWorker, t.Bounty-paidFees, "settle:"+t.ID); err != nil {
		log.Printf("[dispute] settle worker for %s: %v", t.ID, err)
	}

	r.workers.RecordAccepted(d.ChallengedWorker)
	if err := r.tasks.FinalizeDispute(d.TaskID, true); err != nil {
		log.Printf("[dispute] finalize accept for %s: %v", d.TaskID, err)
	}
}

// resolveReject punishes the worker: full stake slash, ban, verifier
// fees from the slashed stake, and the remainder to the challenger as
// a bonus on top of the returned stake. The task goes back to Posted
// with its bounty still escrowed.
func (r *Resolver) resolveReject(d *domain.Dispute, t *domain.Task, fee int64) {
	slashed, err := r.workers.Slash(d.ChallengedWorker)
	if err != nil {
		log.Printf("[dispute] slash %s: %v", d.ChallengedWorker, err)
	}
	if slashed > 0 {
		metrics.WorkersSlashed.Inc()
		if err := r.ledger.Unlock(d.ChallengedWorker, slashed); err != nil {
			log.Printf("[dispute] release slashed stake of %s: %v", d.ChallengedWorker, err)
		}
	}

	remaining := slashed
	for _, v := range d.Verifiers {
		if _, voted := d.Votes[v]; !voted {
			continue // No fee for verifiers that never voted
		}
		pay := fee
		if pay > remaining {
			pay = remaining
		}
		if pay == 0 {
			break
		}
		if err := r.ledger.Transfer(d.ChallengedWorker, v, pay, "vfee:"+t.ID+":"+v); err != nil {
			log.Printf("[dispute] verifier fee to %s: %v", v, err)
			continue
		}
		remaining -= pay
	}

	if d.Stake > 0 {
		r.ledger.Unlock(d.Challenger, d.Stake)
	}
	if remaining > 0 {
		if err := r.ledger.Transfer(d.ChallengedWorker, d.Challenger, remaining, "bonus:"+t.ID); err != nil {
			log.Printf("[dispute] challenger bonus for %s: %v", t.ID, err)
		}
	}

	if err := r.tasks.FinalizeDispute(d.TaskID, false); err != nil {
		log.Printf("[dispute] finalize reject for %s: %v", d.TaskID, err)
	}
}

// Stats returns aggregate dispute statistics.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	for _, d := range r.disputes {
		s.Total++
		switch d.Status {
		case domain.DisputePending:
			s.Pending++
		case domain.DisputeResolvedReject:
			s.Rejected++
		}
	}
	return s
}

// Stats holds aggregate dispute data.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
}
