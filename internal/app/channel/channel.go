// Package channel implements the payment channel manager.
//
// A channel locks both parties' deposits on the settlement ledger once,
// then lets them trade value with signed off-chain state updates. Only
// opening, closing, and fraud payouts touch the ledger; everything in
// between is a version-numbered state both parties co-sign and hold.
//
// Economic security replaces cryptographic prevention: nothing stops a
// party from presenting an old, more favorable state at close time —
// but the counterparty holds a newer co-signed state, and submitting it
// as a fraud proof forfeits the cheater's entire locked balance. The
// penalty must exceed any conceivable gain from replaying stale state.
package channel

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh-network/taskmesh/internal/domain"
	"github.com/taskmesh-network/taskmesh/internal/infra/metrics"
	"github.com/taskmesh-network/taskmesh/internal/security"
)

// Config controls the channel manager.
type Config struct {
	// CosignTimeout bounds the wait for a counterparty's signature on
	// a proposed update. An unsigned proposal is simply abandoned — it
	// was never authoritative, so no funds move.
	CosignTimeout time.Duration
}

// DefaultConfig returns production channel defaults.
func DefaultConfig() Config {
	return Config{CosignTimeout: 10 * time.Second}
}

// Signer produces a party's signature over a channel state digest.
// The local party signs with its keypair; a remote party signs via the
// peer transport. The context carries the co-sign timeout.
type Signer interface {
	SignState(ctx context.Context, s *domain.SignedState) ([]byte, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, s *domain.SignedState) ([]byte, error)

// SignState implements Signer.
func (f SignerFunc) SignState(ctx context.Context, s *domain.SignedState) ([]byte, error) {
	return f(ctx, s)
}

// KeypairSigner returns a Signer backed by a local keypair.
func KeypairSigner(kp *security.Keypair) Signer {
	return SignerFunc(func(_ context.Context, s *domain.SignedState) ([]byte, error) {
		return kp.SignState(s), nil
	})
}

// channelState pairs the channel record with its own lock so updates to
// different channels never contend, while two updates to the same
// channel can never interleave.
type channelState struct {
	mu     sync.Mutex
	ch     domain.Channel
	latest *domain.SignedState // Highest dual-signed state seen
}

// Manager maintains all payment channels of this node.
type Manager struct {
	mu       sync.RWMutex
	config   Config
	channels map[string]*channelState
	signers  map[string]Signer // Participant address → signer
	ledger   domain.SettlementLedger

	// Injectable clock
	now func() time.Time
}

// NewManager creates a channel manager settling against the given ledger.
func NewManager(cfg Config, ledger domain.SettlementLedger) *Manager {
	return &Manager{
		config:   cfg,
		channels: make(map[string]*channelState),
		signers:  make(map[string]Signer),
		ledger:   ledger,
		now:      time.Now,
	}
}

// SetSigner registers the signer for a participant address.
func (m *Manager) SetSigner(address string, s Signer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signers[address] = s
}

// ─── Open ───────────────────────────────────────────────────────────────────

// Open creates a channel and locks both deposits on the settlement
// ledger. If the second lock fails the first is rolled back — a channel
// never exists half-funded.
func (m *Manager) Open(a, b string, depositA, depositB int64) (string, error) {
	if a == b {
		return "", domain.ErrSelfChannel
	}
	if depositA < 0 || depositB < 0 {
		return "", domain.ErrNegativeBalance
	}

	if err := m.ledger.Lock(a, depositA); err != nil {
		return "", fmt.Errorf("lock deposit of %s: %w", a, err)
	}
	if err := m.ledger.Lock(b, depositB); err != nil {
		if uerr := m.ledger.Unlock(a, depositA); uerr != nil {
			log.Printf("[channel] rollback unlock failed for %s: %v", a, uerr)
		}
		return "", fmt.Errorf("lock deposit of %s: %w", b, err)
	}

	id := uuid.NewString()
	cs := &channelState{
		ch: domain.Channel{
			ID:           id,
			ParticipantA: a,
			ParticipantB: b,
			LockedA:      depositA,
			LockedB:      depositB,
			Version:      0,
			BalanceA:     depositA,
			BalanceB:     depositB,
			Status:       domain.ChannelOpen,
			OpenedAt:     m.now(),
		},
	}

	m.mu.Lock()
	m.channels[id] = cs
	m.mu.Unlock()

	metrics.ChannelsOpen.Inc()
	return id, nil
}

// Get returns a copy of the channel record.
func (m *Manager) Get(id string) (*domain.Channel, error) {
	cs, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cp := cs.ch
	return &cp, nil
}

// Latest returns the highest dual-signed state, or nil at version 0.
func (m *Manager) Latest(id string) (*domain.SignedState, error) {
	cs, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.latest == nil {
		return nil, nil
	}
	cp := *cs.latest
	return &cp, nil
}

// ─── Update ─────────────────────────────────────────────────────────────────

// Update moves transfer milli-credits across the channel: fromA true
// moves A→B, false moves B→A. The new state must be signed by both
// parties before it commits; a missing or bad signature leaves the
// channel exactly where it was. Never touches the settlement ledger.
func (m *Manager) Update(ctx context.Context, id string, transfer int64, fromA bool) (*domain.SignedState, error) {
	if transfer < 0 {
		return nil, domain.ErrNegativeBalance
	}

	cs, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ch.Status != domain.ChannelOpen {
		return nil, domain.ErrChannelClosed
	}

	newA, newB := cs.ch.BalanceA, cs.ch.BalanceB
	if fromA {
		newA -= transfer
		newB += transfer
	} else {
		newB -= transfer
		newA += transfer
	}
	if newA < 0 || newB < 0 {
		return nil, domain.ErrNegativeBalance
	}

	state := &domain.SignedState{
		ChannelID: id,
		Version:   cs.ch.Version + 1,
		BalanceA:  newA,
		BalanceB:  newB,
	}

	sigA, err := m.sign(ctx, cs.ch.ParticipantA, state)
	if err != nil {
		return nil, err
	}
	sigB, err := m.sign(ctx, cs.ch.ParticipantB, state)
	if err != nil {
		return nil, err
	}
	state.SigA, state.SigB = sigA, sigB

	if !security.VerifyStateSig(state, cs.ch.ParticipantA, state.SigA) ||
		!security.VerifyStateSig(state, cs.ch.ParticipantB, state.SigB) {
		return nil, domain.ErrInvalidSignature
	}

	// Dual-signed: commit.
	cs.ch.Version = state.Version
	cs.ch.BalanceA = newA
	cs.ch.BalanceB = newB
	cs.latest = state

	metrics.ChannelUpdates.Inc()
	cp := *state
	return &cp, nil
}

// ApplyState ingests a dual-signed state produced elsewhere (the
// counterparty proposed and co-signed it out-of-band). States must
// arrive in strict version order; duplicates and gaps are rejected.
func (m *Manager) ApplyState(state *domain.SignedState) error {
	cs, err := m.lookup(state.ChannelID)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ch.Status != domain.ChannelOpen {
		return domain.ErrChannelClosed
	}
	if state.Version != cs.ch.Version+1 {
		return domain.ErrStaleVersion
	}
	if state.BalanceA < 0 || state.BalanceB < 0 {
		return domain.ErrNegativeBalance
	}
	if state.BalanceA+state.BalanceB != cs.ch.TotalLocked() {
		return domain.ErrConservation
	}
	if !security.VerifyStateSig(state, cs.ch.ParticipantA, state.SigA) ||
		!security.VerifyStateSig(state, cs.ch.ParticipantB, state.SigB) {
		return domain.ErrInvalidSignature
	}

	cs.ch.Version = state.Version
	cs.ch.BalanceA = state.BalanceA
	cs.ch.BalanceB = state.BalanceB
	cp := *state
	cs.latest = &cp

	metrics.ChannelUpdates.Inc()
	return nil
}

// ─── Close ──────────────────────────────────────────────────────────────────

// Close settles the channel on the ledger. The presented state is
// checked against the highest version this manager holds and the
// higher of the two wins, so a party gains nothing by presenting an
// old state here. Payout is idempotent under retry.
func (m *Manager) Close(id string, final *domain.SignedState) error {
	cs, err := m.lookup(id)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ch.Status == domain.ChannelClosed {
		return domain.ErrChannelClosed
	}

	settle := cs.latest
	if final != nil {
		if err := m.validateState(&cs.ch, final); err != nil {
			return err
		}
		if settle == nil || final.Version > settle.Version {
			settle = final
		}
	}

	balA, balB := cs.ch.LockedA, cs.ch.LockedB // Version 0: deposits unchanged
	if settle != nil {
		balA, balB = settle.BalanceA, settle.BalanceB
	}

	if err := m.payout(&cs.ch, balA, balB, "close:"+id); err != nil {
		return err
	}

	cs.ch.Status = domain.ChannelClosed
	cs.ch.BalanceA = balA
	cs.ch.BalanceB = balB
	cs.ch.ClosedAt = m.now()

	metrics.ChannelsOpen.Dec()
	return nil
}

// SubmitFraudProof punishes an attempted stale-state close. The
// submitter presents the newer dual-signed state (honest) against the
// state the counterparty tried to settle with (cheater). If the proof
// holds, the counterparty's entire locked balance goes to the
// submitter and the channel is force-closed.
func (m *Manager) SubmitFraudProof(id, submitter string, honest, cheater *domain.SignedState) error {
	cs, err := m.lookup(id)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	ch := &cs.ch
	if submitter != ch.ParticipantA && submitter != ch.ParticipantB {
		return domain.ErrNotParticipant
	}
	if err := m.validateState(ch, honest); err != nil {
		return err
	}
	if err := m.validateState(ch, cheater); err != nil {
		return err
	}
	if honest.Version <= cheater.Version {
		return domain.ErrNotFraud
	}

	// Proof holds: the counterparty signed away its claim to the stale
	// balance, then tried to settle with it anyway.
	cheaterAddr := ch.ParticipantA
	submitterLocked := ch.LockedB
	if submitter == ch.ParticipantA {
		cheaterAddr = ch.ParticipantB
		submitterLocked = ch.LockedA
	}
	cheaterLocked := ch.TotalLocked() - submitterLocked

	if err := m.ledger.Unlock(ch.ParticipantA, ch.LockedA); err != nil {
		return fmt.Errorf("unlock %s: %w", ch.ParticipantA, err)
	}
	if err := m.ledger.Unlock(ch.ParticipantB, ch.LockedB); err != nil {
		return fmt.Errorf("unlock %s: %w", ch.ParticipantB, err)
	}
	if err := m.ledger.Transfer(cheaterAddr, submitter, cheaterLocked, "fraud:"+id); err != nil {
		return fmt.Errorf("fraud payout: %w", err)
	}

	ch.Status = domain.ChannelClosed
	if submitter == ch.ParticipantA {
		ch.BalanceA = ch.TotalLocked()
		ch.BalanceB = 0
	} else {
		ch.BalanceA = 0
		ch.BalanceB = ch.TotalLocked()
	}
	ch.ClosedAt = m.now()

	log.Printf("[channel] fraud proven on %s: %s forfeits %d milli-credits to %s",
		id, cheaterAddr, cheaterLocked, submitter)
	metrics.FraudProofs.Inc()
	metrics.ChannelsOpen.Dec()
	return nil
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (m *Manager) lookup(id string) (*channelState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cs, ok := m.channels[id]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	return cs, nil
}

// sign obtains one participant's signature, bounded by the co-sign
// timeout.
func (m *Manager) sign(ctx context.Context, address string, state *domain.SignedState) ([]byte, error) {
	m.mu.RLock()
	signer, ok := m.signers[address]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no signer for %s", domain.ErrCosignTimeout, address)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.CosignTimeout)
	defer cancel()

	type result struct {
		sig []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		sig, err := signer.SignState(ctx, state)
		done <- result{sig, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCosignTimeout, r.err)
		}
		return r.sig, nil
	case <-ctx.Done():
		return nil, domain.ErrCosignTimeout
	}
}

// validateState checks a presented state belongs to the channel, holds
// conservation, and carries both participants' valid signatures.
func (m *Manager) validateState(ch *domain.Channel, s *domain.SignedState) error {
	if s == nil || s.ChannelID != ch.ID {
		return domain.ErrNotFraud
	}
	if s.BalanceA < 0 || s.BalanceB < 0 {
		return domain.ErrNegativeBalance
	}
	if s.BalanceA+s.BalanceB != ch.TotalLocked() {
		return domain.ErrConservation
	}
	if !security.VerifyStateSig(s, ch.ParticipantA, s.SigA) ||
		!security.VerifyStateSig(s, ch.ParticipantB, s.SigB) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// payout returns both locked deposits to their owners, then applies the
// net difference as a single idempotent transfer.
func (m *Manager) payout(ch *domain.Channel, balA, balB int64, ref string) error {
	if err := m.ledger.Unlock(ch.ParticipantA, ch.LockedA); err != nil {
		return fmt.Errorf("unlock %s: %w", ch.ParticipantA, err)
	}
	if err := m.ledger.Unlock(ch.ParticipantB, ch.LockedB); err != nil {
		return fmt.Errorf("unlock %s: %w", ch.ParticipantB, err)
	}

	switch diff := balA - ch.LockedA; {
	case diff > 0:
		return m.ledger.Transfer(ch.ParticipantB, ch.ParticipantA, diff, ref)
	case diff < 0:
		return m.ledger.Transfer(ch.ParticipantA, ch.ParticipantB, -diff, ref)
	}
	return nil
}

// Stats returns aggregate channel statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, cs := range m.channels {
		cs.mu.Lock()
		s.Channels++
		if cs.ch.Status == domain.ChannelOpen {
			s.Open++
			s.TotalLocked += cs.ch.TotalLocked()
		}
		cs.mu.Unlock()
	}
	return s
}

// Stats holds aggregate channel data.
type Stats struct {
	Channels    int   `json:"channels"`
	Open        int   `json:"open"`
	TotalLocked int64 `json:"total_locked"`
}
