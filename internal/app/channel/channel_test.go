package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/taskmesh-network/taskmesh/internal/domain"
	"github.com/taskmesh-network/taskmesh/internal/infra/settlement"
	"github.com/taskmesh-network/taskmesh/internal/security"
)

// testRig wires a manager, a ledger, and two funded participants.
type testRig struct {
	mgr    *Manager
	ledger *settlement.Ledger
	kpA    *security.Keypair
	kpB    *security.Keypair
	a, b   string
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	ledger := settlement.NewLedger(nil)
	mgr := NewManager(Config{CosignTimeout: time.Second}, ledger)

	kpA, err := security.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	kpB, err := security.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}

	a, b := kpA.Address(), kpB.Address()
	ledger.Deposit(a, 1_000_000)
	ledger.Deposit(b, 1_000_000)
	mgr.SetSigner(a, KeypairSigner(kpA))
	mgr.SetSigner(b, KeypairSigner(kpB))

	return &testRig{mgr: mgr, ledger: ledger, kpA: kpA, kpB: kpB, a: a, b: b}
}

func (r *testRig) open(t *testing.T, depA, depB int64) string {
	t.Helper()
	id, err := r.mgr.Open(r.a, r.b, depA, depB)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return id
}

// dualSign builds a fully co-signed state outside the manager, the way
// a counterparty's node would hold one.
func (r *testRig) dualSign(id string, version uint64, balA, balB int64) *domain.SignedState {
	s := &domain.SignedState{ChannelID: id, Version: version, BalanceA: balA, BalanceB: balB}
	s.SigA = r.kpA.SignState(s)
	s.SigB = r.kpB.SignState(s)
	return s
}

// ─── Open / Update ──────────────────────────────────────────────────────────

func TestManager_OpenInsufficientFunds(t *testing.T) {
	r := newTestRig(t)

	_, err := r.mgr.Open(r.a, r.b, 2_000_000, 100)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	// Failed open must roll the first lock back.
	if locked := r.ledger.Locked(r.a); locked != 0 {
		t.Errorf("locked(a) = %d after failed open, want 0", locked)
	}
}

func TestManager_Update(t *testing.T) {
	r := newTestRig(t)
	id := r.open(t, 50_000, 50_000)

	state, err := r.mgr.Update(context.Background(), id, 2_000, true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if state.Version != 1 {
		t.Errorf("version = %d, want 1", state.Version)
	}
	if state.BalanceA != 48_000 || state.BalanceB != 52_000 {
		t.Errorf("balances = (%d, %d), want (48000, 52000)", state.BalanceA, state.BalanceB)
	}

	// Both signatures must verify.
	if !security.VerifyStateSig(state, r.a, state.SigA) || !security.VerifyStateSig(state, r.b, state.SigB) {
		t.Error("committed state carries invalid signatures")
	}
}

func TestManager_UpdateNegativeBalance(t *testing.T) {
	r := newTestRig(t)
	id := r.open(t, 1_000, 50_000)

	_, err := r.mgr.Update(context.Background(), id, 2_000, true)
	if !errors.Is(err, domain.ErrNegativeBalance) {
		t.Fatalf("err = %v, want ErrNegativeBalance", err)
	}

	ch, _ := r.mgr.Get(id)
	if ch.Version != 0 || ch.BalanceA != 1_000 {
		t.Errorf("failed update mutated channel: %+v", ch)
	}
}

func TestManager_CosignTimeout(t *testing.T) {
	r := newTestRig(t)
	id := r.open(t, 10_000, 10_000)

	// Counterparty never answers.
	r.mgr.SetSigner(r.b, SignerFunc(func(ctx context.Context, _ *domain.SignedState) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	r.mgr.config.CosignTimeout = 50 * time.Millisecond

	_, err := r.mgr.Update(context.Background(), id, 500, true)
	if !errors.Is(err, domain.ErrCosignTimeout) {
		t.Fatalf("err = %v, want ErrCosignTimeout", err)
	}

	// The abandoned proposal was never authoritative.
	ch, _ := r.mgr.Get(id)
	if ch.Version != 0 || ch.BalanceA != 10_000 || ch.BalanceB != 10_000 {
		t.Errorf("abandoned update moved funds: %+v", ch)
	}
}

func TestManager_ApplyStateStrictOrder(t *testing.T) {
	r := newTestRig(t)
	id := r.open(t, 10_000, 10_000)

	v1 := r.dualSign(id, 1, 9_000, 11_000)
	if err := r.mgr.ApplyState(v1); err != nil {
		t.Fatalf("ApplyState v1: %v", err)
	}

	// Duplicate version.
	if err := r.mgr.ApplyState(v1); !errors.Is(err, domain.ErrStaleVersion) {
		t.Errorf("duplicate version err = %v, want ErrStaleVersion", err)
	}
	// Gap.
	v3 := r.dualSign(id, 3, 7_000, 13_000)
	if err := r.mgr.ApplyState(v3); !errors.Is(err, domain.ErrStaleVersion) {
		t.Errorf("gap version err = %v, want ErrStaleVersion", err)
	}
	// Conservation violation.
	bad := r.dualSign(id, 2, 9_000, 12_000)
	if err := r.mgr.ApplyState(bad); !errors.Is(err, domain.ErrConservation) {
		t.Errorf("inflating state err = %v, want ErrConservation", err)
	}
	// Signature from the wrong key.
	forged := &domain.SignedState{ChannelID: id, Version: 2, BalanceA: 8_000, BalanceB: 12_000}
	forged.SigA = r.kpA.SignState(forged)
	forged.SigB = r.kpA.SignState(forged) // A signing for B
	if err := r.mgr.ApplyState(forged); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("forged state err = %v, want ErrInvalidSignature", err)
	}
}

// ─── Close ──────────────────────────────────────────────────────────────────

func TestManager_CloseHighestVersionWins(t *testing.T) {
	r := newTestRig(t)
	id := r.open(t, 50_000, 50_000)

	r.mgr.Update(context.Background(), id, 10_000, true) // v1: 40k/60k
	stale := r.dualSign(id, 1, 40_000, 60_000)
	r.mgr.Update(context.Background(), id, 10_000, true) // v2: 30k/70k

	// Presenting the stale v1 at close cannot roll back v2.
	if err := r.mgr.Close(id, stale); err != nil {
		t.Fatalf("Close: %v", err)
	}

	balA, _ := r.ledger.Balance(r.a)
	balB, _ := r.ledger.Balance(r.b)
	if balA != 980_000 || balB != 1_020_000 {
		t.Errorf("ledger balances = (%d, %d), want (980000, 1020000)", balA, balB)
	}
}

func TestManager_CloseIsIdempotentOnLedger(t *testing.T) {
	r := newTestRig(t)
	id := r.open(t, 10_000, 10_000)
	r.mgr.Update(context.Background(), id, 1_000, true)

	if err := r.mgr.Close(id, nil); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.mgr.Close(id, nil); !errors.Is(err, domain.ErrChannelClosed) {
		t.Errorf("second close err = %v, want ErrChannelClosed", err)
	}
}

// ─── Fraud Proofs ───────────────────────────────────────────────────────────

func TestManager_FraudProofSoundness(t *testing.T) {
	r := newTestRig(t)
	id := r.open(t, 50_000, 50_000)

	older := r.dualSign(id, 3, 45_000, 55_000) // Favors A less
	newer := r.dualSign(id, 5, 20_000, 80_000)

	// Reversed roles must always fail.
	err := r.mgr.SubmitFraudProof(id, r.b, older, newer)
	if !errors.Is(err, domain.ErrNotFraud) {
		t.Fatalf("reversed proof err = %v, want ErrNotFraud", err)
	}

	// A tried to close with the older state; B proves fraud and takes
	// A's entire locked balance.
	if err := r.mgr.SubmitFraudProof(id, r.b, newer, older); err != nil {
		t.Fatalf("SubmitFraudProof: %v", err)
	}

	balA, _ := r.ledger.Balance(r.a)
	balB, _ := r.ledger.Balance(r.b)
	if balA != 950_000 {
		t.Errorf("cheater balance = %d, want 950000 (forfeited full 50000 lock)", balA)
	}
	if balB != 1_050_000 {
		t.Errorf("submitter balance = %d, want 1050000", balB)
	}

	ch, _ := r.mgr.Get(id)
	if ch.Status != domain.ChannelClosed {
		t.Errorf("channel status = %s, want CLOSED", ch.Status)
	}
}

func TestManager_FraudProofRejectsForeignState(t *testing.T) {
	r := newTestRig(t)
	id := r.open(t, 10_000, 10_000)
	other := r.open(t, 10_000, 10_000)

	honest := r.dualSign(other, 2, 5_000, 15_000) // Wrong channel
	cheater := r.dualSign(id, 1, 9_000, 11_000)

	if err := r.mgr.SubmitFraudProof(id, r.b, honest, cheater); !errors.Is(err, domain.ErrNotFraud) {
		t.Errorf("foreign state err = %v, want ErrNotFraud", err)
	}
}

// ─── Properties ─────────────────────────────────────────────────────────────

// Conservation: locked totals never change across any sequence of
// updates, and committed versions strictly increase.
func TestManager_ConservationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := newTestRig(t)
		depA := rapid.Int64Range(1_000, 100_000).Draw(rt, "depA")
		depB := rapid.Int64Range(1_000, 100_000).Draw(rt, "depB")
		id, err := r.mgr.Open(r.a, r.b, depA, depB)
		if err != nil {
			rt.Fatalf("Open: %v", err)
		}

		total := depA + depB
		lastVersion := uint64(0)
		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			amount := rapid.Int64Range(0, 120_000).Draw(rt, "amount")
			fromA := rapid.Bool().Draw(rt, "fromA")

			state, err := r.mgr.Update(context.Background(), id, amount, fromA)
			if err != nil {
				if !errors.Is(err, domain.ErrNegativeBalance) {
					rt.Fatalf("unexpected update error: %v", err)
				}
				continue
			}
			if state.BalanceA+state.BalanceB != total {
				rt.Fatalf("conservation violated: %d + %d != %d", state.BalanceA, state.BalanceB, total)
			}
			if state.Version <= lastVersion {
				rt.Fatalf("version %d not above %d", state.Version, lastVersion)
			}
			lastVersion = state.Version
		}

		ch, _ := r.mgr.Get(id)
		if ch.TotalLocked() != total {
			rt.Fatalf("locked total drifted: %d != %d", ch.TotalLocked(), total)
		}
	})
}

// ─── End-to-End ─────────────────────────────────────────────────────────────

// countingLedger counts how many operations reach the settlement layer.
type countingLedger struct {
	domain.SettlementLedger
	ops int
}

func (c *countingLedger) Lock(a string, n int64) error {
	c.ops++
	return c.SettlementLedger.Lock(a, n)
}
func (c *countingLedger) Unlock(a string, n int64) error {
	c.ops++
	return c.SettlementLedger.Unlock(a, n)
}
func (c *countingLedger) Transfer(f, to string, n int64, ref string) error {
	c.ops++
	return c.SettlementLedger.Transfer(f, to, n, ref)
}

func TestManager_TenTasksOneSettlement(t *testing.T) {
	inner := settlement.NewLedger(nil)
	counting := &countingLedger{SettlementLedger: inner}
	mgr := NewManager(DefaultConfig(), counting)

	kpA, _ := security.GenerateKeypair()
	kpB, _ := security.GenerateKeypair()
	a, b := kpA.Address(), kpB.Address()
	inner.Deposit(a, 100_000)
	inner.Deposit(b, 100_000)
	mgr.SetSigner(a, KeypairSigner(kpA))
	mgr.SetSigner(b, KeypairSigner(kpB))

	id, err := mgr.Open(a, b, 50_000, 50_000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	openOps := counting.ops

	// Ten task completions, two credits each, requester → worker.
	for i := 0; i < 10; i++ {
		if _, err := mgr.Update(context.Background(), id, 2_000, true); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	if counting.ops != openOps {
		t.Fatalf("off-chain updates touched the ledger %d times", counting.ops-openOps)
	}

	if err := mgr.Close(id, nil); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ch, _ := mgr.Get(id)
	if ch.BalanceA != 30_000 || ch.BalanceB != 70_000 {
		t.Errorf("final balances = (%d, %d), want (30000, 70000)", ch.BalanceA, ch.BalanceB)
	}
	balA, _ := inner.Balance(a)
	balB, _ := inner.Balance(b)
	if balA != 80_000 || balB != 120_000 {
		t.Errorf("ledger balances = (%d, %d), want (80000, 120000)", balA, balB)
	}
}
