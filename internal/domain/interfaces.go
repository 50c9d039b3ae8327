package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These define the boundaries to external systems. Infrastructure
// implements them; the application layer depends only on the interface,
// so the lifecycle, channel, and dispute managers stay testable in
// isolation.

// SettlementLedger is the external authoritative account store. Only
// channel opens/closes, escrow, and fraud payouts touch it — everything
// else stays off-chain. Implementations must be atomic and
// crash-consistent; Transfer must be idempotent under retry keyed by ref.
type SettlementLedger interface {
	// Lock reserves amount from the account's free balance.
	Lock(account string, amount int64) error

	// Unlock releases a previous reservation back to the free balance.
	Unlock(account string, amount int64) error

	// Transfer moves amount between free balances. ref is an
	// idempotency key: retrying the same ref must not double-pay.
	Transfer(from, to string, amount int64, ref string) error

	// Balance returns the free (unlocked) balance of an account.
	Balance(account string) (int64, error)

	// Seed returns entropy derived from recent ledger history,
	// unpredictable ahead of time. Used to seed verifier selection.
	Seed() []byte
}

// TaskRunner executes a task on the local worker's sandbox.
type TaskRunner interface {
	// Execute runs the task and returns the output reference and the
	// wall time spent computing. Fails with ErrUnsupportedTaskType or
	// ErrExecutionFailed, both of which release the claim.
	Execute(ctx context.Context, taskType TaskType, inputRef, outputSpec string) (outputRef string, computeTime time.Duration, err error)
}

// ProofBackend produces and checks proofs of computation. Real proof
// systems plug in here; the core only needs the boolean answer.
type ProofBackend interface {
	Prove(input, output, trace []byte) ([]byte, error)
	Verify(proof []byte, publicInputs []byte) (bool, error)
}

// Message is one unit delivered by the peer transport. Delivery is
// at-least-once: receivers must deduplicate by ID.
type Message struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

// PeerTransport moves task offers and results between peers out-of-band.
type PeerTransport interface {
	Send(ctx context.Context, peer string, msg Message) error
	Receive(ctx context.Context) (Message, error)
}

// VerifierSelector picks k members of a pool using a seed the selector
// cannot influence. Tests inject deterministic seeds.
type VerifierSelector interface {
	SelectRandom(pool []string, k int, seed []byte) []string
}
