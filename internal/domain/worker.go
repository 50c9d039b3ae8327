package domain

import "time"

// Capability advertises that a worker can run one task type at a given
// speed and price.
type Capability struct {
	Type            TaskType `json:"type"`
	SpeedMultiplier float64  `json:"speed_multiplier"` // 1.0 = baseline hardware
	CostPerUnit     int64    `json:"cost_per_unit"`    // Milli-credits per work unit
}

// Worker is a registered compute provider. Never hard-deleted: banned
// workers persist with BannedUntil set.
type Worker struct {
	Address      string       `json:"address"` // Hex ed25519 public key
	Capabilities []Capability `json:"capabilities"`
	Reputation   int64        `json:"reputation"` // ≥ 0; reset on confirmed fraud
	Stake        int64        `json:"stake"`      // Milli-credits at risk
	BannedUntil  time.Time    `json:"banned_until,omitempty"`
	RegisteredAt time.Time    `json:"registered_at"`
	TasksDone    int64        `json:"tasks_done"`
}

// Banned reports whether the worker is banned at the given time.
func (w *Worker) Banned(now time.Time) bool {
	return !w.BannedUntil.IsZero() && now.Before(w.BannedUntil)
}

// ─── Reputation Tiers ───────────────────────────────────────────────────────
// Verification strictness is bought with earned trust: the more accepted
// work a worker has behind it, the cheaper its results are to accept.

const (
	// TierTrusted: reputation above this skips proof checks entirely.
	TierTrusted int64 = 100

	// TierKnown: reputation at or above this gets probabilistic audits;
	// below it every submission requires full proof validation.
	TierKnown int64 = 10
)

// VerificationFor maps a reputation score to the verification mode
// applied to that worker's submissions.
func VerificationFor(reputation int64) VerificationMode {
	switch {
	case reputation > TierTrusted:
		return VerifyNone
	case reputation >= TierKnown:
		return VerifyAudit
	default:
		return VerifyFull
	}
}

// Requirement filters workers during discovery.
type Requirement struct {
	Type     TaskType `json:"type"`
	MinSpeed float64  `json:"min_speed"`
	MaxCost  int64    `json:"max_cost"` // Milli-credits per work unit
}
