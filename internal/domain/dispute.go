package domain

import "time"

// DisputeStatus tracks dispute resolution.
type DisputeStatus string

const (
	DisputePending        DisputeStatus = "PENDING"
	DisputeResolvedAccept DisputeStatus = "RESOLVED_ACCEPT"
	DisputeResolvedReject DisputeStatus = "RESOLVED_REJECT"
)

// Vote is one verifier's recomputation of a challenged task.
type Vote struct {
	Verifier          string    `json:"verifier"`
	RecomputedHash    string    `json:"recomputed_hash"`
	MatchesSubmission bool      `json:"matches_submission"`
	ReceivedAt        time.Time `json:"received_at"`
}

// Dispute is an open challenge against a submitted result. Resolution
// compares each verifier's recomputed output hash against the worker's
// submission; majority decides, ties and timeouts favor the challenger.
type Dispute struct {
	TaskID           string          `json:"task_id"`
	Challenger       string          `json:"challenger"`
	ChallengedWorker string          `json:"challenged_worker"`
	Stake            int64           `json:"stake"` // Challenger's locked milli-credits
	SubmittedHash    string          `json:"submitted_hash"`
	Verifiers        []string        `json:"verifiers"` // Selected addresses
	Votes            map[string]Vote `json:"votes"`     // Verifier → vote
	Status           DisputeStatus   `json:"status"`
	OpenedAt         time.Time       `json:"opened_at"`
	Deadline         time.Time       `json:"deadline"` // Vote timeout → Reject
	ResolvedAt       time.Time       `json:"resolved_at,omitempty"`
}

// IsVerifier reports whether the address was selected for this dispute.
func (d *Dispute) IsVerifier(addr string) bool {
	for _, v := range d.Verifiers {
		if v == addr {
			return true
		}
	}
	return false
}
