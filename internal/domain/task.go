// Package domain holds the pure types of the compute marketplace.
// A Task is the unit of tradeable work:
// post → claim → execute → submit → verify → settle (or dispute).
package domain

import "time"

// TaskStatus tracks the task lifecycle.
type TaskStatus string

const (
	TaskPosted         TaskStatus = "POSTED"
	TaskClaimed        TaskStatus = "CLAIMED"
	TaskSubmitted      TaskStatus = "SUBMITTED"
	TaskAccepted       TaskStatus = "ACCEPTED"
	TaskDisputed       TaskStatus = "DISPUTED"
	TaskResolvedAccept TaskStatus = "RESOLVED_ACCEPT"
	TaskResolvedReject TaskStatus = "RESOLVED_REJECT"
	TaskSettled        TaskStatus = "SETTLED"
)

// TaskType categorizes the kind of computation a task needs.
type TaskType string

const (
	TaskInference TaskType = "INFERENCE"
	TaskRender    TaskType = "RENDER"
	TaskTranscode TaskType = "TRANSCODE"
	TaskBatch     TaskType = "BATCH"
)

// VerificationMode controls how strictly a submitted result is checked.
// The mode is derived from the worker's reputation tier at submit time.
type VerificationMode string

const (
	VerifyNone  VerificationMode = "NONE"  // Trusted worker, no proof check
	VerifyAudit VerificationMode = "AUDIT" // Probabilistic re-verification
	VerifyFull  VerificationMode = "FULL"  // Proof validated on every task
)

// Task is a posted unit of work. Immutable after posting except Status
// and the claim fields.
type Task struct {
	ID               string           `json:"id"`
	Requester        string           `json:"requester"`
	Type             TaskType         `json:"type"`
	InputRef         string           `json:"input_ref"`
	OutputSpec       string           `json:"output_spec"`
	Bounty           int64            `json:"bounty"` // Milli-credits
	Deadline         time.Time        `json:"deadline"`
	VerificationMode VerificationMode `json:"verification_mode"`
	Status           TaskStatus       `json:"status"`

	ClaimedBy   string    `json:"claimed_by,omitempty"`
	ClaimedAt   time.Time `json:"claimed_at,omitempty"`
	ClaimExpiry time.Time `json:"claim_expiry,omitempty"`

	OutputRef   string        `json:"output_ref,omitempty"`
	OutputHash  string        `json:"output_hash,omitempty"`
	ComputeTime time.Duration `json:"compute_time,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	SettledAt   time.Time `json:"settled_at,omitempty"`
}

// IsTerminal reports whether the task has reached a final state.
// Terminal tasks are archived out of the live store.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskSettled
}

// ClaimExpired reports whether a held claim has run out at the given time.
func (t *Task) ClaimExpired(now time.Time) bool {
	return t.Status == TaskClaimed && now.After(t.ClaimExpiry)
}

// TaskSpec is what a requester submits to post a task.
type TaskSpec struct {
	Requester  string    `json:"requester"`
	Type       TaskType  `json:"type"`
	InputRef   string    `json:"input_ref"`
	OutputSpec string    `json:"output_spec"`
	Bounty     int64     `json:"bounty"` // Milli-credits
	Deadline   time.Time `json:"deadline"`
}

// ClaimToken proves a worker holds the exclusive claim on a task
// until the expiry passes.
type ClaimToken struct {
	TaskID  string    `json:"task_id"`
	Worker  string    `json:"worker"`
	Expires time.Time `json:"expires"`
}
