package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Task lifecycle errors
	ErrInvalidTaskSpec  = errors.New("invalid task spec — bounty must be positive and deadline in the future")
	ErrTaskNotFound     = errors.New("task not found")
	ErrAlreadyClaimed   = errors.New("task is already claimed")
	ErrWorkerBanned     = errors.New("worker is banned")
	ErrNotClaimant      = errors.New("worker does not hold the claim on this task")
	ErrDeadlineExceeded = errors.New("task deadline has passed")
	ErrClaimExpired     = errors.New("claim window has expired")

	// Funding errors
	ErrInsufficientFunds = errors.New("insufficient balance for escrow or lock")
	ErrInsufficientStake = errors.New("stake below required minimum")

	// Channel errors
	ErrChannelNotFound  = errors.New("channel not found")
	ErrChannelClosed    = errors.New("channel is not open")
	ErrInvalidSignature = errors.New("signature does not verify — possible fraud attempt")
	ErrNegativeBalance  = errors.New("update would drive a balance below zero")
	ErrStaleVersion     = errors.New("state version is not newer than the accepted one")
	ErrSelfChannel      = errors.New("channel participants must differ")
	ErrCosignTimeout    = errors.New("counterparty did not co-sign before the timeout")
	ErrNotFraud         = errors.New("presented states do not prove fraud")
	ErrConservation     = errors.New("balances do not preserve the locked total")
	ErrNotParticipant   = errors.New("address is not a participant of this channel")

	// Dispute errors
	ErrTaskNotSubmitted    = errors.New("task is not in submitted state — nothing to challenge")
	ErrDisputeNotFound     = errors.New("dispute not found")
	ErrDisputeResolved     = errors.New("dispute already resolved")
	ErrNotSelectedVerifier = errors.New("address was not selected as a verifier")
	ErrDuplicateVote       = errors.New("verifier already voted")
	ErrNoEligibleVerifiers = errors.New("not enough eligible verifiers in the pool")

	// Registry / worker errors
	ErrWorkerNotFound   = errors.New("worker not registered")
	ErrWorkerExists     = errors.New("worker already registered")
	ErrNoWorkersMatched = errors.New("no workers match the requirement")

	// Concurrency errors
	ErrConcurrencyConflict = errors.New("lost a concurrent update race — retry with fresh state")

	// External collaborator errors
	ErrUnsupportedTaskType = errors.New("task runner does not support this task type")
	ErrExecutionFailed     = errors.New("task execution failed")
	ErrVerificationFailed  = errors.New("proof verification failed")

	// Transport errors
	ErrPeerUnknown = errors.New("peer is not attached to the transport")
)
