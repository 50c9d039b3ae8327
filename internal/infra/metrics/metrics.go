// Package metrics provides Prometheus metrics for the marketplace —
// counters and gauges for tasks, channels, disputes, and discovery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksPosted tracks posted tasks by type.
var TasksPosted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "tasks_posted_total",
	Help:      "Total tasks posted.",
}, []string{"type"})

// TasksClaimed tracks successful claims.
var TasksClaimed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "tasks_claimed_total",
	Help:      "Total successful task claims.",
})

// TasksSettled tracks settled tasks by type.
var TasksSettled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "tasks_settled_total",
	Help:      "Total settled tasks.",
}, []string{"type"})

// ClaimsExpired tracks claims reverted by the expiry sweep.
var ClaimsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "claims_expired_total",
	Help:      "Total claims that expired before submission.",
})

// VerificationsRun tracks proof checks by mode.
var VerificationsRun = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "verifications_total",
	Help:      "Total proof verifications by mode and outcome.",
}, []string{"mode", "outcome"})

// ─── Channels ───────────────────────────────────────────────────────────────

// ChannelsOpen tracks currently open payment channels.
var ChannelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "taskmesh",
	Name:      "channels_open",
	Help:      "Number of currently open payment channels.",
})

// ChannelUpdates tracks committed off-chain state updates.
var ChannelUpdates = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "channel_updates_total",
	Help:      "Total committed off-chain channel updates.",
})

// FraudProofs tracks accepted fraud proofs.
var FraudProofs = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "fraud_proofs_total",
	Help:      "Total accepted channel fraud proofs.",
})

// ─── Disputes ───────────────────────────────────────────────────────────────

// DisputesOpened tracks challenges raised.
var DisputesOpened = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "disputes_opened_total",
	Help:      "Total disputes opened.",
})

// DisputesResolved tracks resolutions by outcome.
var DisputesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "disputes_resolved_total",
	Help:      "Total disputes resolved, by outcome.",
}, []string{"outcome"})

// WorkersSlashed tracks stake slashes from confirmed fraud.
var WorkersSlashed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskmesh",
	Name:      "workers_slashed_total",
	Help:      "Total workers slashed for confirmed fraud.",
})

// ─── Discovery ──────────────────────────────────────────────────────────────

// RegistrySize tracks live capability announcements.
var RegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "taskmesh",
	Name:      "registry_announcements",
	Help:      "Number of live capability announcements.",
})
