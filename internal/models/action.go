package models

import "time"

// ActionKind identifies the optimization a decision asks the driver layer to
// perform.
type ActionKind string

const (
	KindPriorityElevate     ActionKind = "priority_elevate"
	KindSignalBoost         ActionKind = "signal_boost"
	KindPowerOptimize       ActionKind = "power_optimize"
	KindBandwidthReallocate ActionKind = "bandwidth_reallocate"
)

// OptimizationAction is an immutable decision record emitted by the policy
// engine and consumed exactly once by the dispatcher.
type OptimizationAction struct {
	ID            string     `json:"id"`
	TargetAddress string     `json:"target_address"`
	Kind          ActionKind `json:"kind"`
	Reason        string     `json:"reason"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ActionOutcome annotates what happened when an action was dispatched.
type ActionOutcome string

const (
	OutcomeApplied   ActionOutcome = "applied"   // state change made against the registry
	OutcomeForwarded ActionOutcome = "forwarded" // handed to the driver boundary, best-effort
	OutcomeSkipped   ActionOutcome = "skipped"   // target vanished between evaluate and dispatch
	OutcomeFailed    ActionOutcome = "failed"
)

// ActionRecord is the archived form of a dispatched action.
type ActionRecord struct {
	Action      OptimizationAction `json:"action"`
	Outcome     ActionOutcome      `json:"outcome"`
	Detail      string             `json:"detail,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}
