package policy

import (
	"time"

	"github.com/google/uuid"

	"btmonitor/internal/models"
)

// Engine turns one device's state plus the frozen system context into zero
// or more optimization actions. Implementations must be deterministic for
// identical input sequences; noise enters the system only through telemetry.
type Engine interface {
	Evaluate(dev models.Device, sysCtx models.SystemContext) []models.OptimizationAction
}

// Thresholds are the tunables of the rule set.
type Thresholds struct {
	// WeakSignalDbm is the signal level below which a link is considered at
	// risk of dropping.
	WeakSignalDbm int

	// AudioRateBps is the sustained rate above which a headphone stream is
	// treated as high-fidelity audio.
	AudioRateBps float64

	// Capacity is the device count above which bandwidth is reallocated
	// away from low-priority devices.
	Capacity int

	// BurstFactor and BurstFloorBps detect a compressor-start burst: the
	// rate jumps by at least BurstFactor over the previous sample and
	// exceeds the floor.
	BurstFactor   float64
	BurstFloorBps float64
}

// DefaultThresholds mirrors the production defaults: -85dBm weak-signal
// line, 625 KB/s audio rate, capacity of 7 simultaneous links.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WeakSignalDbm: -85,
		AudioRateBps:  625_000,
		Capacity:      7,
		BurstFactor:   3.0,
		BurstFloorBps: 50_000,
	}
}

func newAction(address string, kind models.ActionKind, reason string) models.OptimizationAction {
	return models.OptimizationAction{
		ID:            uuid.NewString(),
		TargetAddress: address,
		Kind:          kind,
		Reason:        reason,
		Timestamp:     time.Now(),
	}
}
