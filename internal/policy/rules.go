package policy

import (
	"fmt"
	"sync"

	"btmonitor/internal/models"
)

type episodeKey struct {
	address string
	kind    models.ActionKind
}

// RuleEngine is the rule-based policy. Rules run in a fixed order and every
// matching rule fires, so one tick may yield several actions for a device.
//
// Each (address, kind) pair has at most one open episode: while the episode
// is unresolved the rule is suppressed, preventing the same action from
// being re-emitted every tick. An episode resolves when its triggering
// condition observably clears (signal recovers, rate subsides, contention
// ends), after which the rule may fire again.
type RuleEngine struct {
	thresholds Thresholds

	mu       sync.Mutex
	episodes map[episodeKey]struct{}
	lastRate map[string]float64
}

func NewRuleEngine(t Thresholds) *RuleEngine {
	return &RuleEngine{
		thresholds: t,
		episodes:   make(map[episodeKey]struct{}),
		lastRate:   make(map[string]float64),
	}
}

func (e *RuleEngine) Evaluate(dev models.Device, sysCtx models.SystemContext) []models.OptimizationAction {
	e.mu.Lock()
	defer e.mu.Unlock()

	var actions []models.OptimizationAction

	// Rule 1: weak signal, link at risk of dropping.
	if dev.SignalStrength < e.thresholds.WeakSignalDbm {
		if e.open(dev.Address, models.KindSignalBoost) {
			actions = append(actions, newAction(dev.Address, models.KindSignalBoost,
				fmt.Sprintf("weak signal %d dBm below %d dBm", dev.SignalStrength, e.thresholds.WeakSignalDbm)))
		}
	} else {
		e.resolve(dev.Address, models.KindSignalBoost)
	}

	// Rule 2: sustained high-fidelity audio stream must not starve.
	if dev.Class == models.ClassHeadphones && dev.DataRate > e.thresholds.AudioRateBps {
		if dev.Priority != models.PriorityCritical && e.open(dev.Address, models.KindPriorityElevate) {
			actions = append(actions, newAction(dev.Address, models.KindPriorityElevate,
				fmt.Sprintf("audio stream at %.0f B/s exceeds %.0f B/s", dev.DataRate, e.thresholds.AudioRateBps)))
		}
	} else {
		e.resolve(dev.Address, models.KindPriorityElevate)
	}

	// Rule 3: compressor-start burst needs power headroom, not priority.
	prev := e.lastRate[dev.Address]
	if dev.Class == models.ClassAirConditioner {
		burst := prev > 0 &&
			dev.DataRate >= e.thresholds.BurstFloorBps &&
			dev.DataRate >= prev*e.thresholds.BurstFactor
		if burst {
			if e.open(dev.Address, models.KindPowerOptimize) {
				actions = append(actions, newAction(dev.Address, models.KindPowerOptimize,
					fmt.Sprintf("compressor-start burst: rate %.0f B/s jumped from %.0f B/s", dev.DataRate, prev)))
			}
		} else if dev.DataRate < e.thresholds.BurstFloorBps {
			e.resolve(dev.Address, models.KindPowerOptimize)
		}
	}
	e.lastRate[dev.Address] = dev.DataRate

	// Rule 4: over capacity, reclaim bandwidth from the lowest-priority tier
	// actually present in the fleet. Critical links are never reclaimed.
	if sysCtx.TotalDevices > e.thresholds.Capacity {
		reclaimable := dev.Priority != models.PriorityCritical &&
			dev.Priority.Rank() == sysCtx.LowestPriorityRank
		if reclaimable && e.open(dev.Address, models.KindBandwidthReallocate) {
			actions = append(actions, newAction(dev.Address, models.KindBandwidthReallocate,
				fmt.Sprintf("%d devices exceed capacity %d, reclaiming from %s priority", sysCtx.TotalDevices, e.thresholds.Capacity, dev.Priority)))
		}
	} else {
		e.resolve(dev.Address, models.KindBandwidthReallocate)
	}

	return actions
}

// open reports whether no episode is pending for the key, opening one if so.
func (e *RuleEngine) open(address string, kind models.ActionKind) bool {
	key := episodeKey{address: address, kind: kind}
	if _, pending := e.episodes[key]; pending {
		return false
	}
	e.episodes[key] = struct{}{}
	return true
}

func (e *RuleEngine) resolve(address string, kind models.ActionKind) {
	delete(e.episodes, episodeKey{address: address, kind: kind})
}

// Forget drops all per-device episode state, e.g. after an explicit
// disconnect, so a returning device starts clean.
func (e *RuleEngine) Forget(address string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key := range e.episodes {
		if key.address == address {
			delete(e.episodes, key)
		}
	}
	delete(e.lastRate, address)
}
