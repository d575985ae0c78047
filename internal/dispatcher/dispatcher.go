package dispatcher

import (
	"errors"
	"log"
	"time"

	"btmonitor/internal/driver"
	"btmonitor/internal/models"
	"btmonitor/internal/registry"
)

// Dispatcher consumes each action exactly once: priority changes are applied
// against the registry, everything else is forwarded to the driver boundary
// fire-and-record. Every action lands in the bounded log with its outcome.
type Dispatcher struct {
	reg       *registry.Registry
	forwarder driver.Forwarder
	log       *ActionLog
}

func New(reg *registry.Registry, forwarder driver.Forwarder, logSize int) *Dispatcher {
	return &Dispatcher{
		reg:       reg,
		forwarder: forwarder,
		log:       NewActionLog(logSize),
	}
}

// Apply dispatches one action. A target that vanished between evaluation and
// dispatch is a recoverable race: the action is skipped and logged, never
// propagated as a tick failure.
func (d *Dispatcher) Apply(action models.OptimizationAction) models.ActionRecord {
	rec := models.ActionRecord{Action: action, CompletedAt: time.Now()}

	switch action.Kind {
	case models.KindPriorityElevate:
		if _, err := d.reg.SetPriority(action.TargetAddress, models.PriorityCritical, action.Reason); err != nil {
			if errors.Is(err, registry.ErrUnknownDevice) {
				rec.Outcome = models.OutcomeSkipped
				rec.Detail = "device vanished before dispatch"
				log.Printf("Dispatcher: skipped %s for %s, device vanished mid-tick", action.Kind, action.TargetAddress)
			} else {
				rec.Outcome = models.OutcomeFailed
				rec.Detail = err.Error()
				log.Printf("Dispatcher: %s for %s failed: %v", action.Kind, action.TargetAddress, err)
			}
			break
		}
		rec.Outcome = models.OutcomeApplied
		log.Printf("Dispatcher: elevated %s to critical (%s)", action.TargetAddress, action.Reason)

	default:
		if err := d.forwarder.Forward(action); err != nil {
			rec.Outcome = models.OutcomeFailed
			rec.Detail = err.Error()
			log.Printf("Dispatcher: forwarding %s for %s failed: %v", action.Kind, action.TargetAddress, err)
			break
		}
		rec.Outcome = models.OutcomeForwarded
		log.Printf("Dispatcher: forwarded %s for %s (%s)", action.Kind, action.TargetAddress, action.Reason)
	}

	d.log.Append(rec)
	return rec
}

// RecentActions returns the newest n archived records, oldest first.
func (d *Dispatcher) RecentActions(n int) []models.ActionRecord {
	return d.log.Tail(n)
}
