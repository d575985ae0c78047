package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"btmonitor/internal/dispatcher"
	"btmonitor/internal/ingest"
	"btmonitor/internal/models"
	"btmonitor/internal/policy"
	"btmonitor/internal/registry"
)

// State is the lifecycle of a monitoring session.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Archiver persists telemetry and decisions. All calls are best-effort; a
// failing archive never fails a tick.
type Archiver interface {
	SaveTelemetry(dev *models.Device) error
	SaveAction(rec *models.ActionRecord) error
	SavePriorityChange(chg registry.PriorityChange) error
}

// Config holds the session tunables.
type Config struct {
	TickInterval      time.Duration
	StaleTimeout      time.Duration
	DisconnectTimeout time.Duration
	WeakSignalDbm     int
	ActionLogTail     int
	SnapshotBuffer    int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Second,
		StaleTimeout:      5 * time.Second,
		DisconnectTimeout: 15 * time.Second,
		WeakSignalDbm:     -85,
		ActionLogTail:     20,
		SnapshotBuffer:    8,
	}
}

// Loop orchestrates the periodic telemetry ticks. Ticks are strictly
// serialized: one logical writer per registry entry per tick.
type Loop struct {
	cfg       Config
	reg       *registry.Registry
	collector *ingest.Collector
	engine    policy.Engine
	disp      *dispatcher.Dispatcher
	archiver  Archiver

	mu        sync.Mutex
	state     State
	tick      uint64
	stats     models.SessionStats
	auditSeen int

	// SnapshotChan receives one immutable snapshot per tick. Writes are
	// non-blocking; a lagging observer misses snapshots rather than
	// stalling the cadence.
	SnapshotChan chan *models.StatusSnapshot
}

// NewLoop wires a session loop. archiver may be nil.
func NewLoop(cfg Config, reg *registry.Registry, collector *ingest.Collector, engine policy.Engine, disp *dispatcher.Dispatcher, archiver Archiver) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ActionLogTail <= 0 {
		cfg.ActionLogTail = 20
	}
	if cfg.SnapshotBuffer <= 0 {
		cfg.SnapshotBuffer = 8
	}
	return &Loop{
		cfg:          cfg,
		reg:          reg,
		collector:    collector,
		engine:       engine,
		disp:         disp,
		archiver:     archiver,
		state:        StateIdle,
		SnapshotChan: make(chan *models.StatusSnapshot, cfg.SnapshotBuffer),
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run transitions Idle→Running and drives the tick cadence until the context
// is cancelled. Cancellation transitions through Stopping, lets the in-flight
// tick finish at per-device granularity, then lands in Stopped.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateIdle {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("session: cannot start from state %q", state)
	}
	l.state = StateRunning
	l.stats.StartedAt = time.Now()
	l.mu.Unlock()

	log.Printf("Session: monitoring started, tick every %v", l.cfg.TickInterval)

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.setState(StateStopping)
			log.Println("Session: stop requested")
			l.setState(StateStopped)
			log.Println("Session: stopped")
			return nil
		case <-ticker.C:
			l.RunTick(ctx)
		}
	}
}

// RunTick executes exactly one tick: staleness sweep, telemetry ingest,
// context freeze, per-device evaluate+dispatch, snapshot. Per-device errors
// are isolated into the snapshot diagnostics and never abort the tick.
func (l *Loop) RunTick(ctx context.Context) *models.StatusSnapshot {
	l.mu.Lock()
	l.tick++
	tick := l.tick
	l.mu.Unlock()

	var diags []string
	now := time.Now()

	for _, dev := range l.reg.SweepStale(now, l.cfg.StaleTimeout, l.cfg.DisconnectTimeout) {
		diags = append(diags, fmt.Sprintf("%s transitioned to %s, no telemetry since %s",
			dev.Address, dev.Status, dev.LastUpdated.Format(time.RFC3339)))
	}

	for _, sample := range l.collector.Drain() {
		if err := l.collector.Ingest(sample); err != nil {
			diags = append(diags, fmt.Sprintf("ingest %s: %v", sample.Address, err))
			continue
		}
		l.mu.Lock()
		l.stats.SamplesProcessed++
		l.stats.TotalBytes += sample.BytesSinceLast
		l.mu.Unlock()

		if l.archiver != nil {
			if dev, ok := l.reg.Lookup(sample.Address); ok {
				if err := l.archiver.SaveTelemetry(&dev); err != nil {
					log.Printf("Session: archiving telemetry for %s: %v", sample.Address, err)
				}
			}
		}
	}

	// Context is frozen before any of this tick's dispatches mutate state,
	// so every evaluation in the tick sees the same aggregate view.
	devices := l.reg.ListActive()
	sysCtx := l.buildContext(devices, now)

	for _, dev := range devices {
		if ctx.Err() != nil {
			diags = append(diags, "tick abandoned: stop requested")
			break
		}
		if dev.Status == models.StatusDisconnected {
			continue
		}

		for _, action := range l.engine.Evaluate(dev, sysCtx) {
			rec := l.disp.Apply(action)

			l.mu.Lock()
			switch rec.Outcome {
			case models.OutcomeApplied, models.OutcomeForwarded:
				l.stats.OptimizationsApplied++
			case models.OutcomeSkipped:
				l.stats.DispatchRaces++
			}
			l.mu.Unlock()

			if l.archiver != nil {
				if err := l.archiver.SaveAction(&rec); err != nil {
					log.Printf("Session: archiving action %s: %v", rec.Action.ID, err)
				}
			}
		}
	}

	l.archiveAudit()

	snap := &models.StatusSnapshot{
		Tick:          tick,
		Timestamp:     time.Now(),
		State:         string(l.State()),
		Devices:       l.reg.ListActive(),
		RecentActions: l.disp.RecentActions(l.cfg.ActionLogTail),
		Diagnostics:   diags,
		Stats:         l.statsCopy(),
	}

	select {
	case l.SnapshotChan <- snap:
	default:
		// Observer lagging; snapshots are advisory.
	}
	return snap
}

func (l *Loop) buildContext(devices []models.Device, now time.Time) models.SystemContext {
	sysCtx := models.SystemContext{Timestamp: now}
	for _, dev := range devices {
		if dev.Status == models.StatusDisconnected {
			continue
		}
		sysCtx.TotalDevices++
		sysCtx.TotalThroughputBps += dev.DataRate
		if dev.SignalStrength < l.cfg.WeakSignalDbm {
			sysCtx.WeakSignalCount++
		}
		if rank := dev.Priority.Rank(); rank > sysCtx.LowestPriorityRank {
			sysCtx.LowestPriorityRank = rank
		}
	}
	return sysCtx
}

// archiveAudit persists priority-change audit entries that appeared since the
// previous tick.
func (l *Loop) archiveAudit() {
	if l.archiver == nil {
		return
	}

	trail := l.reg.AuditTrail()

	l.mu.Lock()
	seen := l.auditSeen
	l.auditSeen = len(trail)
	l.mu.Unlock()

	for _, chg := range trail[seen:] {
		if err := l.archiver.SavePriorityChange(chg); err != nil {
			log.Printf("Session: archiving priority change for %s: %v", chg.Address, err)
		}
	}
}

func (l *Loop) statsCopy() models.SessionStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
