package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btmonitor/internal/dispatcher"
	"btmonitor/internal/driver"
	"btmonitor/internal/ingest"
	"btmonitor/internal/models"
	"btmonitor/internal/policy"
	"btmonitor/internal/registry"
)

type harness struct {
	reg       *registry.Registry
	collector *ingest.Collector
	loop      *Loop
}

func newHarness(t *testing.T, cfg Config, archiver Archiver) *harness {
	t.Helper()

	reg := registry.New()
	collector := ingest.NewCollector(reg, 32)
	engine := policy.NewRuleEngine(policy.DefaultThresholds())
	disp := dispatcher.New(reg, driver.NopForwarder{}, 50)

	return &harness{
		reg:       reg,
		collector: collector,
		loop:      NewLoop(cfg, reg, collector, engine, disp, archiver),
	}
}

type memoryArchiver struct {
	mu        sync.Mutex
	telemetry []models.Device
	actions   []models.ActionRecord
	changes   []registry.PriorityChange
}

func (a *memoryArchiver) SaveTelemetry(dev *models.Device) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.telemetry = append(a.telemetry, *dev)
	return nil
}

func (a *memoryArchiver) SaveAction(rec *models.ActionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, *rec)
	return nil
}

func (a *memoryArchiver) SavePriorityChange(chg registry.PriorityChange) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.changes = append(a.changes, chg)
	return nil
}

func sample(address string, signal int, bytes uint64) *models.TelemetrySample {
	return &models.TelemetrySample{
		Address:        address,
		SignalDbm:      signal,
		BytesSinceLast: bytes,
		ElapsedSeconds: 1.0,
		ReceivedAt:     time.Now(),
	}
}

func TestRunTransitionsStates(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	h := newHarness(t, cfg, nil)

	assert.Equal(t, StateIdle, h.loop.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.loop.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.Equal(t, StateStopped, h.loop.State())
}

func TestRunRejectsNonIdleStart(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	h := newHarness(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.loop.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	err := h.loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running")

	cancel()
	<-done

	// A stopped session never restarts
	err = h.loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}

func TestTickAppliesAudioElevation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	_, err := h.reg.Connect("A8:11:7F:32:01:45", "Sony XM4", models.ClassHeadphones)
	require.NoError(t, err)

	// 6 MB over one second: well above the audio streaming line
	h.collector.Offer(sample("A8:11:7F:32:01:45", -62, 6_000_000))

	snap := h.loop.RunTick(context.Background())

	dev, ok := h.reg.Lookup("A8:11:7F:32:01:45")
	require.True(t, ok)
	assert.Equal(t, models.PriorityCritical, dev.Priority)

	require.Len(t, snap.RecentActions, 1)
	assert.Equal(t, models.KindPriorityElevate, snap.RecentActions[0].Action.Kind)
	assert.Equal(t, models.OutcomeApplied, snap.RecentActions[0].Outcome)
	assert.Equal(t, uint64(1), snap.Stats.OptimizationsApplied)
	assert.Equal(t, uint64(6_000_000), snap.Stats.TotalBytes)
}

func TestTickIsolatesIngestErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	_, err := h.reg.Connect("A8:11:7F:32:01:45", "Sony XM4", models.ClassHeadphones)
	require.NoError(t, err)

	bad := sample("A8:11:7F:32:01:45", -60, 1000)
	bad.ElapsedSeconds = 0
	h.collector.Offer(bad)
	h.collector.Offer(sample("DE:AD:BE:EF:00:00", -60, 1000))

	snap := h.loop.RunTick(context.Background())

	// Both failures surface as diagnostics; neither aborts the tick
	assert.Len(t, snap.Diagnostics, 2)
	assert.Equal(t, uint64(0), snap.Stats.SamplesProcessed)
	assert.Equal(t, uint64(1), snap.Tick)
}

func TestTickFreezesSystemContext(t *testing.T) {
	t.Parallel()

	// Capacity of 2 makes a 3-device fleet over capacity.
	reg := registry.New()
	collector := ingest.NewCollector(reg, 32)
	engine := policy.NewRuleEngine(policy.Thresholds{
		WeakSignalDbm: -85,
		AudioRateBps:  625_000,
		Capacity:      2,
		BurstFactor:   3.0,
		BurstFloorBps: 50_000,
	})
	disp := dispatcher.New(reg, driver.NopForwarder{}, 50)
	loop := NewLoop(DefaultConfig(), reg, collector, engine, disp, nil)

	addrs := []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03"}
	for _, addr := range addrs {
		_, err := reg.Connect(addr, addr, models.ClassMobilePhone)
		require.NoError(t, err)
		_, err = reg.SetPriority(addr, models.PriorityLow, "test setup")
		require.NoError(t, err)
	}

	snap := loop.RunTick(context.Background())

	// Every low-priority device saw the same over-capacity context
	reallocs := 0
	for _, rec := range snap.RecentActions {
		if rec.Action.Kind == models.KindBandwidthReallocate {
			reallocs++
		}
	}
	assert.Equal(t, 3, reallocs)
}

func TestDisconnectedDevicesExcludedFromEvaluation(t *testing.T) {
	t.Parallel()

	// Capacity of 1 so counting a disconnected device would trip rule 4.
	reg := registry.New()
	collector := ingest.NewCollector(reg, 32)
	engine := policy.NewRuleEngine(policy.Thresholds{
		WeakSignalDbm: -85,
		AudioRateBps:  625_000,
		Capacity:      1,
		BurstFactor:   3.0,
		BurstFloorBps: 50_000,
	})
	disp := dispatcher.New(reg, driver.NopForwarder{}, 50)

	cfg := DefaultConfig()
	cfg.StaleTimeout = time.Nanosecond
	cfg.DisconnectTimeout = time.Millisecond
	loop := NewLoop(cfg, reg, collector, engine, disp, nil)

	for _, addr := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02"} {
		_, err := reg.Connect(addr, addr, models.ClassMobilePhone)
		require.NoError(t, err)
		_, err = reg.SetPriority(addr, models.PriorityLow, "test setup")
		require.NoError(t, err)
	}

	// Both go past the disconnect line; fresh telemetry restores only one
	time.Sleep(5 * time.Millisecond)
	collector.Offer(sample("AA:00:00:00:00:01", -60, 1000))

	snap := loop.RunTick(context.Background())

	statuses := map[string]models.Status{}
	for _, dev := range snap.Devices {
		statuses[dev.Address] = dev.Status
	}
	assert.Equal(t, models.StatusConnected, statuses["AA:00:00:00:00:01"])
	assert.Equal(t, models.StatusDisconnected, statuses["AA:00:00:00:00:02"])

	// One counted device is within capacity, so the disconnected entry was
	// neither counted nor evaluated: no reallocation fires.
	assert.Empty(t, snap.RecentActions)
}

func TestTickSweepsStaleDevices(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StaleTimeout = time.Nanosecond
	cfg.DisconnectTimeout = time.Hour
	h := newHarness(t, cfg, nil)

	_, err := h.reg.Connect("A8:11:7F:32:01:45", "Sony XM4", models.ClassHeadphones)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	snap := h.loop.RunTick(context.Background())

	require.Len(t, snap.Devices, 1)
	assert.Equal(t, models.StatusReconnecting, snap.Devices[0].Status)
	require.Len(t, snap.Diagnostics, 1)
	assert.Contains(t, snap.Diagnostics[0], "reconnecting")
}

func TestTickArchivesThroughArchiver(t *testing.T) {
	t.Parallel()

	arch := &memoryArchiver{}
	h := newHarness(t, DefaultConfig(), arch)

	_, err := h.reg.Connect("A8:11:7F:32:01:45", "Sony XM4", models.ClassHeadphones)
	require.NoError(t, err)

	h.collector.Offer(sample("A8:11:7F:32:01:45", -62, 6_000_000))
	h.loop.RunTick(context.Background())

	require.Len(t, arch.telemetry, 1)
	assert.Equal(t, float64(6_000_000), arch.telemetry[0].DataRate)
	require.Len(t, arch.actions, 1)
	assert.Equal(t, models.KindPriorityElevate, arch.actions[0].Action.Kind)
	require.Len(t, arch.changes, 1)
	assert.Equal(t, models.PriorityCritical, arch.changes[0].To)

	// Second tick archives nothing new
	h.loop.RunTick(context.Background())
	assert.Len(t, arch.changes, 1)
}

func TestSnapshotIsImmutable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	_, err := h.reg.Connect("A8:11:7F:32:01:45", "Sony XM4", models.ClassHeadphones)
	require.NoError(t, err)

	snap := h.loop.RunTick(context.Background())
	require.Len(t, snap.Devices, 1)

	snap.Devices[0].Priority = models.PriorityLow
	snap.Devices[0].Name = "mutated"

	dev, ok := h.reg.Lookup("A8:11:7F:32:01:45")
	require.True(t, ok)
	assert.Equal(t, models.PriorityMedium, dev.Priority)
	assert.Equal(t, "Sony XM4", dev.Name)
}

func TestSnapshotDeliveredNonBlocking(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SnapshotBuffer = 1
	h := newHarness(t, cfg, nil)

	// Nobody reads SnapshotChan; extra snapshots are dropped, ticks continue
	for i := 0; i < 5; i++ {
		h.loop.RunTick(context.Background())
	}

	snap := <-h.loop.SnapshotChan
	assert.Equal(t, uint64(1), snap.Tick)

	select {
	case extra := <-h.loop.SnapshotChan:
		t.Fatalf("unexpected buffered snapshot for tick %d", extra.Tick)
	default:
	}
}

func TestTickAbandonsOnCancelledContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	for _, addr := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02"} {
		_, err := h.reg.Connect(addr, addr, models.ClassHeadphones)
		require.NoError(t, err)
		h.collector.Offer(sample(addr, -60, 6_000_000))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := h.loop.RunTick(ctx)

	// Ingest completed, but the evaluate/dispatch phase never ran
	assert.Equal(t, uint64(2), snap.Stats.SamplesProcessed)
	assert.Empty(t, snap.RecentActions)
	assert.Contains(t, snap.Diagnostics, "tick abandoned: stop requested")
}
