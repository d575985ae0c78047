package ingest

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"btmonitor/internal/models"
	"btmonitor/internal/registry"
)

// ErrInvalidInterval is returned for samples whose elapsed interval is not
// positive; the device's prior signal and rate are left untouched.
var ErrInvalidInterval = errors.New("ingest: elapsed interval must be positive")

// Signal readings are clamped to the plausible dBm range before they reach
// the registry.
const (
	signalFloorDbm = -100
	signalCeilDbm  = 0
)

// Collector accepts raw telemetry samples from the radio boundary and folds
// them into a latest-wins pending set. The session loop drains the set once
// per tick, so one slow producer never stalls the cadence.
type Collector struct {
	reg *registry.Registry

	// SampleChan is written by the MQTT subscriber (or a simulation
	// harness) and consumed by Start.
	SampleChan chan *models.TelemetrySample

	mu      sync.Mutex
	pending map[string]*models.TelemetrySample
}

// NewCollector creates a collector feeding the given registry.
func NewCollector(reg *registry.Registry, channelSize int) *Collector {
	if channelSize <= 0 {
		channelSize = 64
	}
	return &Collector{
		reg:        reg,
		SampleChan: make(chan *models.TelemetrySample, channelSize),
		pending:    make(map[string]*models.TelemetrySample),
	}
}

// Start consumes SampleChan until the context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	log.Println("Ingest: collector started")
	for {
		select {
		case <-ctx.Done():
			log.Println("Ingest: collector shutting down")
			return
		case sample, ok := <-c.SampleChan:
			if !ok {
				return
			}
			c.Offer(sample)
		}
	}
}

// Offer records a sample as pending for its device. A newer sample for the
// same address replaces the older one.
func (c *Collector) Offer(sample *models.TelemetrySample) {
	c.mu.Lock()
	c.pending[sample.Address] = sample
	c.mu.Unlock()
}

// Drain returns and clears the pending set.
func (c *Collector) Drain() []*models.TelemetrySample {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*models.TelemetrySample, 0, len(c.pending))
	for _, sample := range c.pending {
		out = append(out, sample)
	}
	c.pending = make(map[string]*models.TelemetrySample)
	return out
}

// Ingest validates one sample, derives the data rate and writes the result
// into the registry. Validation happens before any mutation so a bad sample
// leaves the device exactly as it was.
func (c *Collector) Ingest(sample *models.TelemetrySample) error {
	if sample.ElapsedSeconds <= 0 {
		return ErrInvalidInterval
	}

	signal := sample.SignalDbm
	if signal < signalFloorDbm {
		signal = signalFloorDbm
	}
	if signal > signalCeilDbm {
		signal = signalCeilDbm
	}

	rate := float64(sample.BytesSinceLast) / sample.ElapsedSeconds

	now := sample.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	return c.reg.ApplyTelemetry(sample.Address, signal, rate, now)
}
