package models

import "time"

// TelemetrySample is one raw link reading for a device, as produced by the
// radio layer or a test harness.
type TelemetrySample struct {
	Address        string    `json:"address"`
	SignalDbm      int       `json:"signal_dbm"`
	BytesSinceLast uint64    `json:"bytes"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	ReceivedAt     time.Time `json:"received_at"`
}

// PresenceEvent announces a device appearing on or leaving the link.
type PresenceEvent struct {
	Address string      `json:"address"`
	Name    string      `json:"name"`
	Class   DeviceClass `json:"class"`
	Online  bool        `json:"online"`
}

// SystemContext is the aggregate view of the link, frozen once per tick
// before any evaluation. Read-only input to the policy engine.
type SystemContext struct {
	Timestamp          time.Time `json:"timestamp"`
	TotalDevices       int       `json:"total_devices"`
	TotalThroughputBps float64   `json:"total_throughput_bps"`
	WeakSignalCount    int       `json:"weak_signal_count"`

	// LowestPriorityRank is the least-urgent priority rank present among the
	// counted devices, so reclamation can target the lowest tier that
	// actually exists in the fleet.
	LowestPriorityRank int `json:"lowest_priority_rank"`
}

// SessionStats are cumulative counters for one monitoring session.
type SessionStats struct {
	TotalBytes           uint64    `json:"total_bytes"`
	SamplesProcessed     uint64    `json:"samples_processed"`
	OptimizationsApplied uint64    `json:"optimizations_applied"`
	DispatchRaces        uint64    `json:"dispatch_races"`
	StartedAt            time.Time `json:"started_at"`
}

// StatusSnapshot is the immutable per-tick view handed to observers. It
// carries copies only, never references to live registry state.
type StatusSnapshot struct {
	Tick          uint64         `json:"tick"`
	Timestamp     time.Time      `json:"timestamp"`
	State         string         `json:"state"`
	Devices       []Device       `json:"devices"`
	RecentActions []ActionRecord `json:"recent_actions"`
	Diagnostics   []string       `json:"diagnostics,omitempty"`
	Stats         SessionStats   `json:"stats"`
}
