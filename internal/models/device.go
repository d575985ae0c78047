package models

import "time"

// DeviceClass categorizes a connected peer. Set at connect time, immutable.
type DeviceClass string

const (
	ClassAirConditioner DeviceClass = "air_conditioner"
	ClassRefrigerator   DeviceClass = "refrigerator"
	ClassTV             DeviceClass = "tv"
	ClassHeadphones     DeviceClass = "headphones"
	ClassMobilePhone    DeviceClass = "mobile_phone"
	ClassUnknown        DeviceClass = "unknown"
)

// ParseDeviceClass maps a wire string to a known class, defaulting to unknown.
func ParseDeviceClass(s string) DeviceClass {
	switch DeviceClass(s) {
	case ClassAirConditioner, ClassRefrigerator, ClassTV, ClassHeadphones, ClassMobilePhone:
		return DeviceClass(s)
	}
	return ClassUnknown
}

// Priority is the connection priority of a device. Only the dispatcher may
// change it, via the registry.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities: 0 is most urgent, 3 least.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Status is the connection health of a device.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// Device represents one connected Bluetooth peer and its link state.
type Device struct {
	Address        string      `json:"address"`
	Name           string      `json:"name"`
	Class          DeviceClass `json:"class"`
	Priority       Priority    `json:"priority"`
	SignalStrength int         `json:"signal_dbm"`
	DataRate       float64     `json:"data_rate_bps"`
	Status         Status      `json:"status"`
	ConnectedAt    time.Time   `json:"connected_at"`
	LastUpdated    time.Time   `json:"last_updated"`
}
