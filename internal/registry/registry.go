package registry

import (
	"errors"
	"sync"
	"time"

	"btmonitor/internal/models"
)

var (
	// ErrDuplicateAddress is returned when connecting an address that already
	// has a live registry entry.
	ErrDuplicateAddress = errors.New("registry: duplicate device address")

	// ErrUnknownDevice is returned for operations on an address that was
	// never connected or was explicitly removed.
	ErrUnknownDevice = errors.New("registry: unknown device")
)

// PriorityChange is one audit entry. Every priority transition in the system
// has exactly one of these explaining it.
type PriorityChange struct {
	Address   string          `json:"address"`
	From      models.Priority `json:"from"`
	To        models.Priority `json:"to"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
}

// Registry holds the set of currently connected devices. It is the single
// owner of mutable device state; observers only ever receive copies.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*models.Device
	order   []string
	audit   []PriorityChange
}

func New() *Registry {
	return &Registry{
		devices: make(map[string]*models.Device),
	}
}

// Connect registers a new device with medium priority. Fails with
// ErrDuplicateAddress while a live entry exists for the address.
func (r *Registry) Connect(address, name string, class models.DeviceClass) (models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[address]; exists {
		return models.Device{}, ErrDuplicateAddress
	}

	now := time.Now()
	dev := &models.Device{
		Address:     address,
		Name:        name,
		Class:       class,
		Priority:    models.PriorityMedium,
		Status:      models.StatusConnected,
		ConnectedAt: now,
		LastUpdated: now,
	}
	r.devices[address] = dev
	r.order = append(r.order, address)

	return *dev, nil
}

// Lookup returns a copy of the device, if present.
func (r *Registry) Lookup(address string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[address]
	if !ok {
		return models.Device{}, false
	}
	return *dev, true
}

// ApplyTelemetry updates signal and rate for a device. This is the only
// writer of those fields; the telemetry collector calls it once per sample.
// A device that was reconnecting is restored to connected.
func (r *Registry) ApplyTelemetry(address string, signalDbm int, dataRate float64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[address]
	if !ok {
		return ErrUnknownDevice
	}

	dev.SignalStrength = signalDbm
	dev.DataRate = dataRate
	dev.LastUpdated = now
	if dev.Status != models.StatusConnected {
		dev.Status = models.StatusConnected
	}
	return nil
}

// SetPriority is the sole priority mutator. Each call appends an audit entry
// so every observed transition is explainable.
func (r *Registry) SetPriority(address string, priority models.Priority, reason string) (models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[address]
	if !ok {
		return models.Device{}, ErrUnknownDevice
	}

	r.audit = append(r.audit, PriorityChange{
		Address:   address,
		From:      dev.Priority,
		To:        priority,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	dev.Priority = priority

	return *dev, nil
}

// Disconnect removes a device. Removal is always explicit; staleness never
// deletes an entry.
func (r *Registry) Disconnect(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[address]; !ok {
		return ErrUnknownDevice
	}
	delete(r.devices, address)
	for i, addr := range r.order {
		if addr == address {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListActive returns copies of all live entries in insertion order.
func (r *Registry) ListActive() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Device, 0, len(r.order))
	for _, addr := range r.order {
		if dev, ok := r.devices[addr]; ok {
			out = append(out, *dev)
		}
	}
	return out
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// SweepStale walks the staleness ladder: a device with no telemetry for
// staleAfter becomes reconnecting, and after dropAfter disconnected. Entries
// are never removed. Returns copies of the devices that transitioned.
func (r *Registry) SweepStale(now time.Time, staleAfter, dropAfter time.Duration) []models.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []models.Device
	for _, addr := range r.order {
		dev, ok := r.devices[addr]
		if !ok {
			continue
		}
		idle := now.Sub(dev.LastUpdated)
		switch {
		case idle >= dropAfter && dev.Status != models.StatusDisconnected:
			dev.Status = models.StatusDisconnected
			changed = append(changed, *dev)
		case idle >= staleAfter && idle < dropAfter && dev.Status == models.StatusConnected:
			dev.Status = models.StatusReconnecting
			changed = append(changed, *dev)
		}
	}
	return changed
}

// AuditTrail returns a copy of all recorded priority changes.
func (r *Registry) AuditTrail() []PriorityChange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PriorityChange, len(r.audit))
	copy(out, r.audit)
	return out
}
