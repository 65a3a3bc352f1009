package gattserver

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"

	"cloudpico-bridge/internal/ess"
)

// Registry is the single piece of state shared between the request
// handlers and the notifier: the connected devices, the devices with
// notifications enabled and the last encoded value of each characteristic.
//
// Subscriptions are per device, not per characteristic.
type Registry struct {
	mu         sync.Mutex
	connected  map[string]RemoteDevice
	subscribed map[string]RemoteDevice
	values     map[uuid.UUID][]byte
}

func NewRegistry() *Registry {
	return &Registry{
		connected:  make(map[string]RemoteDevice),
		subscribed: make(map[string]RemoteDevice),
		values:     make(map[uuid.UUID][]byte),
	}
}

// WriteConfig applies a client configuration write. A nil error means the
// write was accepted.
func (r *Registry) WriteConfig(dev RemoteDevice, descriptor uuid.UUID, value []byte) error {
	if descriptor != ess.ClientConfigUUID {
		return ErrAttributeNotFound
	}

	switch {
	case bytes.Equal(value, ess.EnableNotificationValue):
		r.Subscribe(dev)
	case bytes.Equal(value, ess.DisableNotificationValue):
		r.Unsubscribe(dev)
	default:
		return ErrInvalidValue
	}
	return nil
}

// ReadConfig returns the client configuration value as seen by dev.
func (r *Registry) ReadConfig(dev RemoteDevice, descriptor uuid.UUID) ([]byte, error) {
	if descriptor != ess.ClientConfigUUID {
		return nil, ErrAttributeNotFound
	}

	r.mu.Lock()
	_, ok := r.subscribed[dev.ID()]
	r.mu.Unlock()

	if ok {
		return bytes.Clone(ess.EnableNotificationValue), nil
	}
	return bytes.Clone(ess.DisableNotificationValue), nil
}

func (r *Registry) Subscribe(dev RemoteDevice) {
	r.mu.Lock()
	r.subscribed[dev.ID()] = dev
	r.mu.Unlock()
}

func (r *Registry) Unsubscribe(dev RemoteDevice) {
	r.mu.Lock()
	delete(r.subscribed, dev.ID())
	r.mu.Unlock()
}

// Connect records dev as known. It does not subscribe it.
func (r *Registry) Connect(dev RemoteDevice) {
	r.mu.Lock()
	r.connected[dev.ID()] = dev
	r.mu.Unlock()
}

// Disconnect forgets dev entirely. Safe to call repeatedly.
func (r *Registry) Disconnect(dev RemoteDevice) {
	r.mu.Lock()
	delete(r.connected, dev.ID())
	delete(r.subscribed, dev.ID())
	r.mu.Unlock()
}

// Reset drops every device but keeps the cached values.
func (r *Registry) Reset() {
	r.mu.Lock()
	clear(r.connected)
	clear(r.subscribed)
	r.mu.Unlock()
}

// Snapshot returns the subscribed devices ordered by ID.
func (r *Registry) Snapshot() []RemoteDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Publish stores value as the current value of characteristic and returns
// the subscribers at that same instant.
func (r *Registry) Publish(characteristic uuid.UUID, value []byte) []RemoteDevice {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values[characteristic] = bytes.Clone(value)
	return r.snapshotLocked()
}

// Value returns a copy of the cached value of characteristic.
func (r *Registry) Value(characteristic uuid.UUID) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.values[characteristic]
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

func (r *Registry) IsSubscribed(dev RemoteDevice) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subscribed[dev.ID()]
	return ok
}

// Counts returns the number of connected and subscribed devices.
func (r *Registry) Counts() (connected, subscribed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected), len(r.subscribed)
}

func (r *Registry) snapshotLocked() []RemoteDevice {
	if len(r.subscribed) == 0 {
		return nil
	}
	out := make([]RemoteDevice, 0, len(r.subscribed))
	for _, d := range r.subscribed {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
