// Package registry holds the authoritative in-memory map of known devices
// and their liveness. The durable devices table follows this map; a store
// write failure never rolls back the in-memory state.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/robohub/internal/database"
)

// Device is one known device. Copies are handed out; the registry owns the
// canonical entry.
type Device struct {
	DeviceID       string         `json:"device_id"`
	DeviceType     string         `json:"device_type"`
	IsOnline       bool           `json:"is_online"`
	LastHeartbeat  time.Time      `json:"last_heartbeat"`
	ConnectedAt    time.Time      `json:"connected_at"`
	DisconnectedAt *time.Time     `json:"disconnected_at,omitempty"`
	Metadata       map[string]any `json:"metadata"`
}

// AuditStore is the slice of the database the registry writes through to.
type AuditStore interface {
	UpsertDevice(ctx context.Context, d database.DeviceRow) error
	MarkDeviceOffline(ctx context.Context, deviceID string, at time.Time) error
	InsertConnectionEvent(ctx context.Context, deviceID, deviceType, event string, at time.Time, details map[string]any) error
}

// EventSink receives connection lifecycle notifications for live subscribers.
type EventSink interface {
	DeviceEvent(deviceID, deviceType, event string)
}

type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device

	store  AuditStore
	events EventSink
	log    zerolog.Logger
	now    func() time.Time
}

func New(store AuditStore, events EventSink, log zerolog.Logger) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		store:   store,
		events:  events,
		log:     log.With().Str("component", "registry").Logger(),
		now:     time.Now,
	}
}

// Register creates or reactivates an entry and emits a connected (or
// reregistered) event. Returns true if the device was already online.
func (r *Registry) Register(ctx context.Context, deviceID, deviceType string, metadata map[string]any) bool {
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := r.now()

	r.mu.Lock()
	d, exists := r.devices[deviceID]
	wasOnline := exists && d.IsOnline
	if !exists {
		d = &Device{
			DeviceID:    deviceID,
			ConnectedAt: now,
		}
		r.devices[deviceID] = d
	}
	d.DeviceType = deviceType
	d.IsOnline = true
	d.LastHeartbeat = now
	d.DisconnectedAt = nil
	if d.ConnectedAt.IsZero() {
		d.ConnectedAt = now
	}
	d.Metadata = metadata
	row := r.rowLocked(d)
	r.mu.Unlock()

	event := database.EventConnected
	if wasOnline {
		event = database.EventReregistered
	}

	r.log.Info().
		Str("device_id", deviceID).
		Str("device_type", deviceType).
		Str("event", event).
		Msg("device registered")

	r.persist(ctx, row)
	r.emitEvent(ctx, deviceID, deviceType, event, now, nil)
	return wasOnline
}

// Touch updates last_heartbeat. Called on every inbound frame; the durable
// row is not written here (the reaper and registration keep it converged).
func (r *Registry) Touch(deviceID string) {
	now := r.now()
	r.mu.Lock()
	if d, ok := r.devices[deviceID]; ok {
		d.LastHeartbeat = now
	}
	r.mu.Unlock()
}

// MarkOffline flips the device offline and emits a disconnected or timeout
// event depending on reason. Returns false if the device is unknown or
// already offline.
func (r *Registry) MarkOffline(ctx context.Context, deviceID, reason string) bool {
	now := r.now()

	r.mu.Lock()
	d, ok := r.devices[deviceID]
	if !ok || !d.IsOnline {
		r.mu.Unlock()
		return false
	}
	d.IsOnline = false
	t := now
	d.DisconnectedAt = &t
	deviceType := d.DeviceType
	r.mu.Unlock()

	event := database.EventDisconnected
	if reason == "timeout" {
		event = database.EventTimeout
	}

	r.log.Info().
		Str("device_id", deviceID).
		Str("reason", reason).
		Msg("device offline")

	if err := r.store.MarkDeviceOffline(ctx, deviceID, now); err != nil {
		r.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to persist offline state")
	}
	r.emitEvent(ctx, deviceID, deviceType, event, now, map[string]any{"reason": reason})
	return true
}

// Get returns a copy of the device, if known.
func (r *Registry) Get(deviceID string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[deviceID]; ok {
		return *d, true
	}
	return Device{}, false
}

// List returns copies of all known devices.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	return out
}

// ListByType returns copies of the online devices of the given type.
func (r *Registry) ListByType(deviceType string) []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Device
	for _, d := range r.devices {
		if d.DeviceType == deviceType && d.IsOnline {
			out = append(out, *d)
		}
	}
	return out
}

// Stale returns the ids of online devices whose last heartbeat is older than
// timeout at the given instant. Used by the reaper.
func (r *Registry) Stale(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []string
	for id, d := range r.devices {
		if d.IsOnline && now.Sub(d.LastHeartbeat) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}

func (r *Registry) rowLocked(d *Device) database.DeviceRow {
	hb := d.LastHeartbeat
	ca := d.ConnectedAt
	return database.DeviceRow{
		DeviceID:       d.DeviceID,
		DeviceType:     d.DeviceType,
		IsOnline:       d.IsOnline,
		LastHeartbeat:  &hb,
		ConnectedAt:    &ca,
		DisconnectedAt: d.DisconnectedAt,
		Metadata:       d.Metadata,
	}
}

func (r *Registry) persist(ctx context.Context, row database.DeviceRow) {
	if err := r.store.UpsertDevice(ctx, row); err != nil {
		r.log.Error().Err(err).Str("device_id", row.DeviceID).Msg("failed to upsert device row")
	}
}

func (r *Registry) emitEvent(ctx context.Context, deviceID, deviceType, event string, at time.Time, details map[string]any) {
	if err := r.store.InsertConnectionEvent(ctx, deviceID, deviceType, event, at, details); err != nil {
		r.log.Error().Err(err).Str("device_id", deviceID).Str("event", event).Msg("failed to record connection event")
	}
	if r.events != nil {
		r.events.DeviceEvent(deviceID, deviceType, event)
	}
}
