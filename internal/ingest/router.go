// Package ingest routes inbound device frames to the registry, the audit
// store, and the command router. It is the FrameHandler installed on the
// session hub.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/registry"
	"github.com/snarg/robohub/internal/session"
)

const writeTimeout = 10 * time.Second

// SnapshotStore persists telemetry snapshots.
type SnapshotStore interface {
	InsertStateSnapshot(ctx context.Context, deviceID, deviceType string, payload map[string]any, at time.Time) error
}

// AckHandler correlates command_ack frames. Implemented by the command router.
type AckHandler interface {
	HandleAck(deviceID string, f session.Frame)
}

type Router struct {
	registry *registry.Registry
	store    SnapshotStore
	acks     AckHandler
	log      zerolog.Logger
	now      func() time.Time
}

func NewRouter(reg *registry.Registry, store SnapshotStore, acks AckHandler, log zerolog.Logger) *Router {
	return &Router{
		registry: reg,
		store:    store,
		acks:     acks,
		log:      log.With().Str("component", "ingest").Logger(),
		now:      time.Now,
	}
}

// HandleFrame dispatches one inbound frame by its discriminator. Every
// frame counts as liveness.
func (r *Router) HandleFrame(deviceID string, f session.Frame) {
	r.registry.Touch(deviceID)

	switch f.MessageType {
	case session.TypeRegistration:
		r.handleRegistration(deviceID, f)
	case session.TypeHeartbeat:
		// Liveness only; the touch above is the whole effect.
	case session.TypeStatus:
		r.handleStatus(deviceID, f)
	case session.TypeCommandAck:
		r.acks.HandleAck(deviceID, f)
	case session.TypeAudioChunk, session.TypeAudioResponseEnd:
		// Device-side audio control; counts as liveness, nothing to route.
		r.log.Debug().Str("device_id", deviceID).Str("message_type", f.MessageType).Msg("audio control frame")
	default:
		r.log.Warn().
			Str("device_id", deviceID).
			Str("message_type", f.MessageType).
			Msg("unknown message type, frame dropped")
	}
}

func (r *Router) handleRegistration(deviceID string, f session.Frame) {
	if f.DeviceType == "" {
		r.log.Warn().Str("device_id", deviceID).Msg("registration missing device_type, dropped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	r.registry.Register(ctx, deviceID, f.DeviceType, f.Metadata)
}

func (r *Router) handleStatus(deviceID string, f session.Frame) {
	deviceType := f.DeviceType
	if d, ok := r.registry.Get(deviceID); ok && d.DeviceType != "" {
		deviceType = d.DeviceType
	}
	if deviceType == "" {
		r.log.Warn().Str("device_id", deviceID).Msg("status frame from unregistered device, dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.InsertStateSnapshot(ctx, deviceID, deviceType, f.Payload, r.now()); err != nil {
		r.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to persist state snapshot")
	}
}
