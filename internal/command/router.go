// Package command dispatches directed commands to device classes and
// correlates acknowledgements back by command id.
package command

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/database"
	"github.com/snarg/robohub/internal/metrics"
	"github.com/snarg/robohub/internal/session"
)

// Sender is the slice of the session hub the router needs.
type Sender interface {
	SendToType(deviceType string, frame any) []session.TargetOutcome
}

// AuditStore persists command lifecycle records. Write failures are logged
// and do not fail the dispatch; the store follows the router.
type AuditStore interface {
	CreateCommand(ctx context.Context, c database.CommandRow) error
	UpdateCommandStatus(ctx context.Context, commandID, newStatus string, upd database.CommandStatusUpdate) error
}

// EventSink receives command lifecycle notifications for live subscribers.
type EventSink interface {
	CommandEvent(commandID, deviceType, commandName, status string)
}

type pendingAck struct {
	deviceType   string
	commandName  string
	expected     int
	received     int
	success      int
	deadline     time.Time
	lastResponse map[string]any
}

type Router struct {
	sessions   Sender
	store      AuditStore
	events     EventSink
	ackTimeout time.Duration
	log        zerolog.Logger
	now        func() time.Time
	newID      func() string

	mu      sync.Mutex
	pending map[string]*pendingAck
}

func NewRouter(sessions Sender, store AuditStore, events EventSink, ackTimeout time.Duration, log zerolog.Logger) *Router {
	return &Router{
		sessions:   sessions,
		store:      store,
		events:     events,
		ackTimeout: ackTimeout,
		log:        log.With().Str("component", "command_router").Logger(),
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
		pending:    make(map[string]*pendingAck),
	}
}

// Dispatch issues a command to every online session of the given type and
// registers an acknowledgement deadline. A zero ackTimeout uses the
// configured default. The returned record carries the post-dispatch state.
func (r *Router) Dispatch(ctx context.Context, deviceType, commandName string, payload map[string]any, ackTimeout time.Duration) (database.CommandRow, error) {
	if deviceType == "" || commandName == "" {
		return database.CommandRow{}, errors.New("device_type and command_name are required")
	}
	if ackTimeout <= 0 {
		ackTimeout = r.ackTimeout
	}
	if payload == nil {
		payload = map[string]any{}
	}

	now := r.now()
	rec := database.CommandRow{
		CommandID:   r.newID(),
		DeviceType:  deviceType,
		CommandName: commandName,
		Payload:     payload,
		Status:      database.StatusCreated,
		CreatedAt:   now,
	}

	if err := r.store.CreateCommand(ctx, rec); err != nil {
		r.log.Error().Err(err).Str("command_id", rec.CommandID).Msg("failed to persist command record")
	}

	frame := session.NewCommandFrame(rec.CommandID, commandName, payload)
	outcomes := r.sessions.SendToType(deviceType, frame)

	// Ack expectations track the fan-out that actually happened: only
	// successful enqueues count as targets.
	sent := 0
	for _, o := range outcomes {
		if o.Outcome == session.OutcomeOK {
			sent++
		}
	}
	rec.TargetDeviceCount = sent

	if sent == 0 {
		rec.Status = database.StatusNoTargets
		done := r.now()
		rec.CompletedAt = &done
		r.updateStatus(ctx, rec.CommandID, database.StatusNoTargets, database.CommandStatusUpdate{
			CompletedAt: &done,
			TargetCount: &rec.TargetDeviceCount,
		})
		r.notify(rec.CommandID, deviceType, commandName, database.StatusNoTargets)
		r.log.Info().
			Str("command_id", rec.CommandID).
			Str("device_type", deviceType).
			Str("command_name", commandName).
			Msg("command has no online targets")
		return rec, nil
	}

	executed := r.now()
	rec.Status = database.StatusSent
	rec.ExecutedAt = &executed
	r.updateStatus(ctx, rec.CommandID, database.StatusSent, database.CommandStatusUpdate{
		ExecutedAt:  &executed,
		TargetCount: &rec.TargetDeviceCount,
	})

	r.mu.Lock()
	r.pending[rec.CommandID] = &pendingAck{
		deviceType:  deviceType,
		commandName: commandName,
		expected:    sent,
		deadline:    now.Add(ackTimeout),
	}
	r.mu.Unlock()

	r.notify(rec.CommandID, deviceType, commandName, database.StatusSent)
	metrics.CommandsTotal.WithLabelValues(database.StatusSent).Inc()
	r.log.Info().
		Str("command_id", rec.CommandID).
		Str("device_type", deviceType).
		Str("command_name", commandName).
		Int("targets", sent).
		Msg("command dispatched")

	return rec, nil
}

// HandleAck correlates a command_ack frame by command id. Acks for unknown
// or already-completed commands are dropped with a log entry.
func (r *Router) HandleAck(deviceID string, f session.Frame) {
	if f.CommandID == "" {
		r.log.Warn().Str("device_id", deviceID).Msg("command_ack missing command_id, dropped")
		return
	}

	r.mu.Lock()
	p, ok := r.pending[f.CommandID]
	if !ok {
		r.mu.Unlock()
		r.log.Warn().
			Str("device_id", deviceID).
			Str("command_id", f.CommandID).
			Msg("ack for unknown or completed command, dropped")
		return
	}

	p.received++
	if f.Status == session.AckSuccess {
		p.success++
	}
	if f.Response != nil {
		p.lastResponse = f.Response
	}
	complete := p.received >= p.expected
	if complete {
		delete(r.pending, f.CommandID)
	}
	snapshot := *p
	r.mu.Unlock()

	r.log.Debug().
		Str("device_id", deviceID).
		Str("command_id", f.CommandID).
		Str("status", f.Status).
		Int("received", snapshot.received).
		Int("expected", snapshot.expected).
		Msg("command ack")

	if !complete {
		return
	}

	status := database.StatusAckSuccess
	if snapshot.success < snapshot.expected {
		status = database.StatusAckError
	}
	done := r.now()
	r.updateStatus(context.Background(), f.CommandID, status, database.CommandStatusUpdate{
		CompletedAt:  &done,
		SuccessCount: &snapshot.success,
		Response:     snapshot.lastResponse,
	})
	r.notify(f.CommandID, snapshot.deviceType, snapshot.commandName, status)
	metrics.CommandsTotal.WithLabelValues(status).Inc()
}

// SweepTimeouts transitions pending commands past their deadline to the
// timeout status. Piggy-backed on the reaper tick.
func (r *Router) SweepTimeouts(now time.Time) {
	type expired struct {
		id string
		p  pendingAck
	}

	r.mu.Lock()
	var out []expired
	for id, p := range r.pending {
		if now.After(p.deadline) {
			out = append(out, expired{id: id, p: *p})
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, e := range out {
		done := r.now()
		success := e.p.success
		r.updateStatus(context.Background(), e.id, database.StatusTimeout, database.CommandStatusUpdate{
			CompletedAt:  &done,
			SuccessCount: &success,
		})
		r.notify(e.id, e.p.deviceType, e.p.commandName, database.StatusTimeout)
		metrics.CommandsTotal.WithLabelValues(database.StatusTimeout).Inc()
		r.log.Warn().
			Str("command_id", e.id).
			Int("received", e.p.received).
			Int("expected", e.p.expected).
			Msg("command timed out waiting for acks")
	}
}

// PendingCount returns the number of commands awaiting acknowledgement.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) updateStatus(ctx context.Context, commandID, status string, upd database.CommandStatusUpdate) {
	if err := r.store.UpdateCommandStatus(ctx, commandID, status, upd); err != nil {
		r.log.Error().Err(err).
			Str("command_id", commandID).
			Str("status", status).
			Msg("failed to persist command status")
	}
}

func (r *Router) notify(commandID, deviceType, commandName, status string) {
	if r.events != nil {
		r.events.CommandEvent(commandID, deviceType, commandName, status)
	}
}
