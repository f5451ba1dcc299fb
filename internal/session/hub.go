// Package session owns the live bidirectional channels, one per device id.
// Each accepted connection runs an inbound dispatcher and an outbound pump;
// the hub map is locked only for insert/remove/lookup, never across I/O.
package session

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/metrics"
)

// reservedIDs are role words used by the dashboard and tooling. Connects
// claiming one of these are refused to prevent impersonation by browser
// clients sharing the endpoint.
var reservedIDs = map[string]bool{
	"dashboard": true,
	"browser":   true,
	"servo":     true,
	"wheel":     true,
	"audio":     true,
	"operator":  true,
}

// ErrReservedID is returned by Accept for a reserved device id.
var ErrReservedID = errors.New("reserved device id")

// Reserved reports whether the device id is refused by Accept. Lets the
// HTTP layer reject before upgrading the connection.
func Reserved(deviceID string) bool {
	return reservedIDs[deviceID]
}

// FrameHandler receives every parsed inbound frame. Implemented by the
// ingest router.
type FrameHandler interface {
	HandleFrame(deviceID string, f Frame)
}

// EndedFunc is called after a session is removed from the hub for any reason
// other than replacement by a re-registration.
type EndedFunc func(deviceID, reason string)

type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session

	handler  FrameHandler
	onEnded  EndedFunc
	queueCap int
	log      zerolog.Logger
}

func NewHub(handler FrameHandler, queueCap int, log zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		handler:  handler,
		queueCap: queueCap,
		log:      log.With().Str("component", "sessions").Logger(),
	}
}

// SetOnEnded installs the session-ended hook. Must be called before Accept.
func (h *Hub) SetOnEnded(fn EndedFunc) {
	h.onEnded = fn
}

// SetHandler installs the frame handler. Must be called before Accept; the
// handler chain is built after the hub because it dispatches back through it.
func (h *Hub) SetHandler(handler FrameHandler) {
	h.handler = handler
}

// Accept installs a session for the device id and starts its two loops.
// A prior session for the same id is closed first with reason
// "reregistered". Reserved ids are refused and the channel closed.
func (h *Hub) Accept(deviceID string, conn Conn) error {
	if reservedIDs[deviceID] {
		h.log.Warn().Str("device_id", deviceID).Msg("rejecting reserved device id")
		_ = conn.Close()
		return ErrReservedID
	}

	s := newSession(deviceID, conn, h.queueCap)

	h.mu.Lock()
	prior := h.sessions[deviceID]
	h.sessions[deviceID] = s
	n := len(h.sessions)
	h.mu.Unlock()

	if prior != nil {
		prior.close("reregistered")
	}

	metrics.SessionsActive.Set(float64(n))
	h.log.Info().Str("device_id", deviceID).Msg("session accepted")

	go h.readLoop(s)
	go h.writeLoop(s)
	return nil
}

// Send enqueues one frame to the named device.
func (h *Hub) Send(deviceID string, frame any) Outcome {
	h.mu.Lock()
	s := h.sessions[deviceID]
	h.mu.Unlock()

	if s == nil {
		return OutcomeNoSuchDevice
	}
	out := s.enqueue(frame)
	if out == OutcomeQueueFull {
		h.log.Warn().Str("device_id", deviceID).Msg("outbound queue full, dropping frame")
		metrics.FramesDropped.Inc()
	}
	return out
}

// SendToType fans a frame out to every session whose claimed device type
// matches. Returns the per-target outcomes.
func (h *Hub) SendToType(deviceType string, frame any) []TargetOutcome {
	h.mu.Lock()
	var targets []*Session
	for _, s := range h.sessions {
		if s.DeviceType() == deviceType {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	results := make([]TargetOutcome, 0, len(targets))
	for _, s := range targets {
		out := s.enqueue(frame)
		if out == OutcomeQueueFull {
			h.log.Warn().Str("device_id", s.DeviceID).Msg("outbound queue full, dropping frame")
			metrics.FramesDropped.Inc()
		}
		results = append(results, TargetOutcome{DeviceID: s.DeviceID, Outcome: out})
	}
	return results
}

// Close force-closes the session for the device id. Returns false if no
// session exists. Registry changes flow through the session-ended hook.
func (h *Hub) Close(deviceID, reason string) bool {
	h.mu.Lock()
	s := h.sessions[deviceID]
	h.mu.Unlock()

	if s == nil {
		return false
	}
	s.close(reason)
	return true
}

// Connected reports whether a live session exists for the device id.
func (h *Hub) Connected(deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[deviceID] != nil
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// readLoop is the inbound dispatcher: exactly one reader per connection.
// It validates the discriminator, tracks the claimed device type, and hands
// frames to the handler.
func (h *Hub) readLoop(s *Session) {
	defer h.cleanup(s)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.close("disconnected")
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.log.Warn().Str("device_id", s.DeviceID).Msg("non-JSON frame dropped")
			continue
		}
		if f.MessageType == "" {
			h.log.Warn().Str("device_id", s.DeviceID).Msg("frame missing message_type, dropped")
			continue
		}
		if f.DeviceType != "" {
			s.setDeviceType(f.DeviceType)
		}

		metrics.FramesReceived.WithLabelValues(f.MessageType).Inc()
		h.handler.HandleFrame(s.DeviceID, f)
	}
}

// writeLoop is the outbound pump: exactly one writer per connection.
func (h *Hub) writeLoop(s *Session) {
	for {
		select {
		case <-s.done:
			return
		case v := <-s.out:
			if err := s.conn.WriteJSON(v); err != nil {
				h.log.Warn().Err(err).Str("device_id", s.DeviceID).Msg("channel write failed")
				s.close("write_failed")
				return
			}
			metrics.FramesSent.Inc()
		}
	}
}

// cleanup removes the session from the map (unless it was already replaced)
// and fires the ended hook for genuine disconnects.
func (h *Hub) cleanup(s *Session) {
	s.close("disconnected")

	h.mu.Lock()
	if h.sessions[s.DeviceID] == s {
		delete(h.sessions, s.DeviceID)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))

	reason := s.closeReason()
	h.log.Info().Str("device_id", s.DeviceID).Str("reason", reason).Msg("session ended")

	// A replaced session must not offline the device: the new session for
	// the same id is already live.
	if reason != "reregistered" && h.onEnded != nil {
		h.onEnded(s.DeviceID, reason)
	}
}
