package session

import (
	"sync"
)

// Conn is the bidirectional channel underlying a session. Satisfied by
// *websocket.Conn; tests substitute a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Outcome of a single enqueue attempt.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeNoSuchDevice Outcome = "no_such_device"
	OutcomeQueueFull    Outcome = "queue_full"
	OutcomeSendFailed   Outcome = "send_failed"
)

// TargetOutcome is one entry of a fan-out result.
type TargetOutcome struct {
	DeviceID string  `json:"device_id"`
	Outcome  Outcome `json:"outcome"`
}

// Session binds one device id to one live channel. The outbound pump is the
// only writer on the connection; the inbound loop is the only reader.
type Session struct {
	DeviceID string

	conn Conn
	out  chan any
	done chan struct{}

	mu         sync.Mutex
	deviceType string
	closed     bool
	reason     string
}

func newSession(deviceID string, conn Conn, queueCap int) *Session {
	return &Session{
		DeviceID: deviceID,
		conn:     conn,
		out:      make(chan any, queueCap),
		done:     make(chan struct{}),
	}
}

// DeviceType returns the type claimed by the device's registration frame,
// or "" before registration.
func (s *Session) DeviceType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceType
}

func (s *Session) setDeviceType(t string) {
	s.mu.Lock()
	s.deviceType = t
	s.mu.Unlock()
}

// enqueue places a frame on the outbound queue. On overflow the frame being
// enqueued is dropped and the session stays live.
func (s *Session) enqueue(v any) Outcome {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return OutcomeSendFailed
	}
	select {
	case s.out <- v:
		return OutcomeOK
	default:
		return OutcomeQueueFull
	}
}

// close marks the session closed with a reason and closes the underlying
// channel, which unblocks both loops. Idempotent; the first reason wins.
func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.reason = reason
	s.mu.Unlock()

	close(s.done)
	_ = s.conn.Close()
}

func (s *Session) closeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
