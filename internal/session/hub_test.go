package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeConn struct {
	in chan []byte

	mu      sync.Mutex
	wrote   []any
	failAll bool
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	b, ok := <-c.in
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, b, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return errors.New("write failed")
	}
	c.wrote = append(c.wrote, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) written() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.wrote)
}

type received struct {
	deviceID string
	frame    Frame
}

type captureHandler struct {
	ch chan received
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{ch: make(chan received, 16)}
}

func (h *captureHandler) HandleFrame(deviceID string, f Frame) {
	h.ch <- received{deviceID: deviceID, frame: f}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testHub(t *testing.T, handler FrameHandler) *Hub {
	t.Helper()
	return NewHub(handler, 8, zerolog.Nop())
}

func TestAcceptDispatchesFrames(t *testing.T) {
	handler := newCaptureHandler()
	h := testHub(t, handler)
	conn := newFakeConn()

	if err := h.Accept("robot-1", conn); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	conn.in <- []byte(`{"message_type":"registration","device_type":"servo"}`)

	select {
	case got := <-handler.ch:
		if got.deviceID != "robot-1" {
			t.Errorf("deviceID = %q, want robot-1", got.deviceID)
		}
		if got.frame.MessageType != TypeRegistration {
			t.Errorf("message_type = %q, want registration", got.frame.MessageType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached handler")
	}

	// The registration frame claimed a device type, so fan-out finds it.
	outcomes := h.SendToType("servo", NewCommandFrame("c1", "handsup", nil))
	if len(outcomes) != 1 || outcomes[0].Outcome != OutcomeOK {
		t.Fatalf("SendToType outcomes = %+v, want one OK", outcomes)
	}
	waitFor(t, "frame write", func() bool { return conn.written() == 1 })
}

func TestAcceptRejectsReservedIDs(t *testing.T) {
	h := testHub(t, newCaptureHandler())
	conn := newFakeConn()

	if err := h.Accept("dashboard", conn); !errors.Is(err, ErrReservedID) {
		t.Fatalf("Accept(dashboard) = %v, want ErrReservedID", err)
	}
	if !conn.isClosed() {
		t.Error("connection not closed after rejection")
	}
	if h.Count() != 0 {
		t.Errorf("Count = %d, want 0", h.Count())
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	handler := newCaptureHandler()
	h := testHub(t, handler)
	conn := newFakeConn()
	if err := h.Accept("robot-1", conn); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	conn.in <- []byte(`not json`)
	conn.in <- []byte(`{"payload":{}}`) // missing message_type
	conn.in <- []byte(`{"message_type":"heartbeat"}`)

	got := <-handler.ch
	if got.frame.MessageType != TypeHeartbeat {
		t.Errorf("first delivered frame = %q, want the heartbeat", got.frame.MessageType)
	}
}

func TestSendToMissingDevice(t *testing.T) {
	h := testHub(t, newCaptureHandler())
	if out := h.Send("ghost", "x"); out != OutcomeNoSuchDevice {
		t.Errorf("Send = %v, want no_such_device", out)
	}
}

func TestEnqueueOverflowDropsNewest(t *testing.T) {
	s := newSession("robot-1", newFakeConn(), 2)

	if out := s.enqueue("a"); out != OutcomeOK {
		t.Fatalf("enqueue 1 = %v", out)
	}
	if out := s.enqueue("b"); out != OutcomeOK {
		t.Fatalf("enqueue 2 = %v", out)
	}
	if out := s.enqueue("c"); out != OutcomeQueueFull {
		t.Fatalf("enqueue 3 = %v, want queue_full", out)
	}
	// The queued frames are untouched.
	if got := <-s.out; got != "a" {
		t.Errorf("first queued = %v, want a", got)
	}
}

func TestReacceptReplacesWithoutEndedHook(t *testing.T) {
	h := testHub(t, newCaptureHandler())

	endedCh := make(chan string, 4)
	h.SetOnEnded(func(deviceID, reason string) { endedCh <- reason })

	first := newFakeConn()
	if err := h.Accept("robot-1", first); err != nil {
		t.Fatalf("Accept first: %v", err)
	}
	second := newFakeConn()
	if err := h.Accept("robot-1", second); err != nil {
		t.Fatalf("Accept second: %v", err)
	}

	waitFor(t, "first connection closed", first.isClosed)
	if h.Count() != 1 {
		t.Errorf("Count = %d, want 1", h.Count())
	}

	// Only the genuine close of the second session fires the hook.
	h.Close("robot-1", "disconnected")
	select {
	case reason := <-endedCh:
		if reason != "disconnected" {
			t.Errorf("ended reason = %q, want disconnected", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ended hook never fired")
	}
	select {
	case reason := <-endedCh:
		t.Errorf("unexpected second ended hook with reason %q", reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWriteFailureClosesSession(t *testing.T) {
	h := testHub(t, newCaptureHandler())
	endedCh := make(chan string, 1)
	h.SetOnEnded(func(deviceID, reason string) { endedCh <- reason })

	conn := newFakeConn()
	conn.failAll = true
	if err := h.Accept("robot-1", conn); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if out := h.Send("robot-1", "frame"); out != OutcomeOK {
		t.Fatalf("Send = %v", out)
	}

	select {
	case reason := <-endedCh:
		if reason != "write_failed" {
			t.Errorf("ended reason = %q, want write_failed", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session never ended after write failure")
	}
}

func TestCommandFrameShape(t *testing.T) {
	f := NewCommandFrame("c-1", "forward", nil)
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["message_type"] != "command" || m["command_id"] != "c-1" || m["command_name"] != "forward" {
		t.Errorf("unexpected frame: %v", m)
	}
	if _, ok := m["payload"]; !ok {
		t.Error("payload omitted; devices expect an object")
	}
}
