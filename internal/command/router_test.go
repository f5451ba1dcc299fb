package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/database"
	"github.com/snarg/robohub/internal/session"
)

type fakeSender struct {
	outcomes []session.TargetOutcome
	lastSent any
}

func (s *fakeSender) SendToType(deviceType string, frame any) []session.TargetOutcome {
	s.lastSent = frame
	return s.outcomes
}

type statusChange struct {
	status string
	upd    database.CommandStatusUpdate
}

type fakeStore struct {
	mu        sync.Mutex
	created   []database.CommandRow
	changes   map[string][]statusChange
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{changes: make(map[string][]statusChange)}
}

func (s *fakeStore) CreateCommand(_ context.Context, c database.CommandRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, c)
	return s.createErr
}

func (s *fakeStore) UpdateCommandStatus(_ context.Context, commandID, newStatus string, upd database.CommandStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[commandID] = append(s.changes[commandID], statusChange{status: newStatus, upd: upd})
	return nil
}

func (s *fakeStore) lastStatus(commandID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.changes[commandID]
	if len(ch) == 0 {
		return ""
	}
	return ch[len(ch)-1].status
}

func outcomes(oks int, rest ...session.Outcome) []session.TargetOutcome {
	var out []session.TargetOutcome
	for i := 0; i < oks; i++ {
		out = append(out, session.TargetOutcome{DeviceID: "d", Outcome: session.OutcomeOK})
	}
	for _, o := range rest {
		out = append(out, session.TargetOutcome{DeviceID: "d", Outcome: o})
	}
	return out
}

func testRouter(sender *fakeSender, store *fakeStore) *Router {
	r := NewRouter(sender, store, nil, 30*time.Second, zerolog.Nop())
	r.newID = func() string { return "cmd-1" }
	return r
}

func ack(status string) session.Frame {
	return session.Frame{MessageType: session.TypeCommandAck, CommandID: "cmd-1", Status: status}
}

func TestDispatchHappyPath(t *testing.T) {
	sender := &fakeSender{outcomes: outcomes(2)}
	store := newFakeStore()
	r := testRouter(sender, store)

	rec, err := r.Dispatch(context.Background(), "servo", "handsup", nil, 0)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rec.Status != database.StatusSent {
		t.Errorf("status = %q, want sent", rec.Status)
	}
	if rec.TargetDeviceCount != 2 {
		t.Errorf("target count = %d, want 2", rec.TargetDeviceCount)
	}
	if rec.ExecutedAt == nil {
		t.Error("executed_at not set")
	}
	if r.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", r.PendingCount())
	}

	frame, ok := sender.lastSent.(session.CommandFrame)
	if !ok || frame.CommandID != "cmd-1" || frame.CommandName != "handsup" {
		t.Errorf("sent frame = %+v", sender.lastSent)
	}
}

func TestDispatchValidation(t *testing.T) {
	r := testRouter(&fakeSender{}, newFakeStore())
	if _, err := r.Dispatch(context.Background(), "", "handsup", nil, 0); err == nil {
		t.Error("missing device_type accepted")
	}
	if _, err := r.Dispatch(context.Background(), "servo", "", nil, 0); err == nil {
		t.Error("missing command_name accepted")
	}
}

func TestDispatchNoTargets(t *testing.T) {
	store := newFakeStore()
	r := testRouter(&fakeSender{}, store)

	rec, err := r.Dispatch(context.Background(), "servo", "handsup", nil, 0)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rec.Status != database.StatusNoTargets {
		t.Errorf("status = %q, want no_targets", rec.Status)
	}
	if rec.CompletedAt == nil {
		t.Error("completed_at not set for terminal status")
	}
	if r.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", r.PendingCount())
	}
}

// Queue-full targets do not count toward the ack expectation.
func TestDispatchCountsOnlyDeliveredTargets(t *testing.T) {
	sender := &fakeSender{outcomes: outcomes(1, session.OutcomeQueueFull)}
	store := newFakeStore()
	r := testRouter(sender, store)

	rec, _ := r.Dispatch(context.Background(), "servo", "handsup", nil, 0)
	if rec.TargetDeviceCount != 1 {
		t.Errorf("target count = %d, want 1", rec.TargetDeviceCount)
	}

	r.HandleAck("d", ack(session.AckSuccess))
	if got := store.lastStatus("cmd-1"); got != database.StatusAckSuccess {
		t.Errorf("final status = %q, want ack_success", got)
	}
}

func TestDispatchSurvivesStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("db down")
	r := testRouter(&fakeSender{outcomes: outcomes(1)}, store)

	rec, err := r.Dispatch(context.Background(), "servo", "handsup", nil, 0)
	if err != nil {
		t.Fatalf("Dispatch failed on store error: %v", err)
	}
	if rec.Status != database.StatusSent {
		t.Errorf("status = %q, want sent", rec.Status)
	}
}

func TestAckAggregation(t *testing.T) {
	tests := []struct {
		name  string
		acks  []string
		final string
	}{
		{"all success", []string{session.AckSuccess, session.AckSuccess}, database.StatusAckSuccess},
		{"partial error", []string{session.AckSuccess, session.AckError}, database.StatusAckError},
		{"all error", []string{session.AckError, session.AckError}, database.StatusAckError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			r := testRouter(&fakeSender{outcomes: outcomes(2)}, store)
			r.Dispatch(context.Background(), "servo", "handsup", nil, 0)

			r.HandleAck("d1", ack(tt.acks[0]))
			if got := store.lastStatus("cmd-1"); got != database.StatusSent {
				t.Errorf("status after first ack = %q, still want sent", got)
			}
			r.HandleAck("d2", ack(tt.acks[1]))

			if got := store.lastStatus("cmd-1"); got != tt.final {
				t.Errorf("final status = %q, want %q", got, tt.final)
			}
			if r.PendingCount() != 0 {
				t.Errorf("pending = %d, want 0", r.PendingCount())
			}
		})
	}
}

func TestLateAckIsDropped(t *testing.T) {
	store := newFakeStore()
	r := testRouter(&fakeSender{outcomes: outcomes(1)}, store)
	r.Dispatch(context.Background(), "servo", "handsup", nil, 0)
	r.HandleAck("d", ack(session.AckSuccess))

	before := len(store.changes["cmd-1"])
	r.HandleAck("d", ack(session.AckError))
	if len(store.changes["cmd-1"]) != before {
		t.Error("late ack changed stored status")
	}
	if got := store.lastStatus("cmd-1"); got != database.StatusAckSuccess {
		t.Errorf("status = %q, want ack_success to stick", got)
	}
}

func TestAckMissingCommandID(t *testing.T) {
	r := testRouter(&fakeSender{outcomes: outcomes(1)}, newFakeStore())
	r.Dispatch(context.Background(), "servo", "handsup", nil, 0)
	r.HandleAck("d", session.Frame{MessageType: session.TypeCommandAck, Status: session.AckSuccess})
	if r.PendingCount() != 1 {
		t.Error("ack without command_id consumed the pending entry")
	}
}

func TestSweepTimeouts(t *testing.T) {
	store := newFakeStore()
	r := testRouter(&fakeSender{outcomes: outcomes(2)}, store)

	start := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return start }
	r.Dispatch(context.Background(), "servo", "handsup", nil, 0)
	r.HandleAck("d1", ack(session.AckSuccess))

	// Before the deadline nothing expires.
	r.SweepTimeouts(start.Add(29 * time.Second))
	if r.PendingCount() != 1 {
		t.Fatal("sweep expired a command before its deadline")
	}

	r.SweepTimeouts(start.Add(31 * time.Second))
	if r.PendingCount() != 0 {
		t.Fatal("sweep left an expired command pending")
	}
	if got := store.lastStatus("cmd-1"); got != database.StatusTimeout {
		t.Errorf("status = %q, want timeout", got)
	}

	// An ack arriving after the sweep is dropped.
	before := len(store.changes["cmd-1"])
	r.HandleAck("d2", ack(session.AckSuccess))
	if len(store.changes["cmd-1"]) != before {
		t.Error("post-timeout ack changed stored status")
	}
}
