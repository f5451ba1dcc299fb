package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/database"
	"github.com/snarg/robohub/internal/registry"
	"github.com/snarg/robohub/internal/session"
)

type nopRegistryStore struct{}

func (nopRegistryStore) UpsertDevice(context.Context, database.DeviceRow) error { return nil }
func (nopRegistryStore) MarkDeviceOffline(context.Context, string, time.Time) error {
	return nil
}
func (nopRegistryStore) InsertConnectionEvent(context.Context, string, string, string, time.Time, map[string]any) error {
	return nil
}

type snapshot struct {
	deviceID   string
	deviceType string
	payload    map[string]any
}

type fakeSnapshots struct {
	rows []snapshot
}

func (s *fakeSnapshots) InsertStateSnapshot(_ context.Context, deviceID, deviceType string, payload map[string]any, _ time.Time) error {
	s.rows = append(s.rows, snapshot{deviceID: deviceID, deviceType: deviceType, payload: payload})
	return nil
}

type fakeAcks struct {
	frames []session.Frame
}

func (a *fakeAcks) HandleAck(_ string, f session.Frame) {
	a.frames = append(a.frames, f)
}

func testIngest() (*Router, *registry.Registry, *fakeSnapshots, *fakeAcks) {
	reg := registry.New(nopRegistryStore{}, nil, zerolog.Nop())
	snaps := &fakeSnapshots{}
	acks := &fakeAcks{}
	return NewRouter(reg, snaps, acks, zerolog.Nop()), reg, snaps, acks
}

func TestRegistrationFrame(t *testing.T) {
	r, reg, _, _ := testIngest()

	r.HandleFrame("robot-1", session.Frame{
		MessageType: session.TypeRegistration,
		DeviceType:  "servo",
		Metadata:    map[string]any{"fw": "2.0"},
	})

	d, ok := reg.Get("robot-1")
	if !ok || !d.IsOnline || d.DeviceType != "servo" {
		t.Fatalf("device = %+v, %v", d, ok)
	}
}

func TestRegistrationMissingTypeIsDropped(t *testing.T) {
	r, reg, _, _ := testIngest()
	r.HandleFrame("robot-1", session.Frame{MessageType: session.TypeRegistration})
	if _, ok := reg.Get("robot-1"); ok {
		t.Error("device registered without device_type")
	}
}

func TestStatusFramePersistsSnapshot(t *testing.T) {
	r, _, snaps, _ := testIngest()

	r.HandleFrame("robot-1", session.Frame{
		MessageType: session.TypeRegistration,
		DeviceType:  "servo",
	})
	r.HandleFrame("robot-1", session.Frame{
		MessageType: session.TypeStatus,
		Payload:     map[string]any{"battery": 81},
	})

	if len(snaps.rows) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps.rows))
	}
	row := snaps.rows[0]
	if row.deviceID != "robot-1" || row.deviceType != "servo" {
		t.Errorf("row = %+v", row)
	}
	if row.payload["battery"] != 81 {
		t.Errorf("payload = %v", row.payload)
	}
}

func TestStatusFromUnregisteredDeviceIsDropped(t *testing.T) {
	r, _, snaps, _ := testIngest()
	r.HandleFrame("robot-1", session.Frame{
		MessageType: session.TypeStatus,
		Payload:     map[string]any{"battery": 81},
	})
	if len(snaps.rows) != 0 {
		t.Error("snapshot persisted without a device type")
	}
}

func TestAckFrameRouted(t *testing.T) {
	r, _, _, acks := testIngest()
	r.HandleFrame("robot-1", session.Frame{
		MessageType: session.TypeCommandAck,
		CommandID:   "cmd-1",
		Status:      session.AckSuccess,
	})
	if len(acks.frames) != 1 || acks.frames[0].CommandID != "cmd-1" {
		t.Errorf("acks = %+v", acks.frames)
	}
}

func TestEveryFrameCountsAsLiveness(t *testing.T) {
	r, reg, _, _ := testIngest()
	r.HandleFrame("robot-1", session.Frame{MessageType: session.TypeRegistration, DeviceType: "servo"})

	before, _ := reg.Get("robot-1")
	time.Sleep(5 * time.Millisecond)

	// An unknown type is dropped but still refreshes the heartbeat.
	r.HandleFrame("robot-1", session.Frame{MessageType: "weird"})
	after, _ := reg.Get("robot-1")
	if !after.LastHeartbeat.After(before.LastHeartbeat) {
		t.Error("unknown frame did not refresh heartbeat")
	}
}
