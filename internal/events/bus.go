// Package events distributes live hub activity to SSE subscribers. A small
// ring buffer allows reconnecting dashboards to replay missed events.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the hub.
const (
	TypeConnection = "connection"
	TypeCommand    = "command"
	TypeTranscript = "transcript"
)

// Event is one SSE payload.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	DeviceID   string          `json:"device_id,omitempty"`
	DeviceType string          `json:"device_type,omitempty"`
	Timestamp  string          `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

// Filter narrows a subscription. Empty slices match everything.
type Filter struct {
	Types     []string
	DeviceIDs []string
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ringMu   sync.RWMutex
	ring     []Event
	ringSize int
	ringHead int
}

func NewBus(ringSize int) *Bus {
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function. Slow subscribers drop events rather than blocking publishers.
// Cancel closes the channel so range loops over it terminate; calling it
// more than once is a no-op.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// ReplaySince returns buffered events after the given event ID, oldest first.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var out []Event
	found := lastEventID == ""
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if matches(e, filter) {
			out = append(out, e)
		}
	}
	return out
}

// Publish sends an event to all matching subscribers and buffers it.
func (b *Bus) Publish(eventType, deviceID, deviceType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	e := Event{
		ID:         fmt.Sprintf("%d-%d", time.Now().UnixMilli(), b.seq.Add(1)),
		Type:       eventType,
		DeviceID:   deviceID,
		DeviceType: deviceType,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Data:       data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = e
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if matches(e, sub.filter) {
			select {
			case sub.ch <- e:
			default:
			}
		}
	}
	b.mu.RUnlock()
}

// DeviceEvent publishes a connection lifecycle event. Satisfies the
// registry's EventSink.
func (b *Bus) DeviceEvent(deviceID, deviceType, event string) {
	b.Publish(TypeConnection, deviceID, deviceType, map[string]any{"event": event})
}

// CommandEvent publishes a command lifecycle change.
func (b *Bus) CommandEvent(commandID, deviceType, commandName, status string) {
	b.Publish(TypeCommand, "", deviceType, map[string]any{
		"command_id":   commandID,
		"command_name": commandName,
		"status":       status,
	})
}

// TranscriptEvent publishes an audio pipeline decision.
func (b *Bus) TranscriptEvent(deviceID string, payload any) {
	b.Publish(TypeTranscript, deviceID, "", payload)
}

func matches(e Event, f Filter) bool {
	if len(f.Types) > 0 && !contains(f.Types, e.Type) {
		return false
	}
	if len(f.DeviceIDs) > 0 && e.DeviceID != "" && !contains(f.DeviceIDs, e.DeviceID) {
		return false
	}
	return true
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if strings.TrimSpace(x) == v {
			return true
		}
	}
	return false
}
