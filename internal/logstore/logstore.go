// Package logstore tees the process log stream into the database so the
// read-side API can serve recent logs without shell access to the host.
package logstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/snarg/robohub/internal/database"
)

const (
	flushInterval = 2 * time.Second
	maxBuffered   = 256
	writeTimeout  = 5 * time.Second
)

// Inserter is the slice of the database the writer needs.
type Inserter interface {
	InsertSystemLogs(ctx context.Context, logs []database.SystemLogRow) (int64, error)
}

// Writer is an io.Writer for zerolog's multi-writer. Each Write receives one
// JSON log line; lines are buffered and flushed on a timer or when the
// buffer fills. The writer never logs through zerolog itself, that would
// feed back into this writer.
type Writer struct {
	store Inserter

	mu     sync.Mutex
	buf    []database.SystemLogRow
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

func NewWriter(store Inserter) *Writer {
	w := &Writer{
		store: store,
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Write parses one zerolog JSON line into a row. Unparseable lines are
// dropped; the console stream still has them.
func (w *Writer) Write(p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return len(p), nil
	}

	row := database.SystemLogRow{Time: time.Now()}
	if v, ok := fields["level"].(string); ok {
		row.Level = v
		delete(fields, "level")
	}
	if v, ok := fields["component"].(string); ok {
		row.Component = v
		delete(fields, "component")
	}
	if v, ok := fields["message"].(string); ok {
		row.Message = v
		delete(fields, "message")
	}
	if v, ok := fields["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			row.Time = t
		}
		delete(fields, "time")
	}
	if len(fields) > 0 {
		row.Fields = fields
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return len(p), nil
	}
	w.buf = append(w.buf, row)
	full := len(w.buf) >= maxBuffered
	w.mu.Unlock()

	if full {
		w.flush()
	}
	return len(p), nil
}

// Close flushes the remaining buffer and stops the timer loop.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.flush()
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	// Errors are swallowed on purpose: the log store follows the log
	// stream, and reporting its failures through the stream would loop.
	w.store.InsertSystemLogs(ctx, batch)
}
