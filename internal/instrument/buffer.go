package instrument

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"widgetflow-backend/internal/store"
)

const flushTimeout = 10 * time.Second

var eventColumns = []string{
	"trace_id", "span_id", "parent_span_id", "event_type", "source", "component", "action",
	"entity", "record_id", "user_id", "duration_ms", "status", "metadata", "created_at",
}

// EventBuffer collects events in memory and writes them to _events in one
// batch insert, on a timer or when it fills up.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	db      *sql.DB
	dialect store.Dialect
	maxSize int
	now     func() time.Time

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func NewEventBuffer(db *sql.DB, dialect store.Dialect, maxSize, flushIntervalMs int) *EventBuffer {
	if maxSize < 1 {
		maxSize = 500
	}
	if flushIntervalMs < 1 {
		flushIntervalMs = 1000
	}
	eb := &EventBuffer{
		db:      db,
		dialect: dialect,
		maxSize: maxSize,
		now:     func() time.Time { return time.Now().UTC() },
		ticker:  time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond),
		done:    make(chan struct{}),
	}
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush()
		}
	}
}

// Enqueue stamps and buffers an event. A full buffer flushes asynchronously.
func (eb *EventBuffer) Enqueue(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = eb.now()
	}
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	full := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if full {
		go eb.Flush()
	}
}

// Len returns the number of buffered events.
func (eb *EventBuffer) Len() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.events)
}

// Flush writes all buffered events. A failed batch is logged and dropped.
func (eb *EventBuffer) Flush() {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := eb.insert(ctx, batch); err != nil {
		log.Printf("ERROR: event buffer: %v", err)
	}
}

func (eb *EventBuffer) insert(ctx context.Context, batch []Event) error {
	pb := eb.dialect.NewParamBuilder()
	rows := make([]string, 0, len(batch))
	for _, e := range batch {
		var meta any
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata of %s: %w", e.SpanID, err)
			}
			meta = string(b)
		}
		values := []any{e.TraceID, e.SpanID, e.ParentSpanID, e.EventType, e.Source, e.Component, e.Action,
			e.Entity, e.RecordID, e.UserID, e.DurationMs, e.Status, meta, e.CreatedAt}
		phs := make([]string, len(values))
		for i, v := range values {
			phs[i] = pb.Add(v)
		}
		rows = append(rows, "("+strings.Join(phs, ", ")+")")
	}

	query := fmt.Sprintf("INSERT INTO _events (%s) VALUES %s", strings.Join(eventColumns, ", "), strings.Join(rows, ", "))
	if _, err := eb.db.ExecContext(ctx, query, pb.Params()...); err != nil {
		return fmt.Errorf("insert %d events: %w", len(batch), err)
	}
	return nil
}

// Stop halts the ticker and flushes what is left.
func (eb *EventBuffer) Stop() {
	eb.once.Do(func() {
		eb.ticker.Stop()
		close(eb.done)
		eb.Flush()
	})
}
