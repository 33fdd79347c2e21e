// Package instrument records spans and business events of engine operations
// into the _events table.
package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	parentSpanIDKey
	instrumenterKey
	userIDKey
)

// Instrumenter starts spans and emits one-shot business events.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
	EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any)
}

// Span is a timed operation. End records it.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetEntity(entity, recordID string)
	TraceID() string
	SpanID() string
}

// Event is a row of the _events table.
type Event struct {
	ID           int64          `json:"id,omitempty"`
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID *string        `json:"parent_span_id"`
	EventType    string         `json:"event_type"`
	Source       string         `json:"source"`
	Component    string         `json:"component"`
	Action       string         `json:"action"`
	Entity       *string        `json:"entity"`
	RecordID     *string        `json:"record_id"`
	UserID       *string        `json:"user_id"`
	DurationMs   *float64       `json:"duration_ms"`
	Status       *string        `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Sink receives finished events. EventBuffer is the production sink.
type Sink interface {
	Enqueue(event Event)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

func withParentSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, spanID)
}

func optional(ctx context.Context, key ctxKey) *string {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return &v
	}
	return nil
}

func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter in ctx, or a NoopInstrumenter.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if v, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return v
	}
	return &NoopInstrumenter{}
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Recorder is the Instrumenter that hands events to a Sink.
type Recorder struct {
	sink Sink
}

func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

func (r *Recorder) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	span := &recordedSpan{
		sink:    r.sink,
		started: time.Now(),
		event: Event{
			TraceID:      GetTraceID(ctx),
			SpanID:       uuid.NewString(),
			ParentSpanID: optional(ctx, parentSpanIDKey),
			EventType:    "system",
			Source:       source,
			Component:    component,
			Action:       action,
			UserID:       optional(ctx, userIDKey),
			Metadata:     map[string]any{},
		},
	}
	return withParentSpanID(ctx, span.event.SpanID), span
}

func (r *Recorder) EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any) {
	ev := Event{
		TraceID:      GetTraceID(ctx),
		SpanID:       uuid.NewString(),
		ParentSpanID: optional(ctx, parentSpanIDKey),
		EventType:    "business",
		Source:       "business",
		Component:    "engine",
		Action:       action,
		UserID:       optional(ctx, userIDKey),
		Metadata:     metadata,
	}
	if entity != "" {
		ev.Entity = &entity
	}
	if recordID != "" {
		ev.RecordID = &recordID
	}
	r.sink.Enqueue(ev)
}

type recordedSpan struct {
	mu      sync.Mutex
	sink    Sink
	started time.Time
	event   Event
	ended   bool
}

func (s *recordedSpan) TraceID() string { return s.event.TraceID }
func (s *recordedSpan) SpanID() string  { return s.event.SpanID }

func (s *recordedSpan) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Status = &status
}

func (s *recordedSpan) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Metadata[key] = value
}

func (s *recordedSpan) SetEntity(entity, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Entity = &entity
	if recordID != "" {
		s.event.RecordID = &recordID
	}
}

// End records the span once; later calls are ignored.
func (s *recordedSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	ms := float64(time.Since(s.started).Microseconds()) / 1000.0
	s.event.DurationMs = &ms
	s.sink.Enqueue(s.event)
}
