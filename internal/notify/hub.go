// Package notify delivers change notifications for widget screens and
// connections. Writers publish after commit; subscribers and websocket
// watchers receive events from a single dispatcher goroutine.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"widgetflow-backend/internal/metadata"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event describes one committed row change, scoped to a widget.
type Event struct {
	ID       string    `json:"id"`
	WidgetID string    `json:"widget_id"`
	Table    string    `json:"table"`
	Op       Op        `json:"op"`
	RecordID string    `json:"record_id"`
	At       time.Time `json:"at"`
}

// Handler processes an event. Handlers run on the dispatcher goroutine.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type namedHandler struct {
	name    string
	handler Handler
}

// watcher is one websocket client of a widget.
type watcher struct {
	ch   chan Event
	once sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() { close(w.ch) })
}

// watcherBuffer is how many undelivered events a watcher may lag behind
// before it is dropped.
const watcherBuffer = 16

// Hub is an in-process pub/sub of change events keyed by widget id.
type Hub struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	watchers    map[string]map[*watcher]struct{}

	events  chan Event
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	started bool
}

// New creates a Hub with the given channel buffer size.
func New(bufSize int) *Hub {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Hub{
		watchers: make(map[string]map[*watcher]struct{}),
		events:   make(chan Event, bufSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a named handler for every event.
func (h *Hub) Subscribe(name string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, namedHandler{name: name, handler: handler})
}

// Publish queues an event. It never blocks; when the buffer is full the
// event is dropped with a warning.
func (h *Hub) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case h.events <- ev:
	default:
		log.Printf("WARN: notify buffer full, dropping %s %s %s", ev.Table, ev.Op, ev.RecordID)
	}
}

// Start runs the dispatcher until ctx is done or Stop is called. Queued
// events are drained before it exits.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()

	go func() {
		defer close(h.done)
		for {
			select {
			case ev := <-h.events:
				h.dispatch(ctx, ev)
			case <-ctx.Done():
				h.drain(ctx)
				return
			case <-h.quit:
				h.drain(ctx)
				return
			}
		}
	}()
}

// Stop ends the dispatcher and waits for it. Watchers are closed.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.quit) })
	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if started {
		<-h.done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for widgetID, set := range h.watchers {
		for w := range set {
			w.close()
		}
		delete(h.watchers, widgetID)
	}
}

func (h *Hub) drain(ctx context.Context) {
	for {
		select {
		case ev := <-h.events:
			h.dispatch(ctx, ev)
		default:
			return
		}
	}
}

// Watch returns a channel of the events of one widget and a function that
// stops watching. The channel is closed when the watcher falls too far
// behind or the hub stops.
func (h *Hub) Watch(widgetID string) (<-chan Event, func()) {
	w := &watcher{ch: make(chan Event, watcherBuffer)}

	h.mu.Lock()
	set, ok := h.watchers[widgetID]
	if !ok {
		set = make(map[*watcher]struct{})
		h.watchers[widgetID] = set
	}
	set[w] = struct{}{}
	h.mu.Unlock()

	return w.ch, func() { h.unwatch(widgetID, w) }
}

func (h *Hub) unwatch(widgetID string, w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.watchers[widgetID]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.watchers, widgetID)
		}
	}
	w.close()
}

// Watchers returns the number of live watchers of a widget.
func (h *Hub) Watchers(widgetID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[widgetID])
}

func (h *Hub) dispatch(ctx context.Context, ev Event) {
	h.mu.RLock()
	subs := h.subscribers
	h.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, ev); err != nil {
			log.Printf("ERROR: notify %s handler for %s %s: %v", s.name, ev.Table, ev.Op, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers[ev.WidgetID] {
		select {
		case w.ch <- ev:
		default:
			log.Printf("WARN: notify watcher of widget %s too slow, dropping it", ev.WidgetID)
			delete(h.watchers[ev.WidgetID], w)
			w.close()
		}
	}
}

// InvalidateRegistry drops a widget's cached screen list whenever one of its
// screens changes.
func InvalidateRegistry(reg *metadata.Registry) Handler {
	return HandlerFunc(func(_ context.Context, ev Event) error {
		if ev.Table == "screens" || ev.Table == "widgets" {
			reg.Invalidate(ev.WidgetID)
		}
		return nil
	})
}
