package notify

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const writeTimeout = 5 * time.Second

// NewRouter returns the notify listener routes. The event stream runs behind
// mws; origins lists the accepted websocket Origin host patterns (an empty list
// accepts same-host clients only).
func NewRouter(h *Hub, origins []string, mws ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Group(func(r chi.Router) {
		r.Use(mws...)
		r.Get("/widgets/{widgetID}/events", func(w http.ResponseWriter, req *http.Request) {
			h.ServeEvents(w, req, origins)
		})
	})
	return r
}

// ServeEvents upgrades to a websocket and streams the widget's change events
// as JSON until the client goes away.
func (h *Hub) ServeEvents(w http.ResponseWriter, r *http.Request, origins []string) {
	widgetID := chi.URLParam(r, "widgetID")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: origins,
	})
	if err != nil {
		log.Printf("WARN: notify websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	events, stop := h.Watch(widgetID)
	defer stop()

	// Clients only listen; CloseRead handles their control frames.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "event stream closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				if websocket.CloseStatus(err) == -1 {
					log.Printf("WARN: notify websocket write: %v", err)
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
