package instrument

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"widgetflow-backend/internal/store"
)

// EventHandler exposes recorded events for inspection.
type EventHandler struct {
	db      *sql.DB
	dialect store.Dialect
}

func NewEventHandler(db *sql.DB, dialect store.Dialect) *EventHandler {
	return &EventHandler{db: db, dialect: dialect}
}

var eventFilters = []string{"source", "component", "action", "entity", "record_id", "trace_id", "user_id", "status", "event_type"}

// List handles GET /api/events. Every column in eventFilters can be used as
// an equality filter; results are newest first.
func (h *EventHandler) List(c *fiber.Ctx) error {
	pb := h.dialect.NewParamBuilder()
	var conditions []string
	for _, col := range eventFilters {
		if v := c.Query(col); v != "" {
			conditions = append(conditions, fmt.Sprintf("%s = %s", col, pb.Add(v)))
		}
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(
		`SELECT id, trace_id, span_id, parent_span_id, event_type, source, component, action, entity, record_id,
		        user_id, duration_ms, status, metadata, created_at
		 FROM _events%s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s`,
		where, pb.Add(perPage), pb.Add((page-1)*perPage))

	rows, err := h.db.QueryContext(c.UserContext(), query, pb.Params()...)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows events: %w", err)
	}

	return c.JSON(fiber.Map{
		"data": events,
		"meta": fiber.Map{"page": page, "per_page": perPage},
	})
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		ev                                 Event
		traceID, source, component, action sql.NullString
		parent, entity, recordID, userID   sql.NullString
		status                             sql.NullString
		duration                           sql.NullFloat64
		meta                               []byte
	)
	if err := rows.Scan(&ev.ID, &traceID, &ev.SpanID, &parent, &ev.EventType, &source, &component, &action,
		&entity, &recordID, &userID, &duration, &status, &meta, &ev.CreatedAt); err != nil {
		return Event{}, err
	}
	ev.TraceID = traceID.String
	ev.Source = source.String
	ev.Component = component.String
	ev.Action = action.String
	ev.ParentSpanID = nullable(parent)
	ev.Entity = nullable(entity)
	ev.RecordID = nullable(recordID)
	ev.UserID = nullable(userID)
	ev.Status = nullable(status)
	if duration.Valid {
		ev.DurationMs = &duration.Float64
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return ev, nil
}

func nullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
