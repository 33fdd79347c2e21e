package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"widgetflow-backend/internal/instrument"
	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/notify"
	"widgetflow-backend/internal/store"
)

// DefaultNewScreenName names a target screen created by a connect.
const DefaultNewScreenName = "Untitled screen"

// ConnectRequest wires one selectable value of a source screen to a target.
// An empty TargetScreenID creates a bare target screen named NewScreenName.
type ConnectRequest struct {
	SourceScreenID    string
	Value             Selectable
	ConnectionContext string
	ElementRef        string
	TargetScreenID    string
	NewScreenName     string
	CreatedBy         string
}

// ConnectionManager creates and soft-terminates edges between screens.
type ConnectionManager struct {
	screens ScreenRepository
	conns   ConnectionRepository
	pub     Publisher
	matcher *Matcher

	// MaxCombinationOptions bounds OutputOptions for multiple choice screens.
	MaxCombinationOptions int
}

func NewConnectionManager(screens ScreenRepository, conns ConnectionRepository, pub Publisher, matcher *Matcher) *ConnectionManager {
	if pub == nil {
		pub = nopPublisher{}
	}
	if matcher == nil {
		matcher = &Matcher{}
	}
	return &ConnectionManager{
		screens:               screens,
		conns:                 conns,
		pub:                   pub,
		matcher:               matcher,
		MaxCombinationOptions: MaxCombinationOptions,
	}
}

// Connect inserts a new active edge. A value that already has an active edge
// is refused with ALREADY_CONNECTED. The call is detached from the caller's
// cancellation: once issued it runs to completion.
func (m *ConnectionManager) Connect(ctx context.Context, req ConnectRequest) (*metadata.Connection, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "connections", "connect")
	defer span.End()

	edge, err := m.connect(ctx, req)
	if err != nil {
		span.SetStatus("error")
		span.SetMetadata("error", err.Error())
		return nil, err
	}
	span.SetStatus("ok")
	span.SetEntity("connect_screens", edge.ID)
	return edge, nil
}

func (m *ConnectionManager) connect(ctx context.Context, req ConnectRequest) (*metadata.Connection, error) {
	enc, err := Encode(req.Value)
	if err != nil {
		return nil, ValidationError([]ErrorDetail{{Field: "value", Rule: "encodable", Message: err.Error()}})
	}

	source, err := m.loadScreen(ctx, req.SourceScreenID)
	if err != nil {
		return nil, err
	}
	if source.FrameworkType == metadata.FrameworkUnset {
		return nil, ValidationError([]ErrorDetail{{
			Field: "framework_type", Rule: "required", Message: "Source screen has no framework type",
		}})
	}
	if !ShapeAllowed(source.FrameworkType, enc.Shape) {
		return nil, ValidationError([]ErrorDetail{{
			Field: "value", Rule: "shape",
			Message: fmt.Sprintf("A %s screen cannot connect a %s value", source.FrameworkType, enc.Shape),
		}})
	}
	if req.TargetScreenID == source.ID {
		return nil, ValidationError([]ErrorDetail{{
			Field: "target_screen_id", Rule: "distinct", Message: "A screen cannot connect to itself",
		}})
	}

	edges, err := m.conns.ListConnections(ctx, source.ID)
	if err != nil {
		return nil, ConnectionFailedError("Failed to load connections", err)
	}
	existing, err := m.matcher.Match(MatchQuery{
		SourceScreenID:    source.ID,
		Value:             req.Value,
		Family:            string(source.FrameworkType),
		ConnectionContext: req.ConnectionContext,
	}, edges)
	if err != nil {
		return nil, ValidationError([]ErrorDetail{{Field: "value", Rule: "encodable", Message: err.Error()}})
	}
	if existing.Connected() {
		return nil, AlreadyConnectedError(existing.Edge.ID)
	}

	target, created, err := m.resolveTarget(ctx, source, req)
	if err != nil {
		return nil, err
	}

	edge := &metadata.Connection{
		SourceScreenID:      source.ID,
		TargetScreenID:      target.ID,
		SourceType:          SourceTag(source.FrameworkType, enc.Shape),
		SourceValue:         enc.Value,
		ConnectionContext:   req.ConnectionContext,
		ElementRef:          req.ElementRef,
		ScreenName:          target.Name,
		ScreenDescription:   target.Description,
		TargetFrameworkType: target.FrameworkType,
		CreatedBy:           req.CreatedBy,
	}
	if fc, err := m.screens.GetFrameworkConfig(ctx, target.ID); err == nil {
		edge.PropertyValues = fc.PropertyValues
	}

	if err := m.conns.InsertConnection(ctx, edge); err != nil {
		if created {
			m.discardTarget(ctx, target.ID)
		}
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, AlreadyConnectedError("created concurrently")
		}
		return nil, ConnectionFailedError("Failed to create connection", err)
	}

	if created {
		m.publish(source.WidgetID, "screens", notify.OpInsert, target.ID)
	}
	m.publish(source.WidgetID, "connect_screens", notify.OpInsert, edge.ID)
	return edge, nil
}

func (m *ConnectionManager) resolveTarget(ctx context.Context, source *metadata.Screen, req ConnectRequest) (*metadata.Screen, bool, error) {
	if req.TargetScreenID != "" {
		target, err := m.loadScreen(ctx, req.TargetScreenID)
		if err != nil {
			return nil, false, err
		}
		if target.WidgetID != source.WidgetID {
			return nil, false, ValidationError([]ErrorDetail{{
				Field: "target_screen_id", Rule: "same_widget", Message: "Target screen belongs to another widget",
			}})
		}
		return target, false, nil
	}

	name := req.NewScreenName
	if name == "" {
		name = DefaultNewScreenName
	}
	target := &metadata.Screen{WidgetID: source.WidgetID, Name: name}
	if err := m.screens.CreateScreen(ctx, target); err != nil {
		return nil, false, ConnectionFailedError("Failed to create target screen", err)
	}
	return target, true, nil
}

// discardTarget removes a bare target screen whose edge was never written.
func (m *ConnectionManager) discardTarget(ctx context.Context, id string) {
	if err := m.screens.DeleteScreen(ctx, id); err != nil {
		log.Printf("WARN: remove unconnected target screen %s: %v", id, err)
	}
}

// Terminate soft-removes an edge. Terminating an already terminated edge
// succeeds without a write.
func (m *ConnectionManager) Terminate(ctx context.Context, id string) (*metadata.Connection, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "connections", "terminate")
	defer span.End()
	span.SetEntity("connect_screens", id)

	edge, err := m.conns.GetConnection(ctx, id)
	if err != nil {
		span.SetStatus("error")
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("Connection", id)
		}
		return nil, ConnectionFailedError("Failed to load connection", err)
	}
	if edge.IsTerminated {
		span.SetStatus("noop")
		return edge, nil
	}

	changed, err := m.conns.TerminateConnection(ctx, id)
	if err != nil {
		span.SetStatus("error")
		return nil, ConnectionFailedError("Failed to terminate connection", err)
	}
	edge.IsTerminated = true
	span.SetStatus("ok")

	if changed {
		if source, err := m.screens.GetScreen(ctx, edge.SourceScreenID); err == nil {
			m.publish(source.WidgetID, "connect_screens", notify.OpUpdate, edge.ID)
		} else {
			log.Printf("WARN: terminate %s: source screen %s: %v", id, edge.SourceScreenID, err)
		}
	}
	return edge, nil
}

// ListOutgoing returns the active edges of a screen in table order. Edges
// whose target screen was deleted are kept and flagged TargetMissing.
func (m *ConnectionManager) ListOutgoing(ctx context.Context, screenID string) ([]metadata.Connection, error) {
	all, err := m.ListHistory(ctx, screenID)
	if err != nil {
		return nil, err
	}
	active := make([]metadata.Connection, 0, len(all))
	for _, e := range all {
		if !e.IsTerminated {
			active = append(active, e)
		}
	}
	return active, nil
}

// ListHistory returns every edge of a screen, terminated ones included.
func (m *ConnectionManager) ListHistory(ctx context.Context, screenID string) ([]metadata.Connection, error) {
	edges, err := m.conns.ListConnections(ctx, screenID)
	if err != nil {
		return nil, PersistenceError("Failed to list connections", err)
	}
	if err := m.flagMissingTargets(ctx, edges); err != nil {
		return nil, err
	}
	return edges, nil
}

func (m *ConnectionManager) flagMissingTargets(ctx context.Context, edges []metadata.Connection) error {
	ids := make([]string, 0, len(edges))
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		if e.TargetScreenID != "" && !seen[e.TargetScreenID] {
			seen[e.TargetScreenID] = true
			ids = append(ids, e.TargetScreenID)
		}
	}
	exists, err := m.screens.ScreensExist(ctx, ids)
	if err != nil {
		return PersistenceError("Failed to check target screens", err)
	}
	for i := range edges {
		edges[i].TargetMissing = edges[i].TargetScreenID != "" && !exists[edges[i].TargetScreenID]
	}
	return nil
}

// Match runs the matcher against the stored edges of the query's source.
func (m *ConnectionManager) Match(ctx context.Context, q MatchQuery) (MatchResult, error) {
	edges, err := m.conns.ListConnections(ctx, q.SourceScreenID)
	if err != nil {
		return MatchResult{}, PersistenceError("Failed to list connections", err)
	}
	res, err := m.matcher.Match(q, edges)
	if err != nil {
		return MatchResult{}, ValidationError([]ErrorDetail{{Field: "value", Rule: "encodable", Message: err.Error()}})
	}
	return res, nil
}

// IsConnected reports whether the value has an active edge.
func (m *ConnectionManager) IsConnected(ctx context.Context, q MatchQuery) (bool, error) {
	res, err := m.Match(ctx, q)
	if err != nil {
		return false, err
	}
	return res.Connected(), nil
}

func (m *ConnectionManager) loadScreen(ctx context.Context, id string) (*metadata.Screen, error) {
	sc, err := m.screens.GetScreen(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("Screen", id)
		}
		return nil, ConnectionFailedError(fmt.Sprintf("Failed to load screen %s", id), err)
	}
	return sc, nil
}

func (m *ConnectionManager) publish(widgetID, table string, op notify.Op, recordID string) {
	m.pub.Publish(notify.Event{WidgetID: widgetID, Table: table, Op: op, RecordID: recordID})
}
