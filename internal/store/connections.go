package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"widgetflow-backend/internal/metadata"
)

const connectionColumns = `id, screen_ref, next_screen_ref, framework_type, source_value, connection_context, element_ref,
	property_values, screen_name, screen_description, screen_framework_type, is_screen_terminated, created_by, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*metadata.Connection, error) {
	var (
		c                                         metadata.Connection
		target, ftype, value, connCtx, elementRef sql.NullString
		name, description, targetType, createdBy  sql.NullString
		props                                     []byte
	)
	if err := row.Scan(&c.ID, &c.SourceScreenID, &target, &ftype, &value, &connCtx, &elementRef,
		&props, &name, &description, &targetType, &c.IsTerminated, &createdBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.TargetScreenID = target.String
	c.SourceType = ftype.String
	c.SourceValue = value.String
	c.ConnectionContext = connCtx.String
	c.ElementRef = elementRef.String
	c.ScreenName = name.String
	c.ScreenDescription = description.String
	c.TargetFrameworkType = metadata.FrameworkType(targetType.String)
	c.CreatedBy = createdBy.String
	if len(props) > 0 {
		c.PropertyValues = append([]byte(nil), props...)
	}
	return &c, nil
}

// InsertConnection appends an edge row. An empty ID is generated.
func (s *Store) InsertConnection(ctx context.Context, c *metadata.Connection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.DB.ExecContext(ctx, s.q(
		`INSERT INTO connect_screens (`+connectionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`),
		c.ID, c.SourceScreenID, nullString(c.TargetScreenID), nullString(c.SourceType), c.SourceValue,
		nullString(c.ConnectionContext), nullString(c.ElementRef), nullJSON(c.PropertyValues),
		nullString(c.ScreenName), nullString(c.ScreenDescription), nullString(string(c.TargetFrameworkType)),
		c.IsTerminated, nullString(c.CreatedBy), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", MapError(s.Dialect, err))
	}
	return nil
}

// GetConnection fetches one edge. Returns ErrNotFound if missing.
func (s *Store) GetConnection(ctx context.Context, id string) (*metadata.Connection, error) {
	row := s.DB.QueryRowContext(ctx, s.q(`SELECT `+connectionColumns+` FROM connect_screens WHERE id = $1`), id)
	c, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// ListConnections returns every edge of a source screen, terminated ones
// included, in table order.
func (s *Store) ListConnections(ctx context.Context, sourceScreenID string) ([]metadata.Connection, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(
		`SELECT `+connectionColumns+` FROM connect_screens WHERE screen_ref = $1 ORDER BY created_at, id`), sourceScreenID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	conns := []metadata.Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows connections: %w", err)
	}
	return conns, nil
}

// TerminateConnection flips is_screen_terminated. It reports whether a row
// changed; an already terminated edge reports false without error.
func (s *Store) TerminateConnection(ctx context.Context, id string) (bool, error) {
	n, err := Exec(ctx, s.DB, s.q(
		`UPDATE connect_screens SET is_screen_terminated = $1, updated_at = $2 WHERE id = $3 AND is_screen_terminated = $4`),
		true, s.now(), id, false)
	if err != nil {
		return false, fmt.Errorf("terminate connection: %w", err)
	}
	return n > 0, nil
}
