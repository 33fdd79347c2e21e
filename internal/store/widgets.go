package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"widgetflow-backend/internal/metadata"
)

const widgetColumns = `id, name, description, tags, created_at, updated_at`

func scanWidget(row interface{ Scan(...any) error }) (*metadata.Widget, error) {
	var (
		w           metadata.Widget
		description sql.NullString
		tags        []byte
	)
	if err := row.Scan(&w.ID, &w.Name, &description, &tags, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Description = description.String
	w.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &w.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &w, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateWidget inserts a widget; an empty ID is generated.
func (s *Store) CreateWidget(ctx context.Context, w *metadata.Widget) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	tags, err := encodeTags(w.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	now := s.now()
	w.CreatedAt, w.UpdatedAt = now, now

	if _, err := s.DB.ExecContext(ctx, s.q(
		`INSERT INTO widgets (`+widgetColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`),
		w.ID, w.Name, nullString(w.Description), tags, now, now,
	); err != nil {
		return fmt.Errorf("insert widget: %w", MapError(s.Dialect, err))
	}
	return nil
}

// GetWidget fetches a widget by id. Returns ErrNotFound if missing.
func (s *Store) GetWidget(ctx context.Context, id string) (*metadata.Widget, error) {
	w, err := scanWidget(s.DB.QueryRowContext(ctx, s.q(`SELECT `+widgetColumns+` FROM widgets WHERE id = $1`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get widget: %w", err)
	}
	return w, nil
}

// ListWidgets returns all widgets, newest first.
func (s *Store) ListWidgets(ctx context.Context) ([]metadata.Widget, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+widgetColumns+` FROM widgets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list widgets: %w", err)
	}
	defer rows.Close()

	widgets := []metadata.Widget{}
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan widget: %w", err)
		}
		widgets = append(widgets, *w)
	}
	return widgets, rows.Err()
}

// UpdateWidget writes name, description and tags.
func (s *Store) UpdateWidget(ctx context.Context, w *metadata.Widget) error {
	tags, err := encodeTags(w.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	w.UpdatedAt = s.now()
	n, err := Exec(ctx, s.DB, s.q(
		`UPDATE widgets SET name = $1, description = $2, tags = $3, updated_at = $4 WHERE id = $5`),
		w.Name, nullString(w.Description), tags, w.UpdatedAt, w.ID)
	if err != nil {
		return fmt.Errorf("update widget: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWidget removes a widget. Its screens and their configs cascade.
func (s *Store) DeleteWidget(ctx context.Context, id string) error {
	n, err := Exec(ctx, s.DB, s.q(`DELETE FROM widgets WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("delete widget: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
