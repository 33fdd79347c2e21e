package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"widgetflow-backend/internal/metadata"
)

const screenColumns = `id, widget_id, name, description, framework_type, framework_id, metadata, created_at, updated_at`

func scanScreen(row interface{ Scan(...any) error }) (*metadata.Screen, error) {
	var (
		sc          metadata.Screen
		description sql.NullString
		ftype       sql.NullString
		frameworkID sql.NullString
		meta        []byte
	)
	if err := row.Scan(&sc.ID, &sc.WidgetID, &sc.Name, &description, &ftype, &frameworkID, &meta, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, err
	}
	sc.Description = description.String
	sc.FrameworkType = metadata.FrameworkType(ftype.String)
	sc.FrameworkID = frameworkID.String
	if len(meta) > 0 {
		sc.Metadata = append([]byte(nil), meta...)
	}
	return &sc, nil
}

// CreateScreen inserts a screen; an empty ID is generated.
func (s *Store) CreateScreen(ctx context.Context, sc *metadata.Screen) error {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := s.now()
	sc.CreatedAt, sc.UpdatedAt = now, now

	_, err := s.DB.ExecContext(ctx, s.q(
		`INSERT INTO screens (`+screenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		sc.ID, sc.WidgetID, sc.Name, nullString(sc.Description), nullString(string(sc.FrameworkType)),
		nullString(sc.FrameworkID), nullJSON(sc.Metadata), sc.CreatedAt, sc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert screen: %w", MapError(s.Dialect, err))
	}
	return nil
}

// GetScreen fetches a screen by id. Returns ErrNotFound if missing.
func (s *Store) GetScreen(ctx context.Context, id string) (*metadata.Screen, error) {
	row := s.DB.QueryRowContext(ctx, s.q(`SELECT `+screenColumns+` FROM screens WHERE id = $1`), id)
	sc, err := scanScreen(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get screen: %w", err)
	}
	return sc, nil
}

// UpdateScreen writes name, description, framework fields and metadata.
func (s *Store) UpdateScreen(ctx context.Context, sc *metadata.Screen) error {
	sc.UpdatedAt = s.now()
	n, err := Exec(ctx, s.DB, s.q(
		`UPDATE screens SET name = $1, description = $2, framework_type = $3, framework_id = $4, metadata = $5, updated_at = $6 WHERE id = $7`),
		sc.Name, nullString(sc.Description), nullString(string(sc.FrameworkType)), nullString(sc.FrameworkID),
		nullJSON(sc.Metadata), sc.UpdatedAt, sc.ID,
	)
	if err != nil {
		return fmt.Errorf("update screen: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteScreen removes a screen and its framework config. Connections that
// reference the screen are left in place.
func (s *Store) DeleteScreen(ctx context.Context, id string) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := Exec(ctx, tx, s.q(`DELETE FROM framework_types WHERE screen_id = $1`), id); err != nil {
		return fmt.Errorf("delete framework config: %w", err)
	}
	n, err := Exec(ctx, tx, s.q(`DELETE FROM screens WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("delete screen: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListScreens returns the screens of a widget in creation order.
func (s *Store) ListScreens(ctx context.Context, widgetID string) ([]metadata.Screen, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(
		`SELECT `+screenColumns+` FROM screens WHERE widget_id = $1 ORDER BY created_at, id`), widgetID)
	if err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}
	defer rows.Close()

	screens := []metadata.Screen{}
	for rows.Next() {
		sc, err := scanScreen(rows)
		if err != nil {
			return nil, fmt.Errorf("scan screen: %w", err)
		}
		screens = append(screens, *sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows screens: %w", err)
	}
	return screens, nil
}

// ScreensExist reports which of the given ids still exist.
func (s *Store) ScreensExist(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	pb := s.Dialect.NewParamBuilder()
	phs := ""
	for i, id := range ids {
		if i > 0 {
			phs += ", "
		}
		phs += pb.Add(id)
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM screens WHERE id IN (`+phs+`)`, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("screens exist: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan screen id: %w", err)
		}
		found[id] = true
	}
	return found, rows.Err()
}

// GetFrameworkConfig returns the config of a screen. Returns ErrNotFound if
// the screen has none yet.
func (s *Store) GetFrameworkConfig(ctx context.Context, screenID string) (*metadata.FrameworkConfig, error) {
	var (
		fc    metadata.FrameworkConfig
		ftype string
		props []byte
	)
	err := s.DB.QueryRowContext(ctx, s.q(
		`SELECT id, screen_id, framework_type, property_values, created_at, updated_at FROM framework_types WHERE screen_id = $1`),
		screenID,
	).Scan(&fc.ID, &fc.ScreenID, &ftype, &props, &fc.CreatedAt, &fc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get framework config: %w", err)
	}
	fc.FrameworkType = metadata.FrameworkType(ftype)
	if len(props) > 0 {
		fc.PropertyValues = append([]byte(nil), props...)
	}
	return &fc, nil
}

// SaveFrameworkConfig inserts the config on first save and updates it in place
// afterwards. The owning screen's framework_id is kept in sync.
func (s *Store) SaveFrameworkConfig(ctx context.Context, fc *metadata.FrameworkConfig) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	var existingID string
	err = tx.QueryRowContext(ctx, s.q(`SELECT id FROM framework_types WHERE screen_id = $1`), fc.ScreenID).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if fc.ID == "" {
			fc.ID = uuid.NewString()
		}
		fc.CreatedAt, fc.UpdatedAt = now, now
		if _, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO framework_types (id, screen_id, framework_type, property_values, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`),
			fc.ID, fc.ScreenID, string(fc.FrameworkType), nullJSON(fc.PropertyValues), now, now,
		); err != nil {
			return fmt.Errorf("insert framework config: %w", MapError(s.Dialect, err))
		}
	case err != nil:
		return fmt.Errorf("find framework config: %w", err)
	default:
		fc.ID = existingID
		fc.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, s.q(
			`UPDATE framework_types SET framework_type = $1, property_values = $2, updated_at = $3 WHERE id = $4`),
			string(fc.FrameworkType), nullJSON(fc.PropertyValues), now, fc.ID,
		); err != nil {
			return fmt.Errorf("update framework config: %w", err)
		}
	}

	n, err := Exec(ctx, tx, s.q(`UPDATE screens SET framework_type = $1, framework_id = $2, updated_at = $3 WHERE id = $4`),
		string(fc.FrameworkType), fc.ID, now, fc.ScreenID)
	if err != nil {
		return fmt.Errorf("link framework config: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
