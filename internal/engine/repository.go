package engine

import (
	"context"

	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/notify"
)

// ScreenRepository persists screens and their framework configs.
// Implementations return store.ErrNotFound for missing rows.
type ScreenRepository interface {
	CreateScreen(ctx context.Context, sc *metadata.Screen) error
	GetScreen(ctx context.Context, id string) (*metadata.Screen, error)
	UpdateScreen(ctx context.Context, sc *metadata.Screen) error
	DeleteScreen(ctx context.Context, id string) error
	ListScreens(ctx context.Context, widgetID string) ([]metadata.Screen, error)
	ScreensExist(ctx context.Context, ids []string) (map[string]bool, error)
	GetFrameworkConfig(ctx context.Context, screenID string) (*metadata.FrameworkConfig, error)
	SaveFrameworkConfig(ctx context.Context, fc *metadata.FrameworkConfig) error
}

// ConnectionRepository persists edges. Rows are never deleted.
type ConnectionRepository interface {
	InsertConnection(ctx context.Context, c *metadata.Connection) error
	GetConnection(ctx context.Context, id string) (*metadata.Connection, error)
	ListConnections(ctx context.Context, sourceScreenID string) ([]metadata.Connection, error)
	TerminateConnection(ctx context.Context, id string) (bool, error)
}

// Publisher receives committed changes. notify.Hub implements it.
type Publisher interface {
	Publish(ev notify.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(notify.Event) {}
