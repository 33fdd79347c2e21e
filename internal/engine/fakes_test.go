package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/notify"
	"widgetflow-backend/internal/store"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory ScreenRepository and ConnectionRepository.
type memStore struct {
	mu       sync.Mutex
	seq      int
	clock    time.Time
	screens  map[string]metadata.Screen
	order    []string
	configs  map[string]metadata.FrameworkConfig
	edges    []metadata.Connection
	failNext map[string]error // method name -> error returned once
}

func newMemStore() *memStore {
	return &memStore{
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		screens:  make(map[string]metadata.Screen),
		configs:  make(map[string]metadata.FrameworkConfig),
		failNext: make(map[string]error),
	}
}

func (m *memStore) failOnce(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[method] = err
}

func (m *memStore) fail(method string) error {
	if err, ok := m.failNext[method]; ok {
		delete(m.failNext, method)
		return err
	}
	return nil
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// addScreen seeds a screen with an optional framework config.
func (m *memStore) addScreen(widgetID, name string, t metadata.FrameworkType, props string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID("screen")
	now := m.tick()
	sc := metadata.Screen{ID: id, WidgetID: widgetID, Name: name, FrameworkType: t, CreatedAt: now, UpdatedAt: now}
	if t != metadata.FrameworkUnset {
		fcID := m.nextID("fc")
		m.configs[id] = metadata.FrameworkConfig{ID: fcID, ScreenID: id, FrameworkType: t, PropertyValues: []byte(props)}
		sc.FrameworkID = fcID
	}
	m.screens[id] = sc
	m.order = append(m.order, id)
	return id
}

func (m *memStore) removeScreen(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.screens, id)
	delete(m.configs, id)
}

func (m *memStore) DeleteScreen(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteScreen"); err != nil {
		return err
	}
	if _, ok := m.screens[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.screens, id)
	delete(m.configs, id)
	return nil
}

func (m *memStore) CreateScreen(_ context.Context, sc *metadata.Screen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateScreen"); err != nil {
		return err
	}
	if sc.ID == "" {
		sc.ID = m.nextID("screen")
	}
	now := m.tick()
	sc.CreatedAt, sc.UpdatedAt = now, now
	m.screens[sc.ID] = *sc
	m.order = append(m.order, sc.ID)
	return nil
}

func (m *memStore) GetScreen(_ context.Context, id string) (*metadata.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetScreen"); err != nil {
		return nil, err
	}
	sc, ok := m.screens[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sc, nil
}

func (m *memStore) UpdateScreen(_ context.Context, sc *metadata.Screen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateScreen"); err != nil {
		return err
	}
	if _, ok := m.screens[sc.ID]; !ok {
		return store.ErrNotFound
	}
	sc.UpdatedAt = m.tick()
	m.screens[sc.ID] = *sc
	return nil
}

func (m *memStore) ListScreens(_ context.Context, widgetID string) ([]metadata.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListScreens"); err != nil {
		return nil, err
	}
	out := []metadata.Screen{}
	for _, id := range m.order {
		if sc, ok := m.screens[id]; ok && sc.WidgetID == widgetID {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (m *memStore) ScreensExist(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.screens[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memStore) GetFrameworkConfig(_ context.Context, screenID string) (*metadata.FrameworkConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fc, ok := m.configs[screenID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &fc, nil
}

func (m *memStore) SaveFrameworkConfig(_ context.Context, fc *metadata.FrameworkConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SaveFrameworkConfig"); err != nil {
		return err
	}
	sc, ok := m.screens[fc.ScreenID]
	if !ok {
		return store.ErrNotFound
	}
	if existing, ok := m.configs[fc.ScreenID]; ok {
		fc.ID = existing.ID
		fc.CreatedAt = existing.CreatedAt
	} else {
		fc.ID = m.nextID("fc")
		fc.CreatedAt = m.tick()
	}
	fc.UpdatedAt = m.tick()
	m.configs[fc.ScreenID] = *fc
	sc.FrameworkType = fc.FrameworkType
	sc.FrameworkID = fc.ID
	m.screens[sc.ID] = sc
	return nil
}

func (m *memStore) InsertConnection(_ context.Context, c *metadata.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertConnection"); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = m.nextID("edge")
	}
	now := m.tick()
	c.CreatedAt, c.UpdatedAt = now, now
	m.edges = append(m.edges, *c)
	return nil
}

// appendEdge stores a raw edge, bypassing every check. Used for legacy rows.
func (m *memStore) appendEdge(c metadata.Connection) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID("edge")
	c.CreatedAt = m.tick()
	m.edges = append(m.edges, c)
	return c.ID
}

func (m *memStore) GetConnection(_ context.Context, id string) (*metadata.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.edges {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListConnections(_ context.Context, sourceScreenID string) ([]metadata.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListConnections"); err != nil {
		return nil, err
	}
	out := []metadata.Connection{}
	for _, e := range m.edges {
		if e.SourceScreenID == sourceScreenID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) TerminateConnection(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TerminateConnection"); err != nil {
		return false, err
	}
	for i := range m.edges {
		if m.edges[i].ID == id && !m.edges[i].IsTerminated {
			m.edges[i].IsTerminated = true
			return true, nil
		}
	}
	return false, nil
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(ev notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) tables() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Table + ":" + string(ev.Op)
	}
	return out
}

func appErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
