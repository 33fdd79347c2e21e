package engine

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"widgetflow-backend/internal/metadata"
)

type DialogState string

const (
	DialogIdle            DialogState = "idle"
	DialogContextCaptured DialogState = "context_captured"
	DialogPickerOpen      DialogState = "picker_open"
)

// ConnectionContext is the value an author is in the middle of connecting.
// It lives only inside a Dialog.
type ConnectionContext struct {
	Value             Selectable
	Family            string
	ConnectionContext string
	SourceScreenID    string
	WidgetID          string
	ElementRef        string
}

// DialogSnapshot is the serializable view of a Dialog.
type DialogSnapshot struct {
	State           DialogState            `json:"state"`
	CurrentScreenID string                 `json:"current_screen_id,omitempty"`
	Context         *ConnectionContextJSON `json:"context,omitempty"`
}

type ConnectionContextJSON struct {
	Value             SelectableJSON `json:"value"`
	Family            string         `json:"family,omitempty"`
	ConnectionContext string         `json:"connection_context,omitempty"`
	SourceScreenID    string         `json:"source_screen_id,omitempty"`
	WidgetID          string         `json:"widget_id,omitempty"`
	ElementRef        string         `json:"element_ref,omitempty"`
}

// Typed converts the wire form into a typed context.
func (j ConnectionContextJSON) Typed() (ConnectionContext, error) {
	sel, err := j.Value.Selectable()
	if err != nil {
		return ConnectionContext{}, err
	}
	return ConnectionContext{
		Value:             sel,
		Family:            j.Family,
		ConnectionContext: j.ConnectionContext,
		SourceScreenID:    j.SourceScreenID,
		WidgetID:          j.WidgetID,
		ElementRef:        j.ElementRef,
	}, nil
}

// Dialog mediates connecting a value to an existing screen chosen in a
// picker. It owns the captured context across requests, so the opener does
// not need to exist when the connection is confirmed.
type Dialog struct {
	mu       sync.Mutex
	widgetID string
	manager  *ConnectionManager
	screens  ScreenRepository

	state           DialogState
	currentScreenID string
	cc              *ConnectionContext
}

func NewDialog(widgetID string, manager *ConnectionManager, screens ScreenRepository) *Dialog {
	return &Dialog{
		widgetID: widgetID,
		manager:  manager,
		screens:  screens,
		state:    DialogIdle,
	}
}

// SetCurrentScreen records the last screen the author worked on. It is the
// fallback source when a context names none.
func (d *Dialog) SetCurrentScreen(screenID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentScreenID = screenID
}

func (d *Dialog) Snapshot() DialogSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := DialogSnapshot{State: d.state, CurrentScreenID: d.currentScreenID}
	if d.cc != nil {
		wire, err := ToSelectableJSON(d.cc.Value)
		if err == nil {
			snap.Context = &ConnectionContextJSON{
				Value:             wire,
				Family:            d.cc.Family,
				ConnectionContext: d.cc.ConnectionContext,
				SourceScreenID:    d.cc.SourceScreenID,
				WidgetID:          d.cc.WidgetID,
				ElementRef:        d.cc.ElementRef,
			}
		}
	}
	return snap
}

// Capture stores the context. The source screen comes from the context or
// the current screen; without either the capture is refused and the dialog
// is left as it was. A capture replaces any live context.
func (d *Dialog) Capture(cc ConnectionContext) error {
	if _, err := Encode(cc.Value); err != nil {
		return ValidationError([]ErrorDetail{{Field: "value", Rule: "encodable", Message: err.Error()}})
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cc.SourceScreenID == "" {
		cc.SourceScreenID = d.currentScreenID
	}
	if cc.SourceScreenID == "" {
		return ContextUnresolvableError("No source screen to connect from")
	}
	if cc.WidgetID == "" {
		cc.WidgetID = d.widgetID
	}
	d.cc = &cc
	d.state = DialogContextCaptured
	return nil
}

// OpenPicker moves a captured context into the picker.
func (d *Dialog) OpenPicker() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cc == nil {
		return ContextUnresolvableError("No connection context captured")
	}
	d.state = DialogPickerOpen
	return nil
}

// OpenWithContext captures the context and opens the picker.
func (d *Dialog) OpenWithContext(cc ConnectionContext) error {
	if err := d.Capture(cc); err != nil {
		return err
	}
	return d.OpenPicker()
}

// Candidates lists the screens of the widget the captured value can connect
// to, closest name first. An empty query keeps store order.
func (d *Dialog) Candidates(ctx context.Context, query string) ([]metadata.Screen, error) {
	d.mu.Lock()
	if d.state != DialogPickerOpen || d.cc == nil {
		d.mu.Unlock()
		return nil, ConflictError("Picker is not open")
	}
	widgetID, sourceID := d.cc.WidgetID, d.cc.SourceScreenID
	d.mu.Unlock()

	screens, err := d.screens.ListScreens(ctx, widgetID)
	if err != nil {
		return nil, PersistenceError("Failed to list screens", err)
	}
	out := slices.DeleteFunc(screens, func(sc metadata.Screen) bool { return sc.ID == sourceID })
	rankByName(out, query)
	return out, nil
}

// rankByName orders screens by how close their name is to query. Names that
// contain the query come first.
func rankByName(screens []metadata.Screen, query string) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return
	}
	type scored struct {
		miss int
		dist int
	}
	scores := make(map[string]scored, len(screens))
	for _, sc := range screens {
		name := strings.ToLower(sc.Name)
		s := scored{miss: 1, dist: levenshtein.ComputeDistance(name, q)}
		if strings.Contains(name, q) {
			s.miss = 0
		}
		scores[sc.ID] = s
	}
	slices.SortStableFunc(screens, func(a, b metadata.Screen) int {
		sa, sb := scores[a.ID], scores[b.ID]
		if c := cmp.Compare(sa.miss, sb.miss); c != 0 {
			return c
		}
		return cmp.Compare(sa.dist, sb.dist)
	})
}

// Confirm connects the captured value to target. On success the dialog goes
// back to idle and the context is cleared; on failure the picker stays open
// with the context kept so the author can retry.
func (d *Dialog) Confirm(ctx context.Context, targetScreenID, createdBy string) (*metadata.Connection, error) {
	d.mu.Lock()
	if d.state != DialogPickerOpen || d.cc == nil {
		d.mu.Unlock()
		return nil, ContextUnresolvableError("No connection in progress")
	}
	cc := d.cc
	d.mu.Unlock()

	if targetScreenID == "" {
		return nil, ValidationError([]ErrorDetail{{Field: "target_screen_id", Rule: "required", Message: "Target screen is required"}})
	}

	edge, err := d.manager.Connect(context.WithoutCancel(ctx), ConnectRequest{
		SourceScreenID:    cc.SourceScreenID,
		Value:             cc.Value,
		ConnectionContext: cc.ConnectionContext,
		ElementRef:        cc.ElementRef,
		TargetScreenID:    targetScreenID,
		CreatedBy:         createdBy,
	})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// A context opened while the connect ran is left alone.
	if d.cc == cc {
		d.cc = nil
		d.state = DialogIdle
	}
	return edge, nil
}

// Cancel discards the context without persisting anything.
func (d *Dialog) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cc = nil
	d.state = DialogIdle
}

// DialogSessions keeps one Dialog per author and widget so a captured
// context survives between requests.
type DialogSessions struct {
	mu      sync.Mutex
	dialogs map[string]*Dialog
	manager *ConnectionManager
	screens ScreenRepository
}

func NewDialogSessions(manager *ConnectionManager, screens ScreenRepository) *DialogSessions {
	return &DialogSessions{
		dialogs: make(map[string]*Dialog),
		manager: manager,
		screens: screens,
	}
}

// Get returns the author's dialog for a widget, creating it on first use.
func (s *DialogSessions) Get(user *metadata.UserContext, widgetID string) *Dialog {
	key := user.SessionKey(widgetID)

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[key]
	if !ok {
		d = NewDialog(widgetID, s.manager, s.screens)
		s.dialogs[key] = d
	}
	return d
}

// Drop forgets every dialog of a widget, e.g. when the widget is deleted.
func (s *DialogSessions) Drop(widgetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	suffix := "/" + widgetID
	for key := range s.dialogs {
		if strings.HasSuffix(key, suffix) {
			delete(s.dialogs, key)
		}
	}
}
