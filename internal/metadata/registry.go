package metadata

import "sync"

// Registry caches the screen list of each widget. Entries are dropped when a
// change notification for the widget arrives and reloaded on the next read.
type Registry struct {
	mu      sync.RWMutex
	screens map[string][]Screen // keyed by widget id
}

func NewRegistry() *Registry {
	return &Registry{
		screens: make(map[string][]Screen),
	}
}

// Screens returns a copy of the cached list and whether it was present.
func (r *Registry) Screens(widgetID string) ([]Screen, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.screens[widgetID]
	if !ok {
		return nil, false
	}
	out := make([]Screen, len(list))
	copy(out, list)
	return out, true
}

// Load replaces the cached list for a widget.
func (r *Registry) Load(widgetID string, screens []Screen) {
	list := make([]Screen, len(screens))
	copy(list, screens)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens[widgetID] = list
}

// Merge inserts or replaces one screen in a cached list. Widgets that are not
// cached are left alone so the next read loads the full list.
func (r *Registry) Merge(screen Screen) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.screens[screen.WidgetID]
	if !ok {
		return
	}
	for i := range list {
		if list[i].ID == screen.ID {
			list[i] = screen
			return
		}
	}
	r.screens[screen.WidgetID] = append(list, screen)
}

// Remove drops one screen from a cached list.
func (r *Registry) Remove(widgetID, screenID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.screens[widgetID]
	if !ok {
		return
	}
	for i := range list {
		if list[i].ID == screenID {
			r.screens[widgetID] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Invalidate forgets the cached list of a widget.
func (r *Registry) Invalidate(widgetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.screens, widgetID)
}
