package metadata

import (
	"encoding/json"
	"time"
)

// Widget is a named container of screens.
type Widget struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Screen is one question node of a widget.
type Screen struct {
	ID            string          `json:"id"`
	WidgetID      string          `json:"widget_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	FrameworkType FrameworkType   `json:"framework_type,omitempty"`
	FrameworkID   string          `json:"framework_id,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// FrameworkConfig is the 1:1 response configuration of a screen.
type FrameworkConfig struct {
	ID             string          `json:"id"`
	ScreenID       string          `json:"screen_id"`
	FrameworkType  FrameworkType   `json:"framework_type"`
	PropertyValues json.RawMessage `json:"property_values,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Properties decodes the payload for the config's own type.
func (f *FrameworkConfig) Properties() (PropertyValues, error) {
	return DecodeProperties(f.FrameworkType, f.PropertyValues)
}

// Connection is a directed edge from one selectable value of a source screen
// to a target screen. Rows are never deleted; IsTerminated soft-removes them.
type Connection struct {
	ID                  string          `json:"id"`
	SourceScreenID      string          `json:"screen_ref"`
	TargetScreenID      string          `json:"next_screen_ref,omitempty"`
	SourceType          string          `json:"framework_type,omitempty"`
	SourceValue         string          `json:"source_value"`
	ConnectionContext   string          `json:"connection_context,omitempty"`
	ElementRef          string          `json:"element_ref,omitempty"`
	PropertyValues      json.RawMessage `json:"property_values,omitempty"`
	ScreenName          string          `json:"screen_name,omitempty"`
	ScreenDescription   string          `json:"screen_description,omitempty"`
	TargetFrameworkType FrameworkType   `json:"screen_framework_type,omitempty"`
	IsTerminated        bool            `json:"is_screen_terminated"`
	CreatedBy           string          `json:"created_by,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`

	// TargetMissing is set on read when the target screen no longer exists.
	TargetMissing bool `json:"target_missing,omitempty"`
}
