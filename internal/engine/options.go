package engine

import (
	"context"
	"errors"
	"strings"

	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/store"
)

// OutputOption is one selectable value of a screen paired with the edge that
// currently represents it.
type OutputOption struct {
	Label      string               `json:"label"`
	Value      SelectableJSON       `json:"value"`
	Tag        string               `json:"framework_type"`
	Connection *metadata.Connection `json:"connection,omitempty"`
	Violation  *AppError            `json:"violation,omitempty"`
}

// SelectableValues enumerates what an author can connect from a framework
// payload. Multiple choice yields each option followed by every combination.
func SelectableValues(props metadata.PropertyValues, limit int) ([]Selectable, error) {
	var out []Selectable
	switch p := props.(type) {
	case metadata.ChoiceProperties:
		for _, o := range p.Options {
			out = append(out, Scalar(o))
		}
		if p.Multiple {
			combos, err := CombinationsChecked(p.Options, limit)
			if err != nil {
				return nil, err
			}
			for _, c := range combos {
				out = append(out, Combination(c))
			}
		}
	case metadata.YesNoProperties:
		out = append(out, Structured{Kind: "yes_no", Value: true}, Structured{Kind: "yes_no", Value: false})
	case metadata.TextProperties:
		out = append(out, Structured{Kind: "read_receipt", Value: true})
	case metadata.SliderProperties:
		out = append(out, Structured{Kind: "submitted", Value: true})
	case metadata.ImageProperties:
		if p.ImageURL != "" {
			out = append(out, Structured{Kind: "image", Value: p.ImageURL})
		}
	case metadata.ReferenceProperties:
		if p.CoeID != nil {
			out = append(out, Structured{Kind: "coe", Value: map[string]any{"id": *p.CoeID}})
		}
	case metadata.EmptyProperties:
	}
	return out, nil
}

// Label renders a selectable for display.
func Label(sel Selectable) string {
	switch v := sel.(type) {
	case Scalar:
		return string(v)
	case Combination:
		return strings.Join(v, " + ")
	case Structured:
		switch v.Kind {
		case "yes_no":
			if b, _ := v.Value.(bool); b {
				return "Yes"
			}
			return "No"
		case "read_receipt":
			return "Read"
		case "submitted":
			return "Submitted"
		case "image":
			return "Image viewed"
		case "coe":
			return "Element selected"
		}
		return v.Kind
	}
	return ""
}

// OutputOptions lists the selectable values of a screen with their active
// edges. A screen without a framework config has no options.
func (m *ConnectionManager) OutputOptions(ctx context.Context, screenID string) ([]OutputOption, error) {
	if _, err := m.loadScreen(ctx, screenID); err != nil {
		return nil, err
	}
	fc, err := m.screens.GetFrameworkConfig(ctx, screenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []OutputOption{}, nil
		}
		return nil, PersistenceError("Failed to load framework config", err)
	}
	props, err := fc.Properties()
	if err != nil {
		return nil, PersistenceError("Stored framework config is unreadable", err)
	}
	values, err := SelectableValues(props, m.MaxCombinationOptions)
	if err != nil {
		return nil, ValidationError([]ErrorDetail{{Field: "options", Rule: "max", Message: err.Error()}})
	}

	edges, err := m.conns.ListConnections(ctx, screenID)
	if err != nil {
		return nil, PersistenceError("Failed to list connections", err)
	}

	out := make([]OutputOption, 0, len(values))
	for _, v := range values {
		wire, err := ToSelectableJSON(v)
		if err != nil {
			return nil, ValidationError([]ErrorDetail{{Field: "options", Rule: "encodable", Message: err.Error()}})
		}
		opt := OutputOption{
			Label: Label(v),
			Value: wire,
			Tag:   SourceTag(fc.FrameworkType, v.Shape()),
		}
		res, err := m.matcher.Match(MatchQuery{
			SourceScreenID: screenID,
			Value:          v,
			Family:         string(fc.FrameworkType),
		}, edges)
		if err != nil {
			// Labels with a comma cannot be combined; show them unconnectable.
			out = append(out, opt)
			continue
		}
		opt.Connection = res.Edge
		opt.Violation = res.Violation
		out = append(out, opt)
	}
	return out, nil
}
