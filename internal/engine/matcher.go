package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"slices"
	"strings"

	"widgetflow-backend/internal/metadata"
)

// MatchQuery identifies one selectable value on a source screen.
type MatchQuery struct {
	SourceScreenID    string
	Value             Selectable
	Family            string // edge type family, e.g. "multiple_choice"; empty matches all
	ConnectionContext string
}

// MatchResult is the edge that currently represents a value, if any.
// Duplicates lists further active edges for the same key; they break the
// one-active-edge rule and Violation is set.
type MatchResult struct {
	Edge       *metadata.Connection
	Duplicates []metadata.Connection
	Violation  *AppError
}

func (r MatchResult) Connected() bool {
	return r.Edge != nil
}

// Matcher decides which stored edge represents a selectable value.
type Matcher struct {
	// OnViolation is called when more than one active edge matches.
	OnViolation func(q MatchQuery, edges []metadata.Connection)
}

// Match scans edges in the given order and returns the first active edge of
// the query's source, family and context whose value matches. Later matches
// are reported as duplicates.
func (m *Matcher) Match(q MatchQuery, edges []metadata.Connection) (MatchResult, error) {
	enc, err := Encode(q.Value)
	if err != nil {
		return MatchResult{}, err
	}

	var hits []metadata.Connection
	for _, e := range edges {
		if e.IsTerminated || e.SourceScreenID != q.SourceScreenID {
			continue
		}
		if !InFamily(e.SourceType, q.Family) || e.ConnectionContext != q.ConnectionContext {
			continue
		}
		if edgeMatches(e, enc, q.Value) {
			hits = append(hits, e)
		}
	}

	if len(hits) == 0 {
		return MatchResult{}, nil
	}
	res := MatchResult{Edge: &hits[0]}
	if len(hits) > 1 {
		res.Duplicates = hits[1:]
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		res.Violation = InvariantViolationError(fmt.Sprintf(
			"%d active connections for value %q on screen %s", len(hits), enc.Value, q.SourceScreenID))
		res.Violation.Details = []ErrorDetail{{Field: "connections", Message: strings.Join(ids, ",")}}
		log.Printf("WARN: %s (using %s)", res.Violation.Message, hits[0].ID)
		if m != nil && m.OnViolation != nil {
			m.OnViolation(q, hits)
		}
	}
	return res, nil
}

// IsConnected reports whether an active edge represents the query's value.
func (m *Matcher) IsConnected(q MatchQuery, edges []metadata.Connection) (bool, error) {
	res, err := m.Match(q, edges)
	if err != nil {
		return false, err
	}
	return res.Connected(), nil
}

// ConnectedEdge returns the edge representing the value, or nil.
func (m *Matcher) ConnectedEdge(q MatchQuery, edges []metadata.Connection) (*metadata.Connection, error) {
	res, err := m.Match(q, edges)
	if err != nil {
		return nil, err
	}
	return res.Edge, nil
}

// InFamily reports whether an edge tag belongs to family: equal to it or
// prefixed by family+":". An empty family matches every tag.
func InFamily(tag, family string) bool {
	if family == "" {
		return true
	}
	return tag == family || strings.HasPrefix(tag, family+":")
}

func edgeMatches(e metadata.Connection, enc Encoding, sel Selectable) bool {
	family, shape := ShapeFromTag(e.SourceType)
	if !ShapeAllowed(metadata.FrameworkType(family), enc.Shape) {
		return false
	}
	if shape != ShapeUnknown {
		return shape == enc.Shape && e.SourceValue == enc.Value
	}
	// Legacy rows carry no shape in their tag.
	if e.SourceValue == enc.Value {
		return true
	}
	return structurallyEqual(e.SourceValue, sel)
}

// structurallyEqual parses a legacy stored value as the candidate's shape.
// Values of different shapes never match.
func structurallyEqual(stored string, sel Selectable) bool {
	raw := []byte(strings.TrimSpace(stored))
	switch v := sel.(type) {
	case Combination:
		var arr []string
		if err := json.Unmarshal(raw, &arr); err != nil {
			return false
		}
		return slices.Equal(arr, []string(v))
	case Scalar:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return false
		}
		return s == string(v)
	case Structured:
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return false
		}
		candidate, ok := normalized(v.Value).(map[string]any)
		if !ok {
			return false
		}
		id, ok := candidate["id"]
		if !ok {
			return false
		}
		storedID, ok := obj["id"]
		return ok && reflect.DeepEqual(storedID, id)
	}
	return false
}

// normalized round-trips a value through JSON so it compares against decoded
// stored values.
func normalized(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
