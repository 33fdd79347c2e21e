package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"widgetflow-backend/internal/metadata"
)

// Shape tells how a selectable value is encoded.
type Shape string

const (
	ShapeUnknown     Shape = ""
	ShapeScalar      Shape = "scalar"
	ShapeCombination Shape = "combination"
	ShapeStructured  Shape = "structured"
)

var (
	ErrUnencodable       = errors.New("value cannot be encoded")
	ErrMalformedEncoding = errors.New("malformed encoded value")
)

// Selectable is a value an author can connect: a single option, a combination
// of options, or a structured payload. The set of implementations is closed.
type Selectable interface {
	Shape() Shape
	selectable()
}

type Scalar string

type Combination []string

// Structured carries a non-option value such as a read receipt or an image
// URL. Kind names what the value means.
type Structured struct {
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

func (Scalar) Shape() Shape      { return ShapeScalar }
func (Combination) Shape() Shape { return ShapeCombination }
func (Structured) Shape() Shape  { return ShapeStructured }

func (Scalar) selectable()      {}
func (Combination) selectable() {}
func (Structured) selectable()  {}

// Encoding is the canonical stored form of a selectable.
type Encoding struct {
	Shape Shape  `json:"shape"`
	Value string `json:"value"`
}

// combinationSeparator joins combination labels. Labels may not contain a comma.
const combinationSeparator = ", "

// Encode converts a selectable into its canonical source_value. It fails
// rather than fall back to a lossy string.
func Encode(sel Selectable) (Encoding, error) {
	switch v := sel.(type) {
	case Scalar:
		if v == "" {
			return Encoding{}, fmt.Errorf("%w: empty option", ErrUnencodable)
		}
		return Encoding{Shape: ShapeScalar, Value: string(v)}, nil
	case Combination:
		if len(v) == 0 {
			return Encoding{}, fmt.Errorf("%w: empty combination", ErrUnencodable)
		}
		for _, label := range v {
			if label == "" {
				return Encoding{}, fmt.Errorf("%w: empty label in combination", ErrUnencodable)
			}
			if strings.Contains(label, ",") {
				return Encoding{}, fmt.Errorf("%w: label %q contains a comma", ErrUnencodable, label)
			}
		}
		return Encoding{Shape: ShapeCombination, Value: strings.Join(v, combinationSeparator)}, nil
	case Structured:
		if v.Kind == "" {
			return Encoding{}, fmt.Errorf("%w: structured value without kind", ErrUnencodable)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return Encoding{}, fmt.Errorf("%w: %v", ErrUnencodable, err)
		}
		return Encoding{Shape: ShapeStructured, Value: string(b)}, nil
	default:
		return Encoding{}, fmt.Errorf("%w: unsupported selectable %T", ErrUnencodable, sel)
	}
}

// Decode is the inverse of Encode. Structured values come back in their JSON
// form: numbers as float64, objects as map[string]any. Decode(Encode(x))
// equals Normalize(x).
func Decode(enc Encoding) (Selectable, error) {
	switch enc.Shape {
	case ShapeScalar:
		if enc.Value == "" {
			return nil, fmt.Errorf("%w: empty scalar", ErrMalformedEncoding)
		}
		return Scalar(enc.Value), nil
	case ShapeCombination:
		if enc.Value == "" {
			return nil, fmt.Errorf("%w: empty combination", ErrMalformedEncoding)
		}
		return Combination(strings.Split(enc.Value, combinationSeparator)), nil
	case ShapeStructured:
		var s Structured
		if err := json.Unmarshal([]byte(enc.Value), &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
		}
		if s.Kind == "" {
			return nil, fmt.Errorf("%w: structured value without kind", ErrMalformedEncoding)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown shape %q", ErrMalformedEncoding, enc.Shape)
	}
}

// Normalize returns sel with a structured value replaced by its JSON form, so
// it compares equal to what Decode and the HTTP layer produce.
func Normalize(sel Selectable) (Selectable, error) {
	v, ok := sel.(Structured)
	if !ok {
		return sel, nil
	}
	b, err := json.Marshal(v.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	return Structured{Kind: v.Kind, Value: out}, nil
}

// SelectableJSON is the wire form of a selectable in request and response
// bodies, e.g. {"shape":"combination","value":["Red","Blue"]}.
type SelectableJSON struct {
	Shape Shape           `json:"shape"`
	Kind  string          `json:"kind,omitempty"`
	Value json.RawMessage `json:"value"`
}

// Selectable converts the wire form into a typed selectable.
func (j SelectableJSON) Selectable() (Selectable, error) {
	switch j.Shape {
	case ShapeScalar:
		var s string
		if err := json.Unmarshal(j.Value, &s); err != nil {
			return nil, fmt.Errorf("scalar value must be a string: %w", err)
		}
		return Scalar(s), nil
	case ShapeCombination:
		var c []string
		if err := json.Unmarshal(j.Value, &c); err != nil {
			return nil, fmt.Errorf("combination value must be a string array: %w", err)
		}
		return Combination(c), nil
	case ShapeStructured:
		var v any
		if len(j.Value) > 0 {
			if err := json.Unmarshal(j.Value, &v); err != nil {
				return nil, fmt.Errorf("structured value: %w", err)
			}
		}
		return Structured{Kind: j.Kind, Value: v}, nil
	default:
		return nil, fmt.Errorf("unknown shape %q", j.Shape)
	}
}

// ToSelectableJSON converts a selectable into its wire form.
func ToSelectableJSON(sel Selectable) (SelectableJSON, error) {
	var (
		out = SelectableJSON{Shape: sel.Shape()}
		raw any
	)
	switch v := sel.(type) {
	case Scalar:
		raw = string(v)
	case Combination:
		raw = []string(v)
	case Structured:
		out.Kind = v.Kind
		raw = v.Value
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return SelectableJSON{}, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	out.Value = b
	return out, nil
}

// SourceTag builds the framework_type stored on an edge: the screen's type
// plus the shape of the connected value. Scalars are tagged "individual" to
// tell them apart from one-element combinations.
func SourceTag(t metadata.FrameworkType, shape Shape) string {
	switch shape {
	case ShapeCombination:
		return string(t) + ":combination"
	case ShapeStructured:
		return string(t) + ":structured"
	case ShapeScalar:
		return string(t) + ":individual"
	}
	return string(t)
}

// ShapeAllowed reports whether a screen of type t can produce values of the
// given shape. Unset and unrecognised types are not restricted.
func ShapeAllowed(t metadata.FrameworkType, shape Shape) bool {
	switch t {
	case metadata.FrameworkSingleChoice:
		return shape == ShapeScalar
	case metadata.FrameworkMultipleChoice:
		return shape == ShapeScalar || shape == ShapeCombination
	case metadata.FrameworkSlider, metadata.FrameworkYesNo, metadata.FrameworkInformation,
		metadata.FrameworkImage, metadata.FrameworkClassOfElements:
		return shape == ShapeStructured
	}
	return true
}

// ShapeFromTag splits a stored edge tag into its family and shape. A tag
// without a recognised suffix is a legacy tag of unknown shape.
func ShapeFromTag(tag string) (family string, shape Shape) {
	base, mode, ok := strings.Cut(tag, ":")
	if !ok {
		return tag, ShapeUnknown
	}
	switch mode {
	case "individual":
		return base, ShapeScalar
	case "combination":
		return base, ShapeCombination
	case "structured":
		return base, ShapeStructured
	}
	return base, ShapeUnknown
}
