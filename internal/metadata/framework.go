package metadata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FrameworkType is the response type a screen collects.
type FrameworkType string

const (
	FrameworkUnset           FrameworkType = ""
	FrameworkSingleChoice    FrameworkType = "single_choice"
	FrameworkMultipleChoice  FrameworkType = "multiple_choice"
	FrameworkSlider          FrameworkType = "slider"
	FrameworkYesNo           FrameworkType = "yes_no"
	FrameworkInformation     FrameworkType = "information"
	FrameworkImage           FrameworkType = "image"
	FrameworkClassOfElements FrameworkType = "class_of_elements"
)

// FrameworkTypes lists every settable framework type in display order.
var FrameworkTypes = []FrameworkType{
	FrameworkSingleChoice,
	FrameworkMultipleChoice,
	FrameworkSlider,
	FrameworkYesNo,
	FrameworkInformation,
	FrameworkImage,
	FrameworkClassOfElements,
}

// ParseFrameworkType validates a stored or submitted type tag.
// The empty string parses to FrameworkUnset.
func ParseFrameworkType(s string) (FrameworkType, error) {
	t := FrameworkType(strings.TrimSpace(s))
	if t == FrameworkUnset || t.Valid() {
		return t, nil
	}
	return FrameworkUnset, fmt.Errorf("unknown framework type %q", s)
}

// Valid reports whether t is one of the settable types.
func (t FrameworkType) Valid() bool {
	for _, known := range FrameworkTypes {
		if t == known {
			return true
		}
	}
	return false
}

var titleCaser = cases.Title(language.English)

// Label returns a human readable name, e.g. "Multiple Choice".
func (t FrameworkType) Label() string {
	if t == FrameworkUnset {
		return "Not set"
	}
	return titleCaser.String(strings.ReplaceAll(string(t), "_", " "))
}

// PropertyValues is the type-specific payload of a framework config.
// The set of implementations is closed; switch on the concrete type.
type PropertyValues interface {
	frameworkType() FrameworkType
}

type ChoiceProperties struct {
	Options []string `json:"options"`
	// Multiple distinguishes multiple_choice from single_choice; it is not serialized.
	Multiple bool `json:"-"`
}

type SliderProperties struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

type YesNoProperties struct {
	Value *bool `json:"value"`
}

type TextProperties struct {
	Text string `json:"text"`
}

type ImageProperties struct {
	ImageURL string `json:"image_url"`
}

type ReferenceProperties struct {
	CoeID *string `json:"coe_id"`
}

// EmptyProperties is the payload of an unset or unknown type.
type EmptyProperties struct{}

func (p ChoiceProperties) frameworkType() FrameworkType {
	if p.Multiple {
		return FrameworkMultipleChoice
	}
	return FrameworkSingleChoice
}
func (SliderProperties) frameworkType() FrameworkType    { return FrameworkSlider }
func (YesNoProperties) frameworkType() FrameworkType     { return FrameworkYesNo }
func (TextProperties) frameworkType() FrameworkType      { return FrameworkInformation }
func (ImageProperties) frameworkType() FrameworkType     { return FrameworkImage }
func (ReferenceProperties) frameworkType() FrameworkType { return FrameworkClassOfElements }
func (EmptyProperties) frameworkType() FrameworkType     { return FrameworkUnset }

// TypeOf returns the framework type a payload belongs to.
func TypeOf(p PropertyValues) FrameworkType {
	if p == nil {
		return FrameworkUnset
	}
	return p.frameworkType()
}

// DefaultProperties returns the default payload shape for t.
func DefaultProperties(t FrameworkType) PropertyValues {
	switch t {
	case FrameworkSingleChoice:
		return ChoiceProperties{Options: []string{}}
	case FrameworkMultipleChoice:
		return ChoiceProperties{Options: []string{}, Multiple: true}
	case FrameworkSlider:
		return SliderProperties{Min: 0, Max: 100, Step: 1}
	case FrameworkYesNo:
		return YesNoProperties{}
	case FrameworkInformation:
		return TextProperties{}
	case FrameworkImage:
		return ImageProperties{}
	case FrameworkClassOfElements:
		return ReferenceProperties{}
	default:
		return EmptyProperties{}
	}
}

// ResolveProperties normalizes a payload for t. Switching type (priorType != t)
// resets to the default shape; otherwise the known fields of raw are kept,
// legacy encodings migrated and missing fields defaulted.
func ResolveProperties(t, priorType FrameworkType, raw json.RawMessage) (PropertyValues, error) {
	def := DefaultProperties(t)
	if t != priorType || len(raw) == 0 || string(raw) == "null" {
		return def, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode property_values: %w", err)
	}

	switch p := def.(type) {
	case ChoiceProperties:
		p.Options = coerceOptions(fields["options"])
		return p, nil
	case SliderProperties:
		if v, ok := coerceNumber(fields["min"]); ok {
			p.Min = v
		}
		if v, ok := coerceNumber(fields["max"]); ok {
			p.Max = v
		}
		if v, ok := coerceNumber(fields["step"]); ok && v > 0 {
			p.Step = v
		}
		return p, nil
	case YesNoProperties:
		p.Value = coerceBool(fields["value"])
		return p, nil
	case TextProperties:
		p.Text, _ = fields["text"].(string)
		return p, nil
	case ImageProperties:
		p.ImageURL, _ = fields["image_url"].(string)
		return p, nil
	case ReferenceProperties:
		if s, ok := fields["coe_id"].(string); ok && s != "" {
			p.CoeID = &s
		}
		return p, nil
	case EmptyProperties:
		return p, nil
	}
	return def, nil
}

// MarshalProperties encodes a payload for the property_values column.
func MarshalProperties(p PropertyValues) (json.RawMessage, error) {
	if p == nil {
		p = EmptyProperties{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode property_values: %w", err)
	}
	return b, nil
}

// DecodeProperties reads a stored payload of type t.
func DecodeProperties(t FrameworkType, raw json.RawMessage) (PropertyValues, error) {
	return ResolveProperties(t, t, raw)
}

func coerceOptions(v any) []string {
	out := []string{}
	switch opts := v.(type) {
	case []any:
		for _, o := range opts {
			switch s := o.(type) {
			case string:
				out = append(out, s)
			case float64:
				out = append(out, strconv.FormatFloat(s, 'f', -1, 64))
			}
		}
	case string:
		// Older rows stored the options as one comma separated string.
		for _, part := range strings.Split(opts, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func coerceBool(v any) *bool {
	switch b := v.(type) {
	case bool:
		return &b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return nil
		}
		return &parsed
	}
	return nil
}
