package engine

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"widgetflow-backend/internal/metadata"
)

func TestEncode_RoundTrip(t *testing.T) {
	cases := []Selectable{
		Scalar("Red"),
		Combination{"Red", "Blue"},
		Combination{"Only"},
		Structured{Kind: "yes_no", Value: true},
		Structured{Kind: "image", Value: "https://cdn.example.com/a.png"},
	}
	for _, sel := range cases {
		enc, err := Encode(sel)
		if err != nil {
			t.Fatalf("encode %v: %v", sel, err)
		}
		if enc.Shape != sel.Shape() {
			t.Fatalf("expected shape %s, got %s", sel.Shape(), enc.Shape)
		}
		back, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode %v: %v", enc, err)
		}
		if !reflect.DeepEqual(back, sel) {
			t.Fatalf("round trip changed value: %#v -> %#v", sel, back)
		}
	}
}

func TestEncode_ScalarAndSingletonCombinationDiffer(t *testing.T) {
	a, _ := Encode(Scalar("Red"))
	b, _ := Encode(Combination{"Red"})
	if a == b {
		t.Fatalf("scalar and singleton combination must encode differently, both %v", a)
	}
	if a.Value != b.Value {
		t.Fatalf("expected same text, got %q and %q", a.Value, b.Value)
	}
}

func TestEncode_CombinationText(t *testing.T) {
	enc, err := Encode(Combination{"Red", "Blue"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.Value != "Red, Blue" {
		t.Fatalf("expected %q, got %q", "Red, Blue", enc.Value)
	}
}

func TestEncode_Failures(t *testing.T) {
	cases := map[string]Selectable{
		"empty scalar":       Scalar(""),
		"empty combination":  Combination{},
		"empty label":        Combination{"Red", ""},
		"comma in label":     Combination{"Red, dark", "Blue"},
		"kindless structure": Structured{Value: true},
		"unmarshalable":      Structured{Kind: "bad", Value: make(chan int)},
	}
	for name, sel := range cases {
		if _, err := Encode(sel); !errors.Is(err, ErrUnencodable) {
			t.Fatalf("%s: expected ErrUnencodable, got %v", name, err)
		}
	}
	if _, err := Encode(nil); !errors.Is(err, ErrUnencodable) {
		t.Fatalf("nil: expected ErrUnencodable, got %v", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []Encoding{
		{Shape: ShapeScalar},
		{Shape: ShapeCombination},
		{Shape: ShapeStructured, Value: "{not json"},
		{Shape: ShapeStructured, Value: `{"value":1}`},
		{Shape: "other", Value: "x"},
	}
	for _, enc := range cases {
		if _, err := Decode(enc); !errors.Is(err, ErrMalformedEncoding) {
			t.Fatalf("%v: expected ErrMalformedEncoding, got %v", enc, err)
		}
	}
}

func TestSelectableJSON_RoundTrip(t *testing.T) {
	body := []byte(`{"shape":"combination","value":["Red","Blue"]}`)
	var wire SelectableJSON
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	sel, err := wire.Selectable()
	if err != nil {
		t.Fatalf("selectable: %v", err)
	}
	if !reflect.DeepEqual(sel, Combination{"Red", "Blue"}) {
		t.Fatalf("unexpected selectable %#v", sel)
	}
	back, err := ToSelectableJSON(sel)
	if err != nil {
		t.Fatalf("to wire: %v", err)
	}
	if string(back.Value) != `["Red","Blue"]` || back.Shape != ShapeCombination {
		t.Fatalf("unexpected wire form %+v", back)
	}
}

func TestSelectableJSON_WrongValueType(t *testing.T) {
	wire := SelectableJSON{Shape: ShapeCombination, Value: json.RawMessage(`"Red"`)}
	if _, err := wire.Selectable(); err == nil {
		t.Fatal("expected error for string combination value")
	}
	wire = SelectableJSON{Shape: "bogus", Value: json.RawMessage(`"Red"`)}
	if _, err := wire.Selectable(); err == nil {
		t.Fatal("expected error for unknown shape")
	}
}

func TestSourceTag(t *testing.T) {
	cases := []struct {
		typ   metadata.FrameworkType
		shape Shape
		want  string
	}{
		{metadata.FrameworkMultipleChoice, ShapeScalar, "multiple_choice:individual"},
		{metadata.FrameworkMultipleChoice, ShapeCombination, "multiple_choice:combination"},
		{metadata.FrameworkSingleChoice, ShapeScalar, "single_choice:individual"},
		{metadata.FrameworkYesNo, ShapeStructured, "yes_no:structured"},
	}
	for _, tc := range cases {
		if got := SourceTag(tc.typ, tc.shape); got != tc.want {
			t.Fatalf("SourceTag(%s, %s) = %q, want %q", tc.typ, tc.shape, got, tc.want)
		}
	}
}

func TestShapeFromTag(t *testing.T) {
	cases := map[string]struct {
		family string
		shape  Shape
	}{
		"multiple_choice:combination": {"multiple_choice", ShapeCombination},
		"multiple_choice:individual":  {"multiple_choice", ShapeScalar},
		"yes_no:structured":           {"yes_no", ShapeStructured},
		"single_choice":               {"single_choice", ShapeUnknown},
		"multiple_choice:legacy":      {"multiple_choice", ShapeUnknown},
	}
	for tag, want := range cases {
		family, shape := ShapeFromTag(tag)
		if family != want.family || shape != want.shape {
			t.Fatalf("ShapeFromTag(%q) = (%q, %q), want (%q, %q)", tag, family, shape, want.family, want.shape)
		}
	}
}

func TestShapeAllowed(t *testing.T) {
	cases := []struct {
		typ   metadata.FrameworkType
		shape Shape
		want  bool
	}{
		{metadata.FrameworkSingleChoice, ShapeScalar, true},
		{metadata.FrameworkSingleChoice, ShapeCombination, false},
		{metadata.FrameworkSingleChoice, ShapeStructured, false},
		{metadata.FrameworkMultipleChoice, ShapeScalar, true},
		{metadata.FrameworkMultipleChoice, ShapeCombination, true},
		{metadata.FrameworkMultipleChoice, ShapeStructured, false},
		{metadata.FrameworkYesNo, ShapeStructured, true},
		{metadata.FrameworkYesNo, ShapeScalar, false},
		{metadata.FrameworkSlider, ShapeCombination, false},
		{metadata.FrameworkClassOfElements, ShapeStructured, true},
		{metadata.FrameworkType("custom"), ShapeCombination, true},
	}
	for _, tc := range cases {
		if got := ShapeAllowed(tc.typ, tc.shape); got != tc.want {
			t.Fatalf("ShapeAllowed(%s, %s) = %v, want %v", tc.typ, tc.shape, got, tc.want)
		}
	}
}

func TestDecode_StructuredNumbersNormalize(t *testing.T) {
	cases := []Structured{
		{Kind: "slider", Value: 1},
		{Kind: "slider", Value: 2.5},
		{Kind: "coe", Value: map[string]any{"id": "coe-1", "rank": 3}},
		{Kind: "yes_no", Value: false},
	}
	for _, sel := range cases {
		enc, err := Encode(sel)
		if err != nil {
			t.Fatalf("encode %v: %v", sel, err)
		}
		back, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode %v: %v", enc, err)
		}
		want, err := Normalize(sel)
		if err != nil {
			t.Fatalf("normalize %v: %v", sel, err)
		}
		if !reflect.DeepEqual(back, want) {
			t.Fatalf("decode(encode(%#v)) = %#v, want %#v", sel, back, want)
		}
	}

	back, _ := Decode(Encoding{Shape: ShapeStructured, Value: `{"kind":"slider","value":1}`})
	if v := back.(Structured).Value; v != float64(1) {
		t.Fatalf("expected float64(1), got %T %v", v, v)
	}
}

func TestEncode_IntAndFloatAgree(t *testing.T) {
	a, _ := Encode(Structured{Kind: "slider", Value: 1})
	b, _ := Encode(Structured{Kind: "slider", Value: 1.0})
	if a != b {
		t.Fatalf("int and float of the same number must encode alike: %v vs %v", a, b)
	}
}

func TestNormalize_LeavesLabelsAlone(t *testing.T) {
	for _, sel := range []Selectable{Scalar("Red"), Combination{"Red", "Blue"}} {
		got, err := Normalize(sel)
		if err != nil || !reflect.DeepEqual(got, sel) {
			t.Fatalf("normalize %#v = %#v, %v", sel, got, err)
		}
	}
}
