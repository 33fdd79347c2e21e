package engine

import (
	"testing"

	"widgetflow-backend/internal/metadata"
)

func edge(id, source, tag, value string) metadata.Connection {
	return metadata.Connection{ID: id, SourceScreenID: source, SourceType: tag, SourceValue: value}
}

func TestMatcher_ScalarDoesNotMatchSingletonCombination(t *testing.T) {
	m := &Matcher{}
	edges := []metadata.Connection{edge("e1", "s1", "multiple_choice:combination", "Red")}

	ok, err := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Scalar("Red"), Family: "multiple_choice"}, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("scalar Red must not match combination [Red]")
	}

	ok, _ = m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Combination{"Red"}, Family: "multiple_choice"}, edges)
	if !ok {
		t.Fatal("combination [Red] should match its own edge")
	}
}

func TestMatcher_IgnoresTerminatedAndOtherSources(t *testing.T) {
	m := &Matcher{}
	dead := edge("e1", "s1", "multiple_choice:individual", "Red")
	dead.IsTerminated = true
	edges := []metadata.Connection{
		dead,
		edge("e2", "s2", "multiple_choice:individual", "Red"),
	}
	res, err := m.Match(MatchQuery{SourceScreenID: "s1", Value: Scalar("Red"), Family: "multiple_choice"}, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Connected() {
		t.Fatalf("expected no match, got %s", res.Edge.ID)
	}
}

func TestMatcher_FamilyPrefix(t *testing.T) {
	edges := []metadata.Connection{edge("e1", "s1", "multiple_choice:individual", "Red")}
	m := &Matcher{}

	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Scalar("Red"), Family: "multiple"}, edges); ok {
		t.Fatal("family must match on the full type name, not a raw prefix")
	}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Scalar("Red"), Family: "single_choice"}, edges); ok {
		t.Fatal("edge of another family must not match")
	}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Scalar("Red")}, edges); !ok {
		t.Fatal("empty family should match every tag")
	}
}

func TestMatcher_ConnectionContextScopes(t *testing.T) {
	e := edge("e1", "s1", "single_choice", "Red")
	e.ConnectionContext = "row-1"
	m := &Matcher{}
	q := MatchQuery{SourceScreenID: "s1", Value: Scalar("Red"), Family: "single_choice"}
	if ok, _ := m.IsConnected(q, []metadata.Connection{e}); ok {
		t.Fatal("edge in another context must not match")
	}
	q.ConnectionContext = "row-1"
	if ok, _ := m.IsConnected(q, []metadata.Connection{e}); !ok {
		t.Fatal("edge in the same context should match")
	}
}

func TestMatcher_DuplicatesReportViolation(t *testing.T) {
	var reported []metadata.Connection
	m := &Matcher{OnViolation: func(_ MatchQuery, edges []metadata.Connection) {
		reported = edges
	}}
	edges := []metadata.Connection{
		edge("first", "s1", "single_choice", "Red"),
		edge("second", "s1", "single_choice", "Red"),
	}
	res, err := m.Match(MatchQuery{SourceScreenID: "s1", Value: Scalar("Red"), Family: "single_choice"}, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Edge == nil || res.Edge.ID != "first" {
		t.Fatalf("expected first edge in table order, got %+v", res.Edge)
	}
	if len(res.Duplicates) != 1 || res.Duplicates[0].ID != "second" {
		t.Fatalf("expected one duplicate, got %+v", res.Duplicates)
	}
	if res.Violation == nil || res.Violation.Code != "INVARIANT_VIOLATION" {
		t.Fatalf("expected INVARIANT_VIOLATION, got %+v", res.Violation)
	}
	if len(reported) != 2 {
		t.Fatalf("expected OnViolation with 2 edges, got %d", len(reported))
	}
}

func TestMatcher_LegacyStructuralEquality(t *testing.T) {
	m := &Matcher{}
	edges := []metadata.Connection{
		edge("arr", "s1", "multiple_choice", `["Red","Blue"]`),
		edge("str", "s1", "single_choice", `"Green"`),
		edge("obj", "s1", "class_of_elements", `{"id":"coe-1","name":"Pumps"}`),
	}

	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Combination{"Red", "Blue"}}, edges); !ok {
		t.Fatal("legacy JSON array should match the combination")
	}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Combination{"Blue", "Red"}}, edges); ok {
		t.Fatal("combination order matters")
	}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Scalar("Green")}, edges); !ok {
		t.Fatal("legacy JSON string should match the scalar")
	}
	coe := Structured{Kind: "coe", Value: map[string]any{"id": "coe-1"}}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: coe}, edges); !ok {
		t.Fatal("legacy object should match on id")
	}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Scalar("Red")}, edges); ok {
		t.Fatal("scalar must not match a legacy array")
	}
}

func TestMatcher_LegacyPlainText(t *testing.T) {
	m := &Matcher{}
	edges := []metadata.Connection{edge("e1", "s1", "single_choice", "Red")}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Scalar("Red"), Family: "single_choice"}, edges); !ok {
		t.Fatal("bare tag with equal text should match")
	}
}

func TestMatcher_UnencodableQuery(t *testing.T) {
	m := &Matcher{}
	if _, err := m.Match(MatchQuery{SourceScreenID: "s1", Value: Combination{}}, nil); err == nil {
		t.Fatal("expected error for an empty combination")
	}
}

func TestMatcher_ScalarNeverMatchesCombination(t *testing.T) {
	m := &Matcher{}
	edges := []metadata.Connection{edge("e1", "s1", "single_choice:individual", "Yes, definitely")}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Combination{"Yes", "definitely"}}, edges); ok {
		t.Fatal("a tagged scalar must not match a combination with the same text")
	}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Scalar("Yes, definitely")}, edges); !ok {
		t.Fatal("a tagged scalar should match itself")
	}

	legacy := []metadata.Connection{edge("e2", "s1", "single_choice", "Yes, definitely")}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Combination{"Yes", "definitely"}}, legacy); ok {
		t.Fatal("a single choice edge can never hold a combination")
	}
	if ok, _ := m.IsConnected(MatchQuery{SourceScreenID: "s1", Value: Scalar("Yes, definitely")}, legacy); !ok {
		t.Fatal("legacy single choice edge should still match its scalar")
	}
}
