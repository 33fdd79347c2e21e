package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"widgetflow-backend/internal/config"
	"widgetflow-backend/internal/engine"
	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/notify"
	"widgetflow-backend/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "flows"}
	if err := store.Migrate(cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := store.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testApp(t *testing.T, s *store.Store, reg *metadata.Registry, hub *notify.Hub) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	manager := engine.NewConnectionManager(s, s, hub, &engine.Matcher{})
	h := engine.NewHandler(s, reg, manager, engine.NewDialogSessions(manager, s), engine.MustGateSet(), hub)
	engine.RegisterRoutes(app.Group("/api"), h)
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	return resp
}

func readData(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env struct {
		Data  json.RawMessage  `json:"data"`
		Error *engine.AppError `json:"error"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("decode body %q: %v", b, err)
	}
	if env.Error != nil {
		t.Fatalf("unexpected error %s: %s", env.Error.Code, env.Error.Message)
	}
	if into != nil {
		if err := json.Unmarshal(env.Data, into); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func wizard(t *testing.T, app *fiber.App, draft engine.Draft, step engine.Step, action string) engine.StepResult {
	t.Helper()
	resp := doRequest(t, app, "POST", "/api/screens/wizard", fiber.Map{
		"draft": draft, "current_step": step, "action": action,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("wizard %s from step %d: status %d", action, step, resp.StatusCode)
	}
	var res engine.StepResult
	readData(t, resp, &res)
	return res
}

// TestMultipleChoiceFlow defines a multiple choice screen through the wizard,
// connects one combination and checks that only that combination is marked.
func TestMultipleChoiceFlow(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	w := &metadata.Widget{Name: "Survey"}
	if err := s.CreateWidget(ctx, w); err != nil {
		t.Fatalf("create widget: %v", err)
	}

	reg := metadata.NewRegistry()
	hub := notify.New(64)
	hub.Subscribe("registry", notify.InvalidateRegistry(reg))
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	hub.Start(hubCtx)
	defer hub.Stop()
	app := testApp(t, s, reg, hub)

	events, unwatch := hub.Watch(w.ID)
	defer unwatch()

	res := wizard(t, app, engine.Draft{WidgetID: w.ID, Name: "Colors"}, engine.StepName, "next")
	d := res.Draft
	d.Description = "Pick any"
	res = wizard(t, app, d, res.CurrentStep, "next")
	d = res.Draft
	d.FrameworkType = metadata.FrameworkMultipleChoice
	d.PropertyValues = json.RawMessage(`{"options":["Red","Blue"]}`)
	res = wizard(t, app, d, res.CurrentStep, "next")
	if res.CurrentStep != engine.StepOutput {
		t.Fatalf("expected output step, got %d", res.CurrentStep)
	}
	source := res.Draft.ScreenID

	target := &metadata.Screen{WidgetID: w.ID, Name: "Follow up"}
	if err := s.CreateScreen(ctx, target); err != nil {
		t.Fatalf("create target: %v", err)
	}

	resp := doRequest(t, app, "POST", "/api/combinations", fiber.Map{"options": []string{"Red", "Blue"}})
	var combos [][]string
	readData(t, resp, &combos)
	want := [][]string{{"Red"}, {"Blue"}, {"Red", "Blue"}}
	if len(combos) != len(want) {
		t.Fatalf("expected %v, got %v", want, combos)
	}
	for i := range want {
		if len(combos[i]) != len(want[i]) || combos[i][0] != want[i][0] {
			t.Fatalf("expected %v, got %v", want, combos)
		}
	}

	resp = doRequest(t, app, "POST", "/api/connections", fiber.Map{
		"source_screen_id": source,
		"value":            fiber.Map{"shape": "combination", "value": []string{"Red", "Blue"}},
		"target_screen_id": target.ID,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("connect: status %d", resp.StatusCode)
	}

	resp = doRequest(t, app, "GET", "/api/screens/"+source+"/options", nil)
	var opts []engine.OutputOption
	readData(t, resp, &opts)
	var marked []string
	for _, o := range opts {
		if o.Connection != nil {
			marked = append(marked, o.Label)
			if o.Connection.ScreenName != "Follow up" {
				t.Fatalf("expected denormalized target name, got %q", o.Connection.ScreenName)
			}
		}
	}
	if len(marked) != 1 || marked[0] != "Red + Blue" {
		t.Fatalf("expected only Red + Blue connected, got %v", marked)
	}

	// The first wizard save, the two updates, the framework save and the
	// connect all reach the widget's watchers.
	deadline := time.After(2 * time.Second)
	seen := map[string]int{}
	for seen["connect_screens"] == 0 {
		select {
		case ev := <-events:
			seen[ev.Table]++
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", seen)
		}
	}
	if seen["screens"] == 0 {
		t.Fatalf("expected screen events before the connect, got %v", seen)
	}
}

func TestTerminateAndReconnectFlow(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	app := testApp(t, s, metadata.NewRegistry(), notify.New(8))

	w := &metadata.Widget{Name: "Survey"}
	if err := s.CreateWidget(ctx, w); err != nil {
		t.Fatalf("create widget: %v", err)
	}
	source := &metadata.Screen{WidgetID: w.ID, Name: "Agree?"}
	if err := s.CreateScreen(ctx, source); err != nil {
		t.Fatalf("create source: %v", err)
	}
	if err := s.SaveFrameworkConfig(ctx, &metadata.FrameworkConfig{
		ScreenID: source.ID, FrameworkType: metadata.FrameworkYesNo, PropertyValues: json.RawMessage(`{"value":null}`),
	}); err != nil {
		t.Fatalf("save config: %v", err)
	}

	yes := fiber.Map{"shape": "structured", "kind": "yes_no", "value": true}
	resp := doRequest(t, app, "POST", "/api/connections", fiber.Map{
		"source_screen_id": source.ID, "value": yes, "new_screen_name": "Thanks",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("connect: status %d", resp.StatusCode)
	}
	var first metadata.Connection
	readData(t, resp, &first)

	for i := 0; i < 2; i++ {
		resp = doRequest(t, app, "DELETE", "/api/connections/"+first.ID, nil)
		if resp.StatusCode != 200 {
			t.Fatalf("terminate #%d: status %d", i+1, resp.StatusCode)
		}
	}

	resp = doRequest(t, app, "POST", "/api/connections", fiber.Map{
		"source_screen_id": source.ID, "value": yes, "target_screen_id": first.TargetScreenID,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("reconnect: status %d", resp.StatusCode)
	}
	var second metadata.Connection
	readData(t, resp, &second)
	if second.ID == first.ID {
		t.Fatal("reconnect must insert a new edge")
	}

	resp = doRequest(t, app, "GET", "/api/screens/"+source.ID+"/connections/history", nil)
	var history []metadata.Connection
	readData(t, resp, &history)
	if len(history) != 2 {
		t.Fatalf("expected 2 edges in history, got %d", len(history))
	}
	active := 0
	for _, e := range history {
		if !e.IsTerminated {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active edge, got %d", active)
	}
}
