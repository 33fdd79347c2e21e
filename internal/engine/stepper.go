package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"widgetflow-backend/internal/instrument"
	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/notify"
	"widgetflow-backend/internal/store"
)

// Draft is the in-progress definition of one screen.
type Draft struct {
	ScreenID       string                 `json:"screen_id,omitempty"`
	WidgetID       string                 `json:"widget_id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	FrameworkType  metadata.FrameworkType `json:"framework_type"`
	PropertyValues json.RawMessage        `json:"property_values,omitempty"`
	// PropertyType is the framework type PropertyValues was edited for. When it
	// differs from FrameworkType the payload is reset to the new type's defaults.
	PropertyType metadata.FrameworkType `json:"property_type,omitempty"`
}

// StepResult is the wizard state after an action.
type StepResult struct {
	Draft       Draft     `json:"draft"`
	CurrentStep Step      `json:"current_step"`
	Warning     *AppError `json:"warning,omitempty"`
}

// Stepper drives the four step screen definition wizard. Each step persists
// its own slice of the screen when it is left.
type Stepper struct {
	screens ScreenRepository
	pub     Publisher
	gates   *GateSet

	// OnScreenCreated is called after step 1 creates the screen row.
	OnScreenCreated func(sc metadata.Screen)
	// OnScreenSaved is called after a later save changed an existing screen.
	OnScreenSaved func(sc metadata.Screen)

	Draft       Draft
	CurrentStep Step
}

func NewStepper(screens ScreenRepository, pub Publisher, gates *GateSet, draft Draft, current Step) *Stepper {
	if pub == nil {
		pub = nopPublisher{}
	}
	if !current.Valid() {
		current = StepName
	}
	return &Stepper{
		screens:     screens,
		pub:         pub,
		gates:       gates,
		Draft:       draft,
		CurrentStep: current,
	}
}

// MissingFor lists the empty fields that block entering step n.
func (s *Stepper) MissingFor(n Step) []ErrorDetail {
	return s.gates.Missing(n, s.Draft)
}

// CanNavigateToStep reports whether step n may be entered. Going back is
// always allowed.
func (s *Stepper) CanNavigateToStep(n Step) bool {
	if !n.Valid() {
		return false
	}
	if n <= s.CurrentStep {
		return true
	}
	return len(s.MissingFor(n)) == 0
}

func (s *Stepper) result(warning *AppError) StepResult {
	return StepResult{Draft: s.Draft, CurrentStep: s.CurrentStep, Warning: warning}
}

// Next saves the current step and advances. Missing fields block the move and
// leave the step unchanged.
func (s *Stepper) Next(ctx context.Context) (StepResult, error) {
	if s.CurrentStep == StepOutput {
		return s.result(nil), nil
	}
	return s.forward(ctx, s.CurrentStep+1)
}

// Back moves one step back. The step being left is saved on a best-effort
// basis; a failed save is returned as the result's warning.
func (s *Stepper) Back(ctx context.Context) (StepResult, error) {
	if s.CurrentStep == StepName {
		return s.result(nil), nil
	}
	return s.backward(ctx, s.CurrentStep-1), nil
}

// GoTo jumps to step n, gated like Next when moving forward.
func (s *Stepper) GoTo(ctx context.Context, n Step) (StepResult, error) {
	switch {
	case !n.Valid():
		return s.result(nil), ValidationError([]ErrorDetail{{
			Field: "target_step", Rule: "range", Message: fmt.Sprintf("Step must be between %d and %d", StepName, StepOutput),
		}})
	case n == s.CurrentStep:
		return s.result(nil), nil
	case n < s.CurrentStep:
		return s.backward(ctx, n), nil
	default:
		return s.forward(ctx, n)
	}
}

// UpdateFramework re-saves the framework step without advancing.
func (s *Stepper) UpdateFramework(ctx context.Context) (StepResult, error) {
	if s.CurrentStep != StepFramework {
		return s.result(nil), ValidationError([]ErrorDetail{{
			Field: "current_step", Rule: "step", Message: "Framework can only be updated on the framework step",
		}})
	}
	if missing := s.MissingFor(StepOutput); len(missing) > 0 {
		return s.result(nil), ValidationError(missing)
	}
	if err := s.saveStep(ctx, StepFramework); err != nil {
		return s.result(nil), err
	}
	return s.result(nil), nil
}

func (s *Stepper) forward(ctx context.Context, target Step) (StepResult, error) {
	if missing := s.MissingFor(target); len(missing) > 0 {
		return s.result(nil), ValidationError(missing)
	}
	for step := s.CurrentStep; step < target; step++ {
		if err := s.saveStep(ctx, step); err != nil {
			return s.result(nil), err
		}
	}
	s.CurrentStep = target
	return s.result(nil), nil
}

func (s *Stepper) backward(ctx context.Context, target Step) StepResult {
	var warning *AppError
	if err := s.saveStep(ctx, s.CurrentStep); err != nil {
		log.Printf("WARN: save of step %d for screen %s failed while going back: %v", s.CurrentStep, s.Draft.ScreenID, err)
		if !errors.As(err, &warning) {
			warning = PersistenceError("Failed to save step", err)
		}
	}
	s.CurrentStep = target
	return s.result(warning)
}

func (s *Stepper) saveStep(ctx context.Context, step Step) error {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "stepper", fmt.Sprintf("save_step_%d", step))
	defer span.End()

	var err error
	switch step {
	case StepName:
		err = s.saveName(ctx)
	case StepDescription:
		err = s.updateScreen(ctx, func(sc *metadata.Screen) { sc.Description = s.Draft.Description })
	case StepFramework:
		err = s.saveFramework(ctx)
	case StepOutput:
		// Connections are saved by the ConnectionManager.
	}
	if err != nil {
		span.SetStatus("error")
		return err
	}
	span.SetStatus("ok")
	if s.Draft.ScreenID != "" {
		span.SetEntity("screens", s.Draft.ScreenID)
	}
	return nil
}

// saveName creates the screen on its first save and renames it afterwards.
func (s *Stepper) saveName(ctx context.Context) error {
	if s.Draft.ScreenID != "" {
		return s.updateScreen(ctx, func(sc *metadata.Screen) { sc.Name = s.Draft.Name })
	}
	if s.Draft.WidgetID == "" {
		return ValidationError([]ErrorDetail{{Field: "widget_id", Rule: "required", Message: "Widget is required"}})
	}
	sc := &metadata.Screen{WidgetID: s.Draft.WidgetID, Name: s.Draft.Name}
	if err := s.screens.CreateScreen(ctx, sc); err != nil {
		return PersistenceError("Failed to create screen", err)
	}
	s.Draft.ScreenID = sc.ID
	if s.OnScreenCreated != nil {
		s.OnScreenCreated(*sc)
	}
	s.publish(notify.OpInsert)
	return nil
}

func (s *Stepper) loadScreen(ctx context.Context) (*metadata.Screen, error) {
	if s.Draft.ScreenID == "" {
		if err := s.saveName(ctx); err != nil {
			return nil, err
		}
	}
	sc, err := s.screens.GetScreen(ctx, s.Draft.ScreenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("Screen", s.Draft.ScreenID)
		}
		return nil, PersistenceError("Failed to load screen", err)
	}
	if s.Draft.WidgetID == "" {
		s.Draft.WidgetID = sc.WidgetID
	}
	return sc, nil
}

func (s *Stepper) updateScreen(ctx context.Context, apply func(sc *metadata.Screen)) error {
	sc, err := s.loadScreen(ctx)
	if err != nil {
		return err
	}
	apply(sc)
	if err := s.screens.UpdateScreen(ctx, sc); err != nil {
		return PersistenceError("Failed to update screen", err)
	}
	s.saved(*sc)
	return nil
}

// saveFramework resolves the property payload for the chosen type and writes
// the framework config, creating it on first save.
func (s *Stepper) saveFramework(ctx context.Context) error {
	if s.Draft.FrameworkType == metadata.FrameworkUnset {
		return nil
	}
	t, err := metadata.ParseFrameworkType(string(s.Draft.FrameworkType))
	if err != nil {
		return ValidationError([]ErrorDetail{{Field: "framework_type", Rule: "enum", Message: err.Error()}})
	}
	sc, err := s.loadScreen(ctx)
	if err != nil {
		return err
	}

	// A payload without a PropertyType is taken as edited for the chosen type.
	prior := s.Draft.PropertyType
	if prior == metadata.FrameworkUnset {
		prior = t
	}
	props, err := metadata.ResolveProperties(t, prior, s.Draft.PropertyValues)
	if err != nil {
		return ValidationError([]ErrorDetail{{Field: "property_values", Rule: "json", Message: err.Error()}})
	}
	raw, err := metadata.MarshalProperties(props)
	if err != nil {
		return PersistenceError("Failed to encode framework config", err)
	}

	fc := &metadata.FrameworkConfig{ScreenID: sc.ID, FrameworkType: t, PropertyValues: raw}
	if err := s.screens.SaveFrameworkConfig(ctx, fc); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("Screen", sc.ID)
		}
		return PersistenceError("Failed to save framework config", err)
	}
	s.Draft.FrameworkType = t
	s.Draft.PropertyValues = raw
	s.Draft.PropertyType = t
	sc.FrameworkType = t
	sc.FrameworkID = fc.ID
	sc.UpdatedAt = fc.UpdatedAt
	s.saved(*sc)
	return nil
}

// saved reports a committed change to an existing screen: synchronously to
// OnScreenSaved, then to subscribers.
func (s *Stepper) saved(sc metadata.Screen) {
	if s.OnScreenSaved != nil {
		s.OnScreenSaved(sc)
	}
	s.publish(notify.OpUpdate)
}

func (s *Stepper) publish(op notify.Op) {
	s.pub.Publish(notify.Event{WidgetID: s.Draft.WidgetID, Table: "screens", Op: op, RecordID: s.Draft.ScreenID})
}
