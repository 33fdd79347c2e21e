package engine

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/store"
)

// Handler serves the flow-graph endpoints: screens, the definition wizard,
// connections and the connection dialog.
type Handler struct {
	screens  ScreenRepository
	registry *metadata.Registry
	manager  *ConnectionManager
	sessions *DialogSessions
	gates    *GateSet
	pub      Publisher
}

func NewHandler(screens ScreenRepository, reg *metadata.Registry, manager *ConnectionManager, sessions *DialogSessions, gates *GateSet, pub Publisher) *Handler {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Handler{
		screens:  screens,
		registry: reg,
		manager:  manager,
		sessions: sessions,
		gates:    gates,
		pub:      pub,
	}
}

// ListScreens handles GET /api/widgets/:id/screens
func (h *Handler) ListScreens(c *fiber.Ctx) error {
	widgetID := param(c, "id")
	if cached, ok := h.registry.Screens(widgetID); ok {
		return c.JSON(fiber.Map{"data": cached})
	}
	screens, err := h.screens.ListScreens(c.UserContext(), widgetID)
	if err != nil {
		return PersistenceError("Failed to list screens", err)
	}
	h.registry.Load(widgetID, screens)
	return c.JSON(fiber.Map{"data": screens})
}

// GetScreen handles GET /api/screens/:id
func (h *Handler) GetScreen(c *fiber.Ctx) error {
	id := param(c, "id")
	sc, err := h.screens.GetScreen(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("Screen", id)
		}
		return PersistenceError("Failed to load screen", err)
	}

	resp := fiber.Map{"data": sc}
	fc, err := h.screens.GetFrameworkConfig(c.UserContext(), id)
	switch {
	case err == nil:
		resp["framework_config"] = fc
	case !errors.Is(err, store.ErrNotFound):
		return PersistenceError("Failed to load framework config", err)
	}
	return c.JSON(resp)
}

type wizardRequest struct {
	Draft       Draft  `json:"draft"`
	CurrentStep Step   `json:"current_step"`
	Action      string `json:"action"`
	TargetStep  Step   `json:"target_step"`
}

// Wizard handles POST /api/screens/wizard
func (h *Handler) Wizard(c *fiber.Ctx) error {
	var body wizardRequest
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid request body")
	}

	s := NewStepper(h.screens, h.pub, h.gates, body.Draft, body.CurrentStep)
	s.OnScreenCreated = h.registry.Merge
	s.OnScreenSaved = h.registry.Merge

	ctx := c.UserContext()
	var (
		res StepResult
		err error
	)
	switch body.Action {
	case "next":
		res, err = s.Next(ctx)
	case "back":
		res, err = s.Back(ctx)
	case "goto":
		res, err = s.GoTo(ctx, body.TargetStep)
	case "update_framework":
		res, err = s.UpdateFramework(ctx)
	default:
		return InvalidPayloadError("action must be one of next, back, goto, update_framework")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": res})
}

// FrameworkTypes handles GET /api/framework-types
func (h *Handler) FrameworkTypes(c *fiber.Ctx) error {
	out := make([]fiber.Map, 0, len(metadata.FrameworkTypes))
	for _, t := range metadata.FrameworkTypes {
		out = append(out, fiber.Map{"framework_type": t, "label": t.Label()})
	}
	return c.JSON(fiber.Map{"data": out})
}

// FrameworkDefaults handles GET /api/framework-types/defaults/:type
func (h *Handler) FrameworkDefaults(c *fiber.Ctx) error {
	t, err := metadata.ParseFrameworkType(param(c, "type"))
	if err != nil {
		return InvalidPayloadError(err.Error())
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"framework_type":  t,
		"label":           t.Label(),
		"property_values": metadata.DefaultProperties(t),
	}})
}

type connectBody struct {
	SourceScreenID    string         `json:"source_screen_id"`
	Value             SelectableJSON `json:"value"`
	ConnectionContext string         `json:"connection_context"`
	ElementRef        string         `json:"element_ref"`
	TargetScreenID    string         `json:"target_screen_id"`
	NewScreenName     string         `json:"new_screen_name"`
}

// Connect handles POST /api/connections
func (h *Handler) Connect(c *fiber.Ctx) error {
	var body connectBody
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid request body")
	}
	if body.SourceScreenID == "" {
		return ValidationError([]ErrorDetail{{Field: "source_screen_id", Rule: "required", Message: "Source screen is required"}})
	}
	sel, err := body.Value.Selectable()
	if err != nil {
		return ValidationError([]ErrorDetail{{Field: "value", Rule: "shape", Message: err.Error()}})
	}

	edge, err := h.manager.Connect(c.UserContext(), ConnectRequest{
		SourceScreenID:    body.SourceScreenID,
		Value:             sel,
		ConnectionContext: body.ConnectionContext,
		ElementRef:        body.ElementRef,
		TargetScreenID:    body.TargetScreenID,
		NewScreenName:     body.NewScreenName,
		CreatedBy:         userID(c),
	})
	if err != nil {
		return err
	}
	if body.TargetScreenID == "" {
		if target, err := h.screens.GetScreen(c.UserContext(), edge.TargetScreenID); err == nil {
			h.registry.Merge(*target)
		} else {
			log.Printf("WARN: new target screen %s: %v", edge.TargetScreenID, err)
		}
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": edge})
}

// Terminate handles DELETE /api/connections/:id
func (h *Handler) Terminate(c *fiber.Ctx) error {
	edge, err := h.manager.Terminate(c.UserContext(), param(c, "id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": edge})
}

// ListConnections handles GET /api/screens/:id/connections
func (h *Handler) ListConnections(c *fiber.Ctx) error {
	edges, err := h.manager.ListOutgoing(c.UserContext(), param(c, "id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": edges})
}

// ConnectionHistory handles GET /api/screens/:id/connections/history
func (h *Handler) ConnectionHistory(c *fiber.Ctx) error {
	edges, err := h.manager.ListHistory(c.UserContext(), param(c, "id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": edges})
}

// Connected handles POST /api/screens/:id/connected
func (h *Handler) Connected(c *fiber.Ctx) error {
	var body struct {
		Value             SelectableJSON `json:"value"`
		Family            string         `json:"family"`
		ConnectionContext string         `json:"connection_context"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid request body")
	}
	sel, err := body.Value.Selectable()
	if err != nil {
		return ValidationError([]ErrorDetail{{Field: "value", Rule: "shape", Message: err.Error()}})
	}

	res, err := h.manager.Match(c.UserContext(), MatchQuery{
		SourceScreenID:    param(c, "id"),
		Value:             sel,
		Family:            body.Family,
		ConnectionContext: body.ConnectionContext,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"connected":  res.Connected(),
		"connection": res.Edge,
		"violation":  res.Violation,
	}})
}

// OutputOptions handles GET /api/screens/:id/options
func (h *Handler) OutputOptions(c *fiber.Ctx) error {
	opts, err := h.manager.OutputOptions(c.UserContext(), param(c, "id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": opts})
}

// Combinations handles POST /api/combinations
func (h *Handler) Combinations(c *fiber.Ctx) error {
	var body struct {
		Options []string `json:"options"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid request body")
	}
	combos, err := CombinationsChecked(body.Options, h.manager.MaxCombinationOptions)
	if err != nil {
		return ValidationError([]ErrorDetail{{Field: "options", Rule: "max", Message: err.Error()}})
	}
	return c.JSON(fiber.Map{
		"data": combos,
		"meta": fiber.Map{"count": len(combos)},
	})
}

func (h *Handler) dialog(c *fiber.Ctx) *Dialog {
	return h.sessions.Get(getUser(c), param(c, "id"))
}

// DialogState handles GET /api/widgets/:id/dialog
func (h *Handler) DialogState(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.dialog(c).Snapshot()})
}

// DialogCurrentScreen handles PUT /api/widgets/:id/dialog/current-screen
func (h *Handler) DialogCurrentScreen(c *fiber.Ctx) error {
	var body struct {
		ScreenID string `json:"screen_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid request body")
	}
	d := h.dialog(c)
	d.SetCurrentScreen(body.ScreenID)
	return c.JSON(fiber.Map{"data": d.Snapshot()})
}

// DialogOpen handles POST /api/widgets/:id/dialog/open
func (h *Handler) DialogOpen(c *fiber.Ctx) error {
	var body ConnectionContextJSON
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid request body")
	}
	cc, err := body.Typed()
	if err != nil {
		return ValidationError([]ErrorDetail{{Field: "value", Rule: "shape", Message: err.Error()}})
	}
	d := h.dialog(c)
	if err := d.OpenWithContext(cc); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": d.Snapshot()})
}

// DialogCandidates handles GET /api/widgets/:id/dialog/candidates?q=
func (h *Handler) DialogCandidates(c *fiber.Ctx) error {
	screens, err := h.dialog(c).Candidates(c.UserContext(), c.Query("q"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": screens})
}

// DialogConfirm handles POST /api/widgets/:id/dialog/confirm
func (h *Handler) DialogConfirm(c *fiber.Ctx) error {
	var body struct {
		TargetScreenID string `json:"target_screen_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid request body")
	}
	d := h.dialog(c)
	edge, err := d.Confirm(c.UserContext(), body.TargetScreenID, userID(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": edge, "dialog": d.Snapshot()})
}

// DialogCancel handles POST /api/widgets/:id/dialog/cancel
func (h *Handler) DialogCancel(c *fiber.Ctx) error {
	d := h.dialog(c)
	d.Cancel()
	return c.JSON(fiber.Map{"data": d.Snapshot()})
}

// param copies a route parameter out of fiber's reused request buffer, so it
// can outlive the request as a cache key, session key or event field.
func param(c *fiber.Ctx, key string) string {
	return utils.CopyString(c.Params(key))
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

func userID(c *fiber.Ctx) string {
	if u := getUser(c); u != nil {
		return u.ID
	}
	return ""
}

// ErrorHandler renders AppErrors as {"error": {...}} and hides everything
// else behind INTERNAL_ERROR.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Status >= fiber.StatusInternalServerError {
			log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), appErr)
		}
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}

	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		return c.Status(code).JSON(ErrorResponse{Error: &AppError{Code: "HTTP_ERROR", Message: fiberErr.Message}})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(ErrorResponse{
		Error: &AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
