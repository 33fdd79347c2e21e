package admin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"widgetflow-backend/internal/engine"
	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/notify"
	"widgetflow-backend/internal/store"
)

// Handler serves widget CRUD and screen deletion.
type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	sessions *engine.DialogSessions
	pub      engine.Publisher
}

func NewHandler(s *store.Store, reg *metadata.Registry, sessions *engine.DialogSessions, pub engine.Publisher) *Handler {
	return &Handler{store: s, registry: reg, sessions: sessions, pub: pub}
}

// RegisterAdminRoutes mounts the widget endpoints on the authenticated api
// group. Deleting a widget additionally runs adminOnly.
func RegisterAdminRoutes(api fiber.Router, h *Handler, adminOnly fiber.Handler) {
	api.Get("/widgets", h.ListWidgets)
	api.Post("/widgets", h.CreateWidget)
	api.Get("/widgets/:id", h.GetWidget)
	api.Put("/widgets/:id", h.UpdateWidget)
	api.Delete("/widgets/:id", adminOnly, h.DeleteWidget)

	api.Delete("/screens/:id", h.DeleteScreen)
}

// --- Widget Endpoints ---

func (h *Handler) ListWidgets(c *fiber.Ctx) error {
	widgets, err := h.store.ListWidgets(c.UserContext())
	if err != nil {
		return engine.PersistenceError("Failed to list widgets", err)
	}
	return c.JSON(fiber.Map{"data": widgets})
}

func (h *Handler) GetWidget(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	w, err := h.store.GetWidget(c.UserContext(), id)
	if err != nil {
		return lookupError("Widget", id, err)
	}
	return c.JSON(fiber.Map{"data": w})
}

func (h *Handler) CreateWidget(c *fiber.Ctx) error {
	var w metadata.Widget
	if err := c.BodyParser(&w); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	w.ID = ""
	if err := validateWidget(&w); err != nil {
		return err
	}

	if err := h.store.CreateWidget(c.UserContext(), &w); err != nil {
		return engine.PersistenceError("Failed to create widget", err)
	}
	h.publish(w.ID, "widgets", notify.OpInsert, w.ID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": w})
}

func (h *Handler) UpdateWidget(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	var w metadata.Widget
	if err := c.BodyParser(&w); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	w.ID = id // ensure id matches URL
	if err := validateWidget(&w); err != nil {
		return err
	}

	if err := h.store.UpdateWidget(c.UserContext(), &w); err != nil {
		return lookupError("Widget", id, err)
	}
	updated, err := h.store.GetWidget(c.UserContext(), id)
	if err != nil {
		return lookupError("Widget", id, err)
	}
	h.publish(id, "widgets", notify.OpUpdate, id)
	return c.JSON(fiber.Map{"data": updated})
}

// DeleteWidget removes a widget with its screens and configs. Edges stay in
// place; the dialogs of the widget are dropped.
func (h *Handler) DeleteWidget(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if err := h.store.DeleteWidget(c.UserContext(), id); err != nil {
		return lookupError("Widget", id, err)
	}
	h.registry.Invalidate(id)
	h.sessions.Drop(id)
	h.publish(id, "widgets", notify.OpDelete, id)
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// --- Screen Endpoints ---

// DeleteScreen removes a screen and its framework config. Edges pointing at
// it are kept and show up as target_missing.
func (h *Handler) DeleteScreen(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	sc, err := h.store.GetScreen(c.UserContext(), id)
	if err != nil {
		return lookupError("Screen", id, err)
	}
	if err := h.store.DeleteScreen(c.UserContext(), id); err != nil {
		return lookupError("Screen", id, err)
	}
	h.registry.Remove(sc.WidgetID, id)
	h.publish(sc.WidgetID, "screens", notify.OpDelete, id)
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

func (h *Handler) publish(widgetID, table string, op notify.Op, recordID string) {
	if h.pub == nil {
		return
	}
	h.pub.Publish(notify.Event{WidgetID: widgetID, Table: table, Op: op, RecordID: recordID})
}

func lookupError(entity, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError(entity, id)
	}
	return engine.PersistenceError(fmt.Sprintf("Failed to access %s", strings.ToLower(entity)), err)
}

func validateWidget(w *metadata.Widget) error {
	w.Name = strings.TrimSpace(w.Name)
	var details []engine.ErrorDetail
	if w.Name == "" {
		details = append(details, engine.ErrorDetail{Field: "name", Rule: "required", Message: "Widget name is required"})
	}
	for i, tag := range w.Tags {
		if strings.TrimSpace(tag) == "" {
			details = append(details, engine.ErrorDetail{Field: fmt.Sprintf("tags[%d]", i), Rule: "required", Message: "Tags cannot be empty"})
		}
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}
	if w.Tags == nil {
		w.Tags = []string{}
	}
	return nil
}
