package storage

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"

	"widgetflow-backend/internal/engine"
	"widgetflow-backend/internal/instrument"
	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/notify"
	"widgetflow-backend/internal/store"
)

// ImageHandler stores images for image-type screens and points the screen's
// framework config at the stored file.
type ImageHandler struct {
	screens     engine.ScreenRepository
	files       *LocalStorage
	pub         engine.Publisher
	maxFileSize int64

	// OnScreenSaved receives the screen after its type and config changed.
	OnScreenSaved func(sc metadata.Screen)
}

func NewImageHandler(screens engine.ScreenRepository, files *LocalStorage, pub engine.Publisher, maxFileSize int64) *ImageHandler {
	return &ImageHandler{screens: screens, files: files, pub: pub, maxFileSize: maxFileSize}
}

func RegisterImageRoutes(api fiber.Router, h *ImageHandler) {
	api.Post("/screens/:id/image", h.Upload)
}

// Upload handles POST /api/screens/:id/image with a multipart "file" field.
// The screen must be unset or of type image; an unset screen becomes one.
func (h *ImageHandler) Upload(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := utils.CopyString(c.Params("id"))

	sc, err := h.screens.GetScreen(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.NotFoundError("Screen", id)
		}
		return engine.PersistenceError("Failed to load screen", err)
	}
	if sc.FrameworkType != metadata.FrameworkUnset && sc.FrameworkType != metadata.FrameworkImage {
		return engine.ValidationError([]engine.ErrorDetail{{
			Field: "framework_type", Rule: "image", Message: fmt.Sprintf("Screen is of type %s, not image", sc.FrameworkType),
		}})
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return engine.InvalidPayloadError("Missing file field")
	}
	if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
		return engine.ValidationError([]engine.ErrorDetail{{
			Field: "file", Rule: "max_size", Message: fmt.Sprintf("File exceeds %d bytes", h.maxFileSize),
		}})
	}
	if ct := fh.Header.Get(fiber.HeaderContentType); !strings.HasPrefix(ct, "image/") {
		return engine.ValidationError([]engine.ErrorDetail{{
			Field: "file", Rule: "image", Message: fmt.Sprintf("Unsupported content type %q", ct),
		}})
	}

	src, err := fh.Open()
	if err != nil {
		return engine.InvalidPayloadError("Unreadable file")
	}
	defer src.Close()

	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "storage", "images", "upload")
	defer span.End()
	span.SetEntity("screens", id)

	url, err := h.files.Save(ctx, sc.WidgetID, uuid.NewString(), fh.Filename, src)
	if err != nil {
		span.SetStatus("error")
		return engine.PersistenceError("Failed to store file", err)
	}

	var previous string
	if existing, err := h.screens.GetFrameworkConfig(ctx, id); err == nil && existing.FrameworkType == metadata.FrameworkImage {
		if props, err := existing.Properties(); err == nil {
			if img, ok := props.(metadata.ImageProperties); ok {
				previous = img.ImageURL
			}
		}
	}

	raw, err := metadata.MarshalProperties(metadata.ImageProperties{ImageURL: url})
	if err != nil {
		span.SetStatus("error")
		return engine.PersistenceError("Failed to encode framework config", err)
	}
	fc := &metadata.FrameworkConfig{ScreenID: id, FrameworkType: metadata.FrameworkImage, PropertyValues: raw}
	if err := h.screens.SaveFrameworkConfig(ctx, fc); err != nil {
		span.SetStatus("error")
		if delErr := h.files.Delete(ctx, url); delErr != nil {
			log.Printf("WARN: remove orphaned upload %s: %v", url, delErr)
		}
		return engine.PersistenceError("Failed to save framework config", err)
	}
	span.SetStatus("ok")

	if previous != "" && previous != url {
		if err := h.files.Delete(ctx, previous); err != nil {
			log.Printf("WARN: remove replaced image %s: %v", previous, err)
		}
	}
	if h.OnScreenSaved != nil {
		sc.FrameworkType = fc.FrameworkType
		sc.FrameworkID = fc.ID
		sc.UpdatedAt = fc.UpdatedAt
		h.OnScreenSaved(*sc)
	}
	if h.pub != nil {
		h.pub.Publish(notify.Event{WidgetID: sc.WidgetID, Table: "screens", Op: notify.OpUpdate, RecordID: id})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fc})
}
