package auth

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"widgetflow-backend/internal/engine"
	"widgetflow-backend/internal/store"
)

// UserStore looks up author accounts. *store.Store implements it.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*store.User, error)
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	users     UserStore
	jwtSecret string
	now       func() time.Time
}

func NewAuthHandler(users UserStore, jwtSecret string) *AuthHandler {
	return &AuthHandler{users: users, jwtSecret: jwtSecret, now: time.Now}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	email := strings.TrimSpace(body.Email)
	if email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	user, err := h.users.FindUserByEmail(c.UserContext(), email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("ERROR: login lookup for %s: %v", email, err)
		}
		return engine.UnauthorizedError("Invalid email or password")
	}
	if !user.Active {
		return engine.UnauthorizedError("Account is disabled")
	}
	if !CheckPassword(body.Password, user.PasswordHash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	signed, expires, err := GenerateAccessToken(user.ID, user.Roles, h.jwtSecret, h.now())
	if err != nil {
		return engine.NewAppError("INTERNAL_ERROR", fiber.StatusInternalServerError, "Failed to generate access token")
	}
	return c.JSON(fiber.Map{"data": Token{AccessToken: signed, ExpiresAt: expires}})
}

// RegisterAuthRoutes registers auth routes on the given Fiber app.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/api/auth")
	auth.Post("/login", h.Login)
}
