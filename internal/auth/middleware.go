package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"widgetflow-backend/internal/engine"
	"widgetflow-backend/internal/metadata"
)

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(header string) (string, *engine.AppError) {
	if header == "" {
		return "", engine.UnauthorizedError("Missing auth token")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", engine.UnauthorizedError("Invalid auth header format")
	}
	return strings.TrimSpace(token), nil
}

// AuthMiddleware validates the access token and stores the author as the
// "user" local. Handlers read it back with GetUser.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, appErr := bearerToken(c.Get(fiber.HeaderAuthorization))
		if appErr != nil {
			return appErr
		}
		user, appErr := authenticate(token, secret)
		if appErr != nil {
			return appErr
		}
		c.Locals("user", user)
		return c.Next()
	}
}

// authenticate resolves the author of a bearer token.
func authenticate(token, secret string) (*metadata.UserContext, *engine.AppError) {
	claims, err := ParseAccessToken(token, secret)
	if err != nil {
		return nil, engine.UnauthorizedError("Invalid or expired token")
	}
	if claims.Subject == "" {
		return nil, engine.UnauthorizedError("Token has no subject")
	}
	return &metadata.UserContext{ID: claims.Subject, Roles: claims.Roles}, nil
}

// HTTPMiddleware guards net/http routes such as the notify listener. Browsers
// cannot set headers on a websocket handshake, so the token may also come in
// the access_token query parameter.
func HTTPMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("access_token")
			var appErr *engine.AppError
			if token == "" {
				token, appErr = bearerToken(r.Header.Get(fiber.HeaderAuthorization))
			}
			if appErr == nil {
				_, appErr = authenticate(token, secret)
			}
			if appErr != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(appErr.Status)
				_ = json.NewEncoder(w).Encode(engine.ErrorResponse{Error: appErr})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects authors without role. It must run after AuthMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !user.HasRole(role) {
			return engine.ForbiddenError(role + " access required")
		}
		return c.Next()
	}
}

func RequireAdmin() fiber.Handler {
	return RequireRole("admin")
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
