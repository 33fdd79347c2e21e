package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widgetflow-backend/internal/engine"
	"widgetflow-backend/internal/store"
)

const testSecret = "test-secret"

type fakeUsers map[string]*store.User

func (f fakeUsers) FindUserByEmail(_ context.Context, email string) (*store.User, error) {
	if email == "broken@example.com" {
		return nil, errors.New("connection reset")
	}
	u, ok := f[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func newUsers(t *testing.T) fakeUsers {
	t.Helper()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	return fakeUsers{
		"admin@example.com":  {ID: "u-admin", Email: "admin@example.com", PasswordHash: hash, Roles: []string{"admin"}, Active: true},
		"author@example.com": {ID: "u-author", Email: "author@example.com", PasswordHash: hash, Roles: []string{}, Active: true},
		"gone@example.com":   {ID: "u-gone", Email: "gone@example.com", PasswordHash: hash, Active: false},
	}
}

func newApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	RegisterAuthRoutes(app, NewAuthHandler(newUsers(t), testSecret))

	api := app.Group("/api", AuthMiddleware(testSecret))
	api.Get("/me", func(c *fiber.Ctx) error { return c.JSON(GetUser(c)) })
	api.Get("/admin-only", RequireAdmin(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	return app
}

func login(t *testing.T, app *fiber.App, email, password string) (*http.Response, Token) {
	t.Helper()
	b, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, _ := http.NewRequest("POST", "/api/auth/login", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var body struct {
		Data Token `json:"data"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &body)
	return resp, body.Data
}

func get(t *testing.T, app *fiber.App, path, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()
	signed, expires, err := GenerateAccessToken("u1", []string{"admin"}, testSecret, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(AccessTokenTTL), expires, time.Second)

	claims, err := ParseAccessToken(signed, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, []string{"admin"}, claims.Roles)

	_, err = ParseAccessToken(signed, "other-secret")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	signed, _, err := GenerateAccessToken("u1", nil, testSecret, time.Now().Add(-2*AccessTokenTTL))
	require.NoError(t, err)
	_, err = ParseAccessToken(signed, testSecret)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	app := newApp(t)

	resp, token := login(t, app, "admin@example.com", "s3cret")
	require.Equal(t, 200, resp.StatusCode)
	require.NotEmpty(t, token.AccessToken)

	resp = get(t, app, "/api/me", token.AccessToken)
	require.Equal(t, 200, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"id":"u-admin","roles":["admin"]}`, string(raw))
}

func TestLoginFailures(t *testing.T) {
	app := newApp(t)
	cases := []struct {
		email, password string
	}{
		{"admin@example.com", "wrong"},
		{"nobody@example.com", "s3cret"},
		{"gone@example.com", "s3cret"},
		{"broken@example.com", "s3cret"},
		{"", ""},
	}
	for _, tc := range cases {
		resp, token := login(t, app, tc.email, tc.password)
		assert.Equal(t, 401, resp.StatusCode, tc.email)
		assert.Empty(t, token.AccessToken, tc.email)
	}
}

func TestMiddlewareRejectsBadHeaders(t *testing.T) {
	app := newApp(t)
	assert.Equal(t, 401, get(t, app, "/api/me", "").StatusCode)
	assert.Equal(t, 401, get(t, app, "/api/me", "not-a-jwt").StatusCode)

	req, _ := http.NewRequest("GET", "/api/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestRequireAdmin(t *testing.T) {
	app := newApp(t)
	_, author := login(t, app, "author@example.com", "s3cret")
	_, admin := login(t, app, "admin@example.com", "s3cret")

	assert.Equal(t, 403, get(t, app, "/api/admin-only", author.AccessToken).StatusCode)
	assert.Equal(t, 204, get(t, app, "/api/admin-only", admin.AccessToken).StatusCode)
}

func TestHTTPMiddleware(t *testing.T) {
	signed, _, err := GenerateAccessToken("u1", nil, testSecret, time.Now())
	require.NoError(t, err)

	guarded := HTTPMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	serve := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, serve("/widgets/w1/events", "Bearer "+signed).Code)
	assert.Equal(t, http.StatusNoContent, serve("/widgets/w1/events?access_token="+signed, "").Code)

	for _, rec := range []*httptest.ResponseRecorder{
		serve("/widgets/w1/events", ""),
		serve("/widgets/w1/events?access_token=not-a-jwt", ""),
		serve("/widgets/w1/events", "Basic dXNlcjpwYXNz"),
	} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var body engine.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotNil(t, body.Error)
		assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
	}
}
