package http_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tally/internal"
	"tally/internal/events"
	"tally/internal/projects"
	"tally/internal/testsupport"
	"tally/internal/users"
)

type apiClient struct {
	t     *testing.T
	app   *fiber.App
	token string
}

func (c apiClient) do(method, target, body string) (int, map[string]any) {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.app.Test(req, -1)
	require.NoError(c.t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	var out map[string]any
	if len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

type fixture struct {
	db      *gorm.DB
	app     *fiber.App
	user    *users.User
	project *projects.Project
	owner   apiClient
	anon    apiClient
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	app := testsupport.NewTestApp(t, db, testsupport.TestServerOptions{RouteMountFunc: internal.MountAppRoutes})
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password123")
	project := testsupport.CreateTestProject(t, db, user.ID, "example.com")
	return fixture{
		db:      db,
		app:     app,
		user:    user,
		project: project,
		owner:   apiClient{t: t, app: app, token: testsupport.IssueTestToken(t, db, user.ID)},
		anon:    apiClient{t: t, app: app},
	}
}

func TestAuthFlow(t *testing.T) {
	f := setup(t)

	status, body := f.anon.do(fiber.MethodPost, "/api/auth/register", `{"email":"New@Example.com","password":"password123","name":"Ada"}`)
	require.Equal(t, http.StatusCreated, status, body)
	user := body["user"].(map[string]any)
	assert.Equal(t, "new@example.com", user["email"])
	assert.NotContains(t, user, "passwordHash")

	status, body = f.anon.do(fiber.MethodPost, "/api/auth/register", `{"email":"new@example.com","password":"password123"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, body = f.anon.do(fiber.MethodPost, "/api/auth/register", `{"email":"short@example.com","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "8")

	status, _ = f.anon.do(fiber.MethodPost, "/api/auth/login", `{"email":"new@example.com","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = f.anon.do(fiber.MethodPost, "/api/auth/login", `{"email":"new@example.com","password":"password123"}`)
	require.Equal(t, http.StatusOK, status)
	token, _ := body["token"].(string)
	require.True(t, strings.HasPrefix(token, users.TokenPrefix))

	client := apiClient{t: t, app: f.app, token: token}
	status, body = client.do(fiber.MethodGet, "/api/me", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "new@example.com", body["user"].(map[string]any)["email"])

	status, _ = client.do(fiber.MethodPost, "/api/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = client.do(fiber.MethodGet, "/api/me", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDashboardRequiresBearerToken(t *testing.T) {
	f := setup(t)

	for _, target := range []string{"/api/projects", "/api/projects/" + f.project.ID + "/stats", "/api/projects/" + f.project.ID + "/events"} {
		status, body := f.anon.do(fiber.MethodGet, target, "")
		assert.Equal(t, http.StatusUnauthorized, status, target)
		assert.Equal(t, "Unauthorized", body["error"])
	}

	forged := apiClient{t: t, app: f.app, token: users.TokenPrefix + "forged"}
	status, _ := forged.do(fiber.MethodGet, "/api/projects", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDashboardPreflight(t *testing.T) {
	f := setup(t)

	for _, target := range []string{"/api/projects", "/api/projects/" + f.project.ID + "/stats", "/api/me", "/api/auth/login"} {
		t.Run(target, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodOptions, target, nil)
			req.Header.Set("Origin", "https://dashboard.example.com")
			req.Header.Set("Access-Control-Request-Method", fiber.MethodGet)
			req.Header.Set("Access-Control-Request-Headers", "authorization")

			resp, err := f.app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
			assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
			assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), fiber.MethodPatch)
		})
	}
}

func TestProjectsCRUD(t *testing.T) {
	f := setup(t)

	status, body := f.owner.do(fiber.MethodPost, "/api/projects", `{"name":"Docs","domain":"https://Docs.Example.com/"}`)
	require.Equal(t, http.StatusCreated, status, body)
	created := body["project"].(map[string]any)
	id := created["id"].(string)
	oldKey := created["apiKey"].(string)
	assert.Equal(t, "docs.example.com", created["domain"])
	assert.Equal(t, true, created["isActive"])

	status, body = f.owner.do(fiber.MethodPost, "/api/projects", `{"name":"Docs","domain":"docs.example.com"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.owner.do(fiber.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["projects"], 2)

	status, body = f.owner.do(fiber.MethodGet, "/api/projects/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Docs", body["project"].(map[string]any)["name"])

	t.Run("PATCH updates fields and rotates the key", func(t *testing.T) {
		status, body := f.owner.do(fiber.MethodPatch, "/api/projects/"+id, `{"name":"Handbook","isActive":false,"regenerateApiKey":true}`)
		require.Equal(t, http.StatusOK, status, body)
		updated := body["project"].(map[string]any)
		assert.Equal(t, "Handbook", updated["name"])
		assert.Equal(t, false, updated["isActive"])
		assert.NotEqual(t, oldKey, updated["apiKey"])

		_, err := projects.ResolveAPIKey(f.db, oldKey)
		assert.ErrorIs(t, err, projects.ErrInvalidAPIKey)
	})

	t.Run("DELETE removes the project", func(t *testing.T) {
		status, body := f.owner.do(fiber.MethodDelete, "/api/projects/"+id, "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])

		status, body = f.owner.do(fiber.MethodGet, "/api/projects/"+id, "")
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "Project not found", body["error"])
	})
}

func TestProjectsAreScopedToOwner(t *testing.T) {
	f := setup(t)
	other := testsupport.CreateTestUser(t, f.db, "other@example.com", "password123")
	intruder := apiClient{t: t, app: f.app, token: testsupport.IssueTestToken(t, f.db, other.ID)}
	base := "/api/projects/" + f.project.ID

	requests := []struct{ method, target, body string }{
		{fiber.MethodGet, base, ""},
		{fiber.MethodPatch, base, `{"name":"stolen"}`},
		{fiber.MethodDelete, base, ""},
		{fiber.MethodGet, base + "/stats", ""},
		{fiber.MethodGet, base + "/events", ""},
		{fiber.MethodDelete, base + "/events", `{"confirmation":"delete the logs"}`},
	}
	for _, r := range requests {
		status, body := intruder.do(r.method, r.target, r.body)
		assert.Equal(t, http.StatusNotFound, status, "%s %s", r.method, r.target)
		assert.Equal(t, "Project not found", body["error"])
	}

	status, body := intruder.do(fiber.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["projects"])

	_, err := projects.GetForUser(f.db, f.user.ID, f.project.ID)
	assert.NoError(t, err)
}

func TestProjectStats(t *testing.T) {
	f := setup(t)
	today := events.DateFor(time.Now())
	testsupport.SeedDailyStat(t, f.db, f.project.ID, today, "/", 5, 2)
	testsupport.SeedEvent(t, f.db, f.project.ID, testsupport.EventSeed{Country: "DE", Browser: "Firefox", Device: "mobile"})

	status, body := f.owner.do(fiber.MethodGet, "/api/projects/"+f.project.ID+"/stats?period=30d", "")
	require.Equal(t, http.StatusOK, status, body)

	assert.Equal(t, "30d", body["period"])
	assert.Equal(t, float64(5), body["totalPageviews"])
	assert.Equal(t, float64(2), body["totalVisitors"])
	assert.Equal(t, float64(1), body["totalEvents"])
	assert.Equal(t, map[string]any{"pageviews": float64(100), "visitors": float64(100), "events": float64(100)}, body["growth"])
	assert.Equal(t, []any{map[string]any{"page": "/", "views": float64(5)}}, body["topPages"])
	assert.Equal(t, []any{map[string]any{"country": "DE", "name": "Germany", "count": float64(1)}}, body["countries"])

	status, body = f.owner.do(fiber.MethodGet, "/api/projects/"+f.project.ID+"/stats?period=forever", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "7d", body["period"])
}

func TestProjectEventsListing(t *testing.T) {
	f := setup(t)
	for _, page := range []string{"/a", "/b", "/blog/x", "/blog/y"} {
		testsupport.SeedEvent(t, f.db, f.project.ID, testsupport.EventSeed{Page: page})
	}
	testsupport.SeedEvent(t, f.db, f.project.ID, testsupport.EventSeed{Type: "click", Page: "/blog/x"})

	base := "/api/projects/" + f.project.ID + "/events"

	status, body := f.owner.do(fiber.MethodGet, base+"?pageContains=BLOG&type=pageview&limit=1", "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["limit"])
	assert.Len(t, body["events"], 1)
	options := body["filterOptions"].(map[string]any)
	assert.Equal(t, []any{"click", "pageview"}, options["types"])
	active := body["activeFilters"].(map[string]any)
	assert.Equal(t, "BLOG", active["pageContains"])

	status, body = f.owner.do(fiber.MethodGet, base+"?startDate=not-a-date", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "YYYY-MM-DD")
}

func TestProjectEventsWipe(t *testing.T) {
	f := setup(t)
	for i := 0; i < 3; i++ {
		testsupport.SeedEvent(t, f.db, f.project.ID, testsupport.EventSeed{})
	}
	testsupport.SeedDailyStat(t, f.db, f.project.ID, events.DateFor(time.Now()), "/", 3, 1)
	target := "/api/projects/" + f.project.ID + "/events"

	status, body := f.owner.do(fiber.MethodDelete, target, `{"confirmation":"delete logs"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], events.DeleteConfirmation)

	count, err := events.CountProjectEvents(f.db, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	status, body = f.owner.do(fiber.MethodDelete, target, `{"confirmation":"delete the logs"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(3), body["deleted"])

	count, err = events.CountProjectEvents(f.db, f.project.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	status, body = f.owner.do(fiber.MethodGet, "/api/projects/"+f.project.ID+"/stats", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["totalPageviews"])
}

func TestHealthAndMetrics(t *testing.T) {
	f := setup(t)

	status, body := f.anon.do(fiber.MethodGet, "/_health", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db_status"])

	// Record one event so the counter family is exported.
	resp, err := f.app.Test(testsupport.NewJSONRequest(fiber.MethodPost, "/api/track", `{"apiKey":"`+f.project.APIKey+`"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "tally_events_recorded_total")
}
