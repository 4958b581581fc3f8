package internal

import (
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mountedRoutes(t *testing.T) []fiber.Route {
	t.Helper()
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: MountAppRoutes,
	})
	return srv.App.GetRoutes(true)
}

func findRoute(routes []fiber.Route, method, path string) *fiber.Route {
	for idx := range routes {
		if routes[idx].Method == method && routes[idx].Path == path {
			return &routes[idx]
		}
	}
	return nil
}

func TestTrackRouteRateLimited(t *testing.T) {
	route := findRoute(mountedRoutes(t), fiber.MethodPost, "/api/track")
	require.NotNil(t, route, "expected track route to be registered")

	// The limiter sits behind a production-only wrapper defined in MountAppRoutes.
	hasRateLimiter := false
	var handlerNames []string
	for _, handler := range route.Handlers {
		name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
		handlerNames = append(handlerNames, name)
		if strings.Contains(name, "middleware/limiter") || strings.Contains(name, "MountAppRoutes.func") {
			hasRateLimiter = true
			break
		}
	}

	require.Truef(t, hasRateLimiter, "expected rate limiter middleware for track route, handlers: %v", handlerNames)
}

func TestRoutesRegistered(t *testing.T) {
	routes := mountedRoutes(t)

	expected := []struct {
		method string
		path   string
	}{
		{fiber.MethodGet, "/_health"},
		{fiber.MethodGet, "/metrics"},
		{fiber.MethodPost, "/api/track"},
		{fiber.MethodOptions, "/api/track"},
		{fiber.MethodGet, "/script.js"},
		{fiber.MethodPost, "/api/auth/register"},
		{fiber.MethodPost, "/api/auth/login"},
		{fiber.MethodGet, "/api/projects"},
		{fiber.MethodPost, "/api/projects"},
		{fiber.MethodGet, "/api/projects/:id"},
		{fiber.MethodPatch, "/api/projects/:id"},
		{fiber.MethodDelete, "/api/projects/:id"},
		{fiber.MethodGet, "/api/projects/:id/stats"},
		{fiber.MethodGet, "/api/projects/:id/events"},
		{fiber.MethodDelete, "/api/projects/:id/events"},
		{fiber.MethodOptions, "/api/projects"},
		{fiber.MethodOptions, "/api/projects/:id"},
		{fiber.MethodOptions, "/api/me"},
		{fiber.MethodOptions, "/api/auth/login"},
	}
	for _, e := range expected {
		assert.NotNilf(t, findRoute(routes, e.method, e.path), "missing %s %s", e.method, e.path)
	}
}
