package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "tally/api/v1"
	"tally/internal/config"
	"tally/internal/http"
	"tally/internal/http/middleware"
)

// publicCORSConfig lets any site embed the tracker and post events.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
}

// dashboardCORSConfig serves the bearer-token JSON API to browser clients.
var dashboardCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization",
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()

	// Rate limiting only applies in production; it would interfere with tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	trackRateLimiter := func(c *fiber.Ctx) error { return c.Next() }
	if cfg.TrackRateLimitPerMin > 0 {
		trackRateLimiter = conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(cfg.TrackRateLimitPerMin),
			cartridgemiddleware.WithDuration(time.Minute),
		))
	}

	// Stricter limit against credential stuffing.
	authRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Beacons from third-party pages carry no CSRF token and may omit
	// Sec-Fetch-Site, so neither check applies to ingestion.
	trackConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		WriteConcurrency:   false,
		CustomMiddleware:   []fiber.Handler{trackRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	scriptConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{trackRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()
	requireUser := middleware.RequireUser(db, logger, cfg.GetSessionSecret())

	authConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         dashboardCORSConfig,
		CustomMiddleware:   []fiber.Handler{authRateLimiter},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	dashboardConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         dashboardCORSConfig,
		CustomMiddleware:   []fiber.Handler{requireUser},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// Preflights carry no credentials, so they skip the bearer check.
	preflightConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         dashboardCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// === OPERATIONS ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)
	srv.Get("/metrics", http.MetricsAction)

	// === PUBLIC INGESTION ===
	srv.Post("/api/track", v1.TrackEventHandler, trackConfig)
	srv.Options("/api/track", v1.TrackPreflightHandler, trackConfig)
	srv.Get("/script.js", v1.GetTrackerScriptHandler, scriptConfig)
	srv.Get("/api/script", v1.GetTrackerScriptHandler, scriptConfig)

	// === AUTH ===
	srv.Post("/api/auth/register", http.RegisterAction, authConfig)
	srv.Post("/api/auth/login", http.LoginAction, authConfig)
	srv.Post("/api/auth/logout", http.LogoutAction, dashboardConfig)
	srv.Get("/api/me", http.MeAction, dashboardConfig)

	// === PROJECTS ===
	srv.Get("/api/projects", http.ProjectsIndexAction, dashboardConfig)
	srv.Post("/api/projects", http.ProjectCreateAction, dashboardConfig)
	srv.Get("/api/projects/:id", http.ProjectShowAction, dashboardConfig)
	srv.Post("/api/projects/:id", http.ProjectUpdateAction, dashboardConfig)
	// PATCH re-enters routing as POST so it passes the same middleware chain.
	srv.App().Patch("/api/projects/:id", func(c *fiber.Ctx) error {
		c.Method(fiber.MethodPost)
		return c.RestartRouting()
	})
	srv.Delete("/api/projects/:id", http.ProjectDeleteAction, dashboardConfig)
	srv.Get("/api/projects/:id/stats", http.ProjectStatsAction, dashboardConfig)
	srv.Get("/api/projects/:id/events", http.ProjectEventsAction, dashboardConfig)
	srv.Delete("/api/projects/:id/events", http.ProjectEventsDeleteAction, dashboardConfig)

	// === CORS PREFLIGHT ===
	for _, path := range []string{
		"/api/auth/register",
		"/api/auth/login",
		"/api/auth/logout",
		"/api/me",
		"/api/projects",
		"/api/projects/:id",
		"/api/projects/:id/stats",
		"/api/projects/:id/events",
	} {
		srv.Options(path, http.PreflightAction, preflightConfig)
	}
}
