package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tally/internal/config"
	"tally/internal/metrics"
	"tally/internal/pkg/validation"
	"tally/internal/projects"
	"tally/internal/tracking"
)

const (
	errInvalidJSON    = "Invalid JSON payload"
	errInvalidAPIKey  = "Invalid API key"
	errTrackingFailed = "Tracking failed"
)

// TrackEventHandler records one event posted by the tracker script.
// sendBeacon posts text/plain, so the body is decoded without looking at the
// Content-Type.
func TrackEventHandler(ctx *cartridge.Context) error {
	var payload tracking.Payload
	if err := json.Unmarshal(ctx.Body(), &payload); err != nil {
		metrics.CountRejected(metrics.ReasonInvalidJSON)
		ctx.Logger.Debug("Failed to parse track payload", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidJSON})
	}

	cfg := config.GetConfig()
	recorder := tracking.NewRecorder(ctx.DBManager.GetConnection(), ctx.Logger, tracking.Options{
		CountryHeaders: cfg.GetCountryHeaders(),
		SessionAware:   cfg.SessionAwareVisitors,
	})

	userAgent := ctx.Get("User-Agent")
	if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgent = forwardedUA
	}

	_, err := recorder.Record(tracking.Request{
		Payload:   payload,
		UserAgent: userAgent,
		ClientIP:  clientIP(ctx.Ctx),
		Header:    func(name string) string { return ctx.Get(name) },
	})
	if err != nil {
		if ve, ok := validation.As(err); ok {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": ve.Message})
		}
		if errors.Is(err, projects.ErrInvalidAPIKey) {
			return ctx.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": errInvalidAPIKey})
		}
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": errTrackingFailed})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"success": true})
}

// TrackPreflightHandler answers CORS preflight requests with no body.
func TrackPreflightHandler(ctx *cartridge.Context) error {
	return ctx.SendStatus(http.StatusNoContent)
}
