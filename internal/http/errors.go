package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tally/internal/pkg/validation"
	"tally/internal/projects"
	"tally/internal/users"
)

var errNoConnection = errors.New("database connection unavailable")

// statusForError maps domain errors to an HTTP status and client message.
// Anything unrecognised is a 500 with a generic message.
func statusForError(err error) (int, string) {
	if ve, ok := validation.As(err); ok {
		return http.StatusBadRequest, ve.Message
	}
	switch {
	case errors.Is(err, projects.ErrProjectNotFound):
		return http.StatusNotFound, "Project not found"
	case errors.Is(err, users.ErrInvalidCredentials), errors.Is(err, users.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, users.ErrUserExists):
		return http.StatusConflict, "A user with this email already exists"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// respondError writes err as a JSON error, logging server-side failures.
func respondError(ctx *cartridge.Context, err error) error {
	status, message := statusForError(err)
	if status >= http.StatusInternalServerError {
		ctx.Logger.Error("Request failed",
			slog.String("method", ctx.Method()),
			slog.String("path", ctx.Path()),
			slog.Any("error", err))
	}
	return ctx.Status(status).JSON(fiber.Map{"error": message})
}

func badRequest(ctx *cartridge.Context, message string) error {
	return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": message})
}
