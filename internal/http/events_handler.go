package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tally/internal/events"
	"tally/internal/http/middleware"
	"tally/internal/projects"
)

type wipeEventsInput struct {
	Confirmation string `json:"confirmation"`
}

// ProjectEventsAction lists a project's raw events with filters, sorting and
// pagination taken from the query string.
func ProjectEventsAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	project, err := projects.GetForUser(db, middleware.CurrentUserID(ctx.Ctx), ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}

	filter, err := events.ParseEventFilter(func(key string) string { return ctx.Query(key) })
	if err != nil {
		return respondError(ctx, err)
	}

	page, err := events.QueryEvents(db, project.ID, filter)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(page)
}

// ProjectEventsDeleteAction wipes every raw event of a project. The body must
// carry the exact confirmation phrase.
func ProjectEventsDeleteAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	project, err := projects.GetForUser(db, middleware.CurrentUserID(ctx.Ctx), ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}

	var in wipeEventsInput
	if err := ctx.BodyParser(&in); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	deleted, err := events.WipeProjectEvents(db, ctx.Logger, project.ID, in.Confirmation)
	if err != nil {
		return respondError(ctx, err)
	}

	ctx.Logger.Info("Project events wiped",
		slog.String("project_id", project.ID),
		slog.Int64("deleted", deleted))
	return ctx.JSON(fiber.Map{"success": true, "deleted": deleted})
}
