package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tally/internal/http/middleware"
	"tally/internal/projects"
)

type createProjectInput struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// ProjectsIndexAction lists the caller's projects.
func ProjectsIndexAction(ctx *cartridge.Context) error {
	list, err := projects.ListForUser(ctx.DBManager.GetConnection(), middleware.CurrentUserID(ctx.Ctx))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"projects": list})
}

// ProjectCreateAction creates a project with a fresh API key.
func ProjectCreateAction(ctx *cartridge.Context) error {
	var in createProjectInput
	if err := ctx.BodyParser(&in); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	project, err := projects.Create(ctx.DBManager.GetConnection(), ctx.Logger,
		middleware.CurrentUserID(ctx.Ctx), in.Name, in.Domain)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{"project": project})
}

// ProjectShowAction returns one of the caller's projects.
func ProjectShowAction(ctx *cartridge.Context) error {
	project, err := projects.GetForUser(ctx.DBManager.GetConnection(),
		middleware.CurrentUserID(ctx.Ctx), ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"project": project})
}

// ProjectUpdateAction renames, re-domains, toggles or rotates the key of a project.
func ProjectUpdateAction(ctx *cartridge.Context) error {
	var in projects.UpdateInput
	if err := ctx.BodyParser(&in); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	project, err := projects.Update(ctx.DBManager.GetConnection(), ctx.Logger,
		middleware.CurrentUserID(ctx.Ctx), ctx.Params("id"), in)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"project": project})
}

// ProjectDeleteAction deletes a project with all its events and stats.
func ProjectDeleteAction(ctx *cartridge.Context) error {
	err := projects.Delete(ctx.DBManager.GetConnection(), ctx.Logger,
		middleware.CurrentUserID(ctx.Ctx), ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true})
}
