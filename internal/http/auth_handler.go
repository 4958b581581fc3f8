package http

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tally/internal/config"
	"tally/internal/http/middleware"
	"tally/internal/users"
)

type loginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterAction creates a user account.
func RegisterAction(ctx *cartridge.Context) error {
	var in users.RegisterInput
	if err := ctx.BodyParser(&in); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	user, err := users.Register(ctx.DBManager.GetConnection(), ctx.Logger, in)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{"user": user})
}

// LoginAction exchanges credentials for a dashboard bearer token.
func LoginAction(ctx *cartridge.Context) error {
	var in loginInput
	if err := ctx.BodyParser(&in); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	db := ctx.DBManager.GetConnection()
	user, err := users.Authenticate(db, in.Email, in.Password)
	if err != nil {
		return respondError(ctx, err)
	}

	token, err := users.IssueToken(db, ctx.Logger, config.GetConfig().GetSessionSecret(), user.ID)
	if err != nil {
		return respondError(ctx, err)
	}

	ctx.Logger.Info("User logged in", slog.String("user_id", user.ID))
	return ctx.JSON(fiber.Map{"token": token, "user": user})
}

// LogoutAction revokes the token the request was authenticated with.
func LogoutAction(ctx *cartridge.Context) error {
	err := users.RevokeToken(ctx.DBManager.GetConnection(), ctx.Logger,
		config.GetConfig().GetSessionSecret(), middleware.CurrentToken(ctx.Ctx))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

// MeAction returns the authenticated user.
func MeAction(ctx *cartridge.Context) error {
	user, err := users.FindByID(ctx.DBManager.GetConnection(), middleware.CurrentUserID(ctx.Ctx))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"user": user})
}
