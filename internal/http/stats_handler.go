package http

import (
	"github.com/karloscodes/cartridge"

	"tally/internal/analytics"
	"tally/internal/config"
	"tally/internal/http/middleware"
	"tally/internal/projects"
)

// ProjectStatsAction returns the dashboard summary for ?period=24h|7d|30d|90d.
func ProjectStatsAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	project, err := projects.GetForUser(db, middleware.CurrentUserID(ctx.Ctx), ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}

	engine := analytics.NewEngine(db, config.GetConfig().GetStatsWorkers())
	stats, err := engine.Compute(ctx.UserContext(), project.ID, ctx.Query("period"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(stats)
}
