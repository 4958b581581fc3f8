package http

import (
	"net/http"

	"github.com/karloscodes/cartridge"
)

// PreflightAction answers CORS preflight requests for the dashboard API. The
// CORS middleware on the route sets the allow headers.
func PreflightAction(ctx *cartridge.Context) error {
	return ctx.SendStatus(http.StatusNoContent)
}
