package v1

import (
	"bytes"
	_ "embed"
	"log/slog"
	"text/template"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tally/internal/config"
)

//go:embed tracker.js
var trackerSource string

var trackerTemplate = template.Must(template.New("tracker.js").Parse(trackerSource))

// GetTrackerScriptHandler serves the tracking snippet, pointed at this
// server's /api/track endpoint.
func GetTrackerScriptHandler(ctx *cartridge.Context) error {
	base := config.GetConfig().GetPublicURL()
	if base == "" {
		base = ctx.BaseURL()
	}

	var buf bytes.Buffer
	if err := trackerTemplate.Execute(&buf, map[string]string{"TrackURL": base + "/api/track"}); err != nil {
		ctx.Logger.Error("Failed to render tracker script", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}

	content := buf.Bytes()
	etag := generateETag(content)

	if ctx.Get("If-None-Match") == etag {
		return ctx.Status(fiber.StatusNotModified).Send(nil)
	}

	ctx.Set("Content-Type", "application/javascript; charset=utf-8")
	ctx.Set("Cache-Control", "public, max-age=3600")
	ctx.Set("ETag", etag)
	ctx.Set("Cross-Origin-Resource-Policy", "cross-origin")
	return ctx.Send(content)
}
