package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/karloscodes/cartridge"

	"tally/internal/metrics"
	"tally/internal/pkg/geoip"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
	GeoIP     bool      `json:"geoip"`
}

// HealthIndexAction reports database connectivity. A failed ping answers 503
// so load balancers stop routing ingestion traffic here.
func HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		DBStatus:  "ok",
		GeoIP:     geoip.Enabled(),
	}

	if err := pingDB(ctx); err != nil {
		ctx.Logger.Error("Database health check failed", slog.Any("error", err))
		health.Status = "degraded"
		health.DBStatus = "error"
		return ctx.Status(http.StatusServiceUnavailable).JSON(health)
	}

	return ctx.JSON(health)
}

func pingDB(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	if db == nil {
		return errNoConnection
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx.UserContext())
}

var metricsHandler = adaptor.HTTPHandler(metrics.Handler())

// MetricsAction serves the Prometheus exposition format.
func MetricsAction(ctx *cartridge.Context) error {
	return metricsHandler(ctx.Ctx)
}
