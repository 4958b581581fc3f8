// Package internal wires the tally application together.
package internal

import (
	"context"
	"fmt"

	"github.com/karloscodes/cartridge"

	"tally/internal/config"
	"tally/internal/database"
	"tally/internal/jobs"
	"tally/internal/pkg/geoip"
)

// Application wraps cartridge.Application with tally's database manager.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
}

// NewApp creates the application from the process configuration.
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates the application with the default routes.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	return NewAppWithRoutes(cfg, MountAppRoutes)
}

// NewAppWithRoutes creates the application with a custom route mount function.
func NewAppWithRoutes(cfg *config.Config, routeMount func(*cartridge.Server)) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	geoip.InitLogger(logger)
	geoip.Open(cfg.GeoDBPath)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	scheduler := jobs.NewScheduler(dbManager, logger, cfg)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    routeMount,
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
	}, nil
}

// Shutdown stops the application and releases the GeoIP database.
func (a *Application) Shutdown(ctx context.Context) error {
	defer geoip.Close()
	return a.Application.Shutdown(ctx)
}
