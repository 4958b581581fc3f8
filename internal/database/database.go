package database

import (
	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"tally/internal/config"
	"tally/internal/events"
	"tally/internal/projects"
	"tally/internal/users"
)

// DBManager wraps cartridge's sqlite.Manager with tally-specific migration methods.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

// Models returns every persisted model, in migration order.
func Models() []any {
	return []any{
		&users.User{},
		&users.APIToken{},
		&projects.Project{},
		&events.Event{},
		&events.DailyStat{},
		&events.DailyVisitor{},
	}
}

// NewDBManager creates a new database manager using cartridge's sqlite.Manager.
// WAL mode with immediate transactions lets readers proceed while the
// ingestion path holds the write lock.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.DatabaseName,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
	}
}

// Init initializes the database connection.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// MigrateDatabase creates or updates the schema for all models.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(Models()...)
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}

// Ping verifies the connection is usable.
func (dm *DBManager) Ping() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
