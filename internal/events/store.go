package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// CountProjectEvents returns the number of raw events stored for a project.
func CountProjectEvents(db *gorm.DB, projectID string) (int64, error) {
	var count int64
	if err := db.Model(&Event{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// WipeProjectEvents deletes every raw event of a project. The confirmation
// phrase must match DeleteConfirmation exactly, otherwise nothing is deleted.
// Daily stats are kept: they hold the historical totals.
func WipeProjectEvents(db *gorm.DB, logger *slog.Logger, projectID, confirmation string) (int64, error) {
	if confirmation != DeleteConfirmation {
		return 0, ErrConfirmationMismatch
	}

	var deleted int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		res := tx.Where("project_id = ?", projectID).Delete(&Event{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to wipe events: %w", err)
	}

	logger.Info("Wiped project events",
		slog.String("project_id", projectID),
		slog.Int64("deleted", deleted))
	return deleted, nil
}

// DeleteProjectData removes every event, daily stat and visitor mark owned by
// a project. Callers run it inside the transaction that deletes the project.
func DeleteProjectData(tx *gorm.DB, projectID string) error {
	for _, model := range []any{&Event{}, &DailyStat{}, &DailyVisitor{}} {
		if err := tx.Where("project_id = ?", projectID).Delete(model).Error; err != nil {
			return fmt.Errorf("failed to delete project data: %w", err)
		}
	}
	return nil
}

// DeleteEventsBefore removes raw events created before cutoff in batches and
// returns how many were removed. Daily stats are not touched.
func DeleteEventsBefore(db *gorm.DB, cutoff time.Time, batchSize int) (int64, error) {
	var total int64
	for {
		// SQLite builds without DELETE ... LIMIT, so batch through a subquery.
		res := db.Exec(`
			DELETE FROM `+eventsTableName+` WHERE id IN (
				SELECT id FROM `+eventsTableName+` WHERE created_at < ? LIMIT ?
			)`, cutoff.UTC(), batchSize)
		if res.Error != nil {
			return total, fmt.Errorf("failed to delete old events: %w", res.Error)
		}
		total += res.RowsAffected
		if res.RowsAffected < int64(batchSize) {
			return total, nil
		}
	}
}
