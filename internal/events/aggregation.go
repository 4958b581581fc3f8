package events

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// BumpInput identifies the DailyStat row a pageview lands on.
type BumpInput struct {
	ProjectID string
	Date      string
	Page      string
	SessionID string
	// SessionAware enables per session visitor dedup through daily_visitors.
	SessionAware bool
}

// DateFor returns the UTC calendar date bucket of t.
func DateFor(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// BumpDailyStat counts one pageview for (project, date, page).
//
// The increment is a single INSERT ... ON CONFLICT statement so concurrent
// writers for the same key never lose an update or insert twice. In the
// default mode a new row starts with one visitor and later pageviews leave
// the visitor count alone. In session aware mode a row counts its distinct
// non-empty session ids, so a pageview without a session never adds one.
func BumpDailyStat(tx *gorm.DB, in BumpInput) error {
	initialVisitors, visitorInc := 1, 0
	if in.SessionAware {
		initialVisitors = 0
		if in.SessionID != "" {
			res := tx.Exec(`
				INSERT INTO `+dailyVisitorsTableName+` (project_id, date, page, session_id)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (project_id, date, page, session_id) DO NOTHING
			`, in.ProjectID, in.Date, in.Page, in.SessionID)
			if res.Error != nil {
				return fmt.Errorf("failed to mark daily visitor: %w", res.Error)
			}
			if res.RowsAffected > 0 {
				initialVisitors, visitorInc = 1, 1
			}
		}
	}

	query := `
		INSERT INTO ` + dailyStatsTableName + ` (project_id, date, page, pageviews, unique_visitors)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (project_id, date, page) DO UPDATE SET
			pageviews = daily_stats.pageviews + 1,
			unique_visitors = daily_stats.unique_visitors + ?
	`
	if err := tx.Exec(query, in.ProjectID, in.Date, in.Page, initialVisitors, visitorInc).Error; err != nil {
		return fmt.Errorf("failed to bump daily stat: %w", err)
	}
	return nil
}

// RebuildDailyStats recomputes a project's daily stats from its raw pageview
// events in one transaction and returns the number of rows written.
//
// Only dates from the earliest remaining raw event onwards are replaced.
// Older rows outlive their events after a wipe or a retention purge and are
// left as they are; a project with no raw events is not touched at all.
func RebuildDailyStats(db *gorm.DB, projectID string, sessionAware bool) (int64, error) {
	var rows int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var from string
		err := tx.Model(&Event{}).
			Where("project_id = ?", projectID).
			Select("COALESCE(MIN(substr(created_at, 1, 10)), '')").
			Scan(&from).Error
		if err != nil {
			return fmt.Errorf("failed to find earliest event: %w", err)
		}
		if from == "" {
			return nil
		}

		if err := tx.Where("project_id = ? AND date >= ?", projectID, from).Delete(&DailyStat{}).Error; err != nil {
			return fmt.Errorf("failed to clear daily stats: %w", err)
		}
		if err := tx.Where("project_id = ? AND date >= ?", projectID, from).Delete(&DailyVisitor{}).Error; err != nil {
			return fmt.Errorf("failed to clear daily visitors: %w", err)
		}

		visitors := "1"
		if sessionAware {
			visitors = "COUNT(DISTINCT NULLIF(session_id, ''))"
		}

		res := tx.Exec(`
			INSERT INTO `+dailyStatsTableName+` (project_id, date, page, pageviews, unique_visitors)
			SELECT project_id, substr(created_at, 1, 10), page, COUNT(*), `+visitors+`
			FROM `+eventsTableName+`
			WHERE project_id = ? AND type = ?
			GROUP BY project_id, substr(created_at, 1, 10), page
		`, projectID, TypePageview)
		if res.Error != nil {
			return fmt.Errorf("failed to rebuild daily stats: %w", res.Error)
		}
		rows = res.RowsAffected

		if sessionAware {
			err := tx.Exec(`
				INSERT INTO `+dailyVisitorsTableName+` (project_id, date, page, session_id)
				SELECT DISTINCT project_id, substr(created_at, 1, 10), page, session_id
				FROM `+eventsTableName+`
				WHERE project_id = ? AND type = ? AND session_id IS NOT NULL AND session_id != ''
			`, projectID, TypePageview).Error
			if err != nil {
				return fmt.Errorf("failed to rebuild daily visitors: %w", err)
			}
		}
		return nil
	})
	return rows, err
}
