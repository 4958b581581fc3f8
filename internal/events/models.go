package events

import "time"

// Event is one immutable tracking fact. Rows are never updated.
type Event struct {
	ID        uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID string  `gorm:"index:idx_events_project_created;size:36;not null" json:"projectId"`
	Type      string  `gorm:"index;size:255;not null;default:pageview" json:"type"`
	Name      *string `gorm:"size:255" json:"name"`
	Page      string  `gorm:"index;not null" json:"page"`
	Referrer  *string `json:"referrer"`
	Country   string  `gorm:"size:16;not null;default:Unknown" json:"country"`
	Device    string  `gorm:"size:16;not null" json:"device"`
	Browser   string  `gorm:"size:32;not null" json:"browser"`
	SessionID *string `gorm:"index;size:128" json:"sessionId"`
	// CreatedAt is assigned by the server at insert time.
	CreatedAt time.Time `gorm:"index:idx_events_project_created;not null" json:"createdAt"`
}

// DailyStat is the per project, day and page pageview rollup maintained at write time.
type DailyStat struct {
	ID             uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	ProjectID      string `gorm:"uniqueIndex:idx_daily_stats_key;size:36;not null" json:"projectId"`
	Date           string `gorm:"uniqueIndex:idx_daily_stats_key;size:10;not null" json:"date"`
	Page           string `gorm:"uniqueIndex:idx_daily_stats_key;not null" json:"page"`
	Pageviews      int64  `gorm:"not null;default:0" json:"pageviews"`
	UniqueVisitors int64  `gorm:"not null;default:0" json:"uniqueVisitors"`
}

// DailyVisitor marks a session as already counted for a project, day and page.
// Only written when session aware visitor counting is enabled.
type DailyVisitor struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID string `gorm:"uniqueIndex:idx_daily_visitors_key;size:36;not null"`
	Date      string `gorm:"uniqueIndex:idx_daily_visitors_key;size:10;not null"`
	Page      string `gorm:"uniqueIndex:idx_daily_visitors_key;not null"`
	SessionID string `gorm:"uniqueIndex:idx_daily_visitors_key;size:128;not null"`
}
