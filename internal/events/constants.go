package events

// Well known event types. Any other non-empty string is a custom event.
const (
	TypePageview = "pageview"
	TypeClick    = "click"
)

// Defaults applied to omitted or underivable fields.
const (
	DefaultPage    = "/"
	UnknownCountry = "Unknown"
)

// Field length limits applied before persisting untrusted input.
const (
	MaxTypeLength      = 255
	MaxNameLength      = 255
	MaxPageLength      = 2048
	MaxReferrerLength  = 2048
	MaxSessionIDLength = 128
)

// DateLayout is the calendar date format of DailyStat rows.
const DateLayout = "2006-01-02"

const (
	eventsTableName        = "events"
	dailyStatsTableName    = "daily_stats"
	dailyVisitorsTableName = "daily_visitors"
)
