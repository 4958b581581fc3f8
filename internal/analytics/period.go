package analytics

import (
	"time"

	"tally/internal/events"
)

// Period is a stats window length selectable by name.
type Period struct {
	Name     string
	Duration time.Duration
}

// DefaultPeriod is used for empty or unknown selectors.
var DefaultPeriod = Period{Name: "7d", Duration: 7 * 24 * time.Hour}

var periods = map[string]Period{
	"24h": {Name: "24h", Duration: 24 * time.Hour},
	"7d":  DefaultPeriod,
	"30d": {Name: "30d", Duration: 30 * 24 * time.Hour},
	"90d": {Name: "90d", Duration: 90 * 24 * time.Hour},
}

// ParsePeriod resolves a selector such as "30d".
func ParsePeriod(name string) Period {
	if p, ok := periods[name]; ok {
		return p
	}
	return DefaultPeriod
}

// Window is a current stats window and the equal-length window preceding it.
type Window struct {
	Start     time.Time
	PrevStart time.Time
	// StartDate and PrevStartDate are the calendar date strings compared
	// against daily stat rows.
	StartDate     string
	PrevStartDate string
}

// WindowAt returns the windows of p ending at now.
func (p Period) WindowAt(now time.Time) Window {
	now = now.UTC()
	start := now.Add(-p.Duration)
	prevStart := start.Add(-p.Duration)
	return Window{
		Start:         start,
		PrevStart:     prevStart,
		StartDate:     start.Format(events.DateLayout),
		PrevStartDate: prevStart.Format(events.DateLayout),
	}
}
