package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"tally/internal/metrics"
	"tally/internal/pkg/async"
	"tally/internal/pkg/countries"
	"tally/internal/pkg/referrers"
)

// Breakdown caps.
const (
	TopPagesLimit  = 10
	BrowsersLimit  = 5
	DevicesLimit   = 5
	CountriesLimit = 10
	ReferrersLimit = 10
)

type PageViews struct {
	Page  string `json:"page"`
	Views int64  `json:"views"`
}

type DailyPoint struct {
	Date      string `json:"date"`
	Pageviews int64  `json:"pageviews"`
	Visitors  int64  `json:"visitors"`
}

type BrowserCount struct {
	Browser string `json:"browser"`
	Count   int64  `json:"count"`
}

type DeviceCount struct {
	Device string `json:"device"`
	Count  int64  `json:"count"`
}

type CountryCount struct {
	Country string `json:"country"`
	Name    string `json:"name"`
	Count   int64  `json:"count"`
}

type ReferrerCount struct {
	Source string `json:"source"`
	Count  int64  `json:"count"`
}

// Stats is the dashboard summary of one project over one period.
type Stats struct {
	TotalPageviews int64           `json:"totalPageviews"`
	TotalVisitors  int64           `json:"totalVisitors"`
	TotalEvents    int64           `json:"totalEvents"`
	Growth         GrowthMetrics   `json:"growth"`
	TopPages       []PageViews     `json:"topPages"`
	DailyBreakdown []DailyPoint    `json:"dailyBreakdown"`
	Browsers       []BrowserCount  `json:"browsers"`
	Devices        []DeviceCount   `json:"devices"`
	Countries      []CountryCount  `json:"countries"`
	Referrers      []ReferrerCount `json:"referrers"`
	Period         string          `json:"period"`
}

// Engine computes Stats. Pageviews, visitors, top pages and the daily
// breakdown come from the daily rollup; event totals and the browser, device
// and country breakdowns are counted from raw events.
type Engine struct {
	db   *gorm.DB
	pool *async.Pool
	now  func() time.Time
}

// NewEngine creates an Engine running at most workers queries at once.
func NewEngine(db *gorm.DB, workers int) *Engine {
	return &Engine{
		db:   db,
		pool: async.NewPool(workers),
		now:  time.Now,
	}
}

type totals struct {
	Pageviews int64
	Visitors  int64
}

// Compute returns the stats of projectID for the named period. Unknown period
// names fall back to DefaultPeriod.
func (e *Engine) Compute(ctx context.Context, projectID, periodName string) (*Stats, error) {
	started := time.Now()
	period := ParsePeriod(periodName)
	w := period.WindowAt(e.now())
	db := e.db.WithContext(ctx)

	tasks := []async.Task{
		{Name: "current_totals", Execute: func() (any, error) {
			return dailyTotals(db.Where("project_id = ? AND date >= ?", projectID, w.StartDate))
		}},
		{Name: "previous_totals", Execute: func() (any, error) {
			return dailyTotals(db.Where("project_id = ? AND date >= ? AND date < ?", projectID, w.PrevStartDate, w.StartDate))
		}},
		{Name: "current_events", Execute: func() (any, error) {
			return countEvents(db.Where("project_id = ? AND created_at >= ?", projectID, w.Start))
		}},
		{Name: "previous_events", Execute: func() (any, error) {
			return countEvents(db.Where("project_id = ? AND created_at >= ? AND created_at < ?", projectID, w.PrevStart, w.Start))
		}},
		{Name: "top_pages", Execute: func() (any, error) {
			rows := []PageViews{}
			err := db.Table("daily_stats").
				Select("page, SUM(pageviews) AS views").
				Where("project_id = ? AND date >= ?", projectID, w.StartDate).
				Group("page").
				Order("views DESC, page ASC").
				Limit(TopPagesLimit).
				Scan(&rows).Error
			return rows, err
		}},
		{Name: "daily", Execute: func() (any, error) {
			rows := []DailyPoint{}
			err := db.Table("daily_stats").
				Select("date, SUM(pageviews) AS pageviews, SUM(unique_visitors) AS visitors").
				Where("project_id = ? AND date >= ?", projectID, w.StartDate).
				Group("date").
				Order("date ASC").
				Scan(&rows).Error
			return rows, err
		}},
		{Name: "browsers", Execute: func() (any, error) {
			rows := []BrowserCount{}
			err := eventBreakdown(db, projectID, w.Start, "browser", BrowsersLimit).Scan(&rows).Error
			return rows, err
		}},
		{Name: "devices", Execute: func() (any, error) {
			rows := []DeviceCount{}
			err := eventBreakdown(db, projectID, w.Start, "device", DevicesLimit).Scan(&rows).Error
			return rows, err
		}},
		{Name: "countries", Execute: func() (any, error) {
			rows := []CountryCount{}
			if err := eventBreakdown(db, projectID, w.Start, "country", CountriesLimit).Scan(&rows).Error; err != nil {
				return nil, err
			}
			for i := range rows {
				rows[i].Name = countries.Name(rows[i].Country)
			}
			return rows, nil
		}},
		{Name: "referrers", Execute: func() (any, error) {
			return referrerSources(db, projectID, w.Start)
		}},
	}

	results := e.pool.Execute(ctx, tasks)
	for _, task := range tasks {
		r, ok := results[task.Name]
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("stats query %s did not complete", task.Name)
		}
		if r.Err != nil {
			return nil, fmt.Errorf("stats query %s failed: %w", task.Name, r.Err)
		}
	}

	current := results["current_totals"].Data.(totals)
	previous := results["previous_totals"].Data.(totals)
	currentEvents := results["current_events"].Data.(int64)
	previousEvents := results["previous_events"].Data.(int64)

	stats := &Stats{
		TotalPageviews: current.Pageviews,
		TotalVisitors:  current.Visitors,
		TotalEvents:    currentEvents,
		Growth: CalculateGrowth(ComparisonData{
			CurrentPageviews:  current.Pageviews,
			PreviousPageviews: previous.Pageviews,
			CurrentVisitors:   current.Visitors,
			PreviousVisitors:  previous.Visitors,
			CurrentEvents:     currentEvents,
			PreviousEvents:    previousEvents,
		}),
		TopPages:       results["top_pages"].Data.([]PageViews),
		DailyBreakdown: results["daily"].Data.([]DailyPoint),
		Browsers:       results["browsers"].Data.([]BrowserCount),
		Devices:        results["devices"].Data.([]DeviceCount),
		Countries:      results["countries"].Data.([]CountryCount),
		Referrers:      results["referrers"].Data.([]ReferrerCount),
		Period:         period.Name,
	}

	metrics.ObserveStats(period.Name, time.Since(started))
	return stats, nil
}

func dailyTotals(q *gorm.DB) (totals, error) {
	var t totals
	err := q.Table("daily_stats").
		Select("COALESCE(SUM(pageviews), 0) AS pageviews, COALESCE(SUM(unique_visitors), 0) AS visitors").
		Scan(&t).Error
	return t, err
}

func countEvents(q *gorm.DB) (int64, error) {
	var n int64
	err := q.Table("events").Count(&n).Error
	return n, err
}

// eventBreakdown groups the project's events since start by column. column
// is always a package constant, never caller input.
func eventBreakdown(db *gorm.DB, projectID string, start time.Time, column string, limit int) *gorm.DB {
	return db.Table("events").
		Select(column+", COUNT(*) AS count").
		Where("project_id = ? AND created_at >= ?", projectID, start).
		Group(column).
		Order("count DESC, " + column + " ASC").
		Limit(limit)
}

// referrerSources counts pageviews since start by traffic source. Raw
// referrers are grouped in SQL and folded into sources here, since several
// hosts map to one source.
func referrerSources(db *gorm.DB, projectID string, start time.Time) ([]ReferrerCount, error) {
	var rows []struct {
		Referrer string
		Count    int64
	}
	err := db.Table("events").
		Select("COALESCE(referrer, '') AS referrer, COUNT(*) AS count").
		Where("project_id = ? AND type = ? AND created_at >= ?", projectID, "pageview", start).
		Group("COALESCE(referrer, '')").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	bySource := make(map[string]int64)
	for _, r := range rows {
		bySource[referrers.Source(r.Referrer)] += r.Count
	}

	out := make([]ReferrerCount, 0, len(bySource))
	for source, n := range bySource {
		out = append(out, ReferrerCount{Source: source, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Source < out[j].Source
	})
	if len(out) > ReferrersLimit {
		out = out[:ReferrersLimit]
	}
	return out, nil
}
