package analytics

import "math"

// GrowthMetrics holds period-over-period percentage changes.
type GrowthMetrics struct {
	Pageviews int `json:"pageviews"`
	Visitors  int `json:"visitors"`
	Events    int `json:"events"`
}

// ComparisonData holds current and previous period totals.
type ComparisonData struct {
	CurrentPageviews  int64
	PreviousPageviews int64
	CurrentVisitors   int64
	PreviousVisitors  int64
	CurrentEvents     int64
	PreviousEvents    int64
}

// Growth returns the whole-number percentage change from previous to current.
// Halves round away from zero. A zero previous value yields 100 when current
// is positive and 0 otherwise.
func Growth(current, previous int64) int {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return int(math.Round(float64(current-previous) / float64(previous) * 100))
}

// CalculateGrowth computes the growth of every compared metric.
func CalculateGrowth(data ComparisonData) GrowthMetrics {
	return GrowthMetrics{
		Pageviews: Growth(data.CurrentPageviews, data.PreviousPageviews),
		Visitors:  Growth(data.CurrentVisitors, data.PreviousVisitors),
		Events:    Growth(data.CurrentEvents, data.PreviousEvents),
	}
}
