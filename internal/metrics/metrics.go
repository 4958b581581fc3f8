package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons reported by CountRejected.
const (
	ReasonInvalidJSON = "invalid_json"
	ReasonMissingKey  = "missing_key"
	ReasonInvalidKey  = "invalid_key"
	ReasonStorage     = "storage"
)

var (
	eventsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_events_recorded_total",
		Help: "Events persisted by kind (pageview, click or custom).",
	}, []string{"kind"})

	trackRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_track_rejected_total",
		Help: "Tracking requests rejected by reason.",
	}, []string{"reason"})

	trackDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_track_duration_seconds",
		Help:    "Time spent recording one event, including the daily stat bump.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms → ~1s
	})

	eventsPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_events_purged_total",
		Help: "Raw events removed by the retention job.",
	})

	statsQueries = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tally_stats_query_duration_seconds",
		Help:    "Stats computation time by period.",
		Buckets: prometheus.DefBuckets,
	}, []string{"period"})
)

func init() {
	prometheus.MustRegister(
		eventsRecorded,
		trackRejected,
		trackDuration,
		eventsPurged,
		statsQueries,
	)
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountEvent records a persisted event. Custom types share one label so the
// series count stays bounded.
func CountEvent(eventType string) {
	kind := "custom"
	switch eventType {
	case "pageview", "click":
		kind = eventType
	}
	eventsRecorded.WithLabelValues(kind).Inc()
}

// CountRejected records a tracking request that wrote nothing.
func CountRejected(reason string) {
	trackRejected.WithLabelValues(reason).Inc()
}

// ObserveTrack records the duration of one successful recording.
func ObserveTrack(d time.Duration) {
	trackDuration.Observe(d.Seconds())
}

// CountPurged records events deleted by retention.
func CountPurged(n int64) {
	eventsPurged.Add(float64(n))
}

// ObserveStats records the duration of one stats computation.
func ObserveStats(period string, d time.Duration) {
	statsQueries.WithLabelValues(period).Observe(d.Seconds())
}
