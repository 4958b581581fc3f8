// Package tracking turns untrusted tracker payloads into persisted events.
package tracking

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"tally/internal/events"
	"tally/internal/metrics"
	"tally/internal/pkg/countries"
	"tally/internal/pkg/geoip"
	"tally/internal/pkg/user_agent"
	"tally/internal/pkg/validation"
	"tally/internal/projects"
)

// ErrAPIKeyRequired is returned when a payload carries no API key.
var ErrAPIKeyRequired = validation.New("apiKey", "API key is required")

// Payload is the JSON body posted by the tracker script. Unknown keys are ignored.
type Payload struct {
	APIKey    string `json:"apiKey"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Page      string `json:"page"`
	Referrer  string `json:"referrer"`
	SessionID string `json:"sessionId"`
}

// Request is a payload together with the request metadata the server derives
// fields from. Header returns a request header value, or "".
type Request struct {
	Payload   Payload
	UserAgent string
	ClientIP  string
	Header    func(name string) string
}

// Options configures a Recorder.
type Options struct {
	// CountryHeaders are trusted proxy headers carrying an alpha-2 country
	// code, checked in order.
	CountryHeaders []string
	SessionAware   bool
}

// Recorder validates, enriches and persists tracking events.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewRecorder creates a Recorder writing to db.
func NewRecorder(db *gorm.DB, logger *slog.Logger, opts Options) *Recorder {
	return &Recorder{
		db:     db,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Record persists one event. A pageview also bumps its daily stat in the same
// transaction, so either both writes apply or neither does.
//
// Returns ErrAPIKeyRequired or projects.ErrInvalidAPIKey without writing
// anything when the key is missing or does not resolve to an active project.
func (r *Recorder) Record(req Request) (*events.Event, error) {
	start := time.Now()

	apiKey := strings.TrimSpace(req.Payload.APIKey)
	if apiKey == "" {
		metrics.CountRejected(metrics.ReasonMissingKey)
		return nil, ErrAPIKeyRequired
	}

	project, err := projects.ResolveAPIKey(r.db, apiKey)
	if err != nil {
		if errors.Is(err, projects.ErrInvalidAPIKey) {
			metrics.CountRejected(metrics.ReasonInvalidKey)
		} else {
			metrics.CountRejected(metrics.ReasonStorage)
		}
		return nil, err
	}

	ua := user_agent.ParseUserAgent(req.UserAgent)
	now := r.now().UTC()

	event := &events.Event{
		ProjectID: project.ID,
		Type:      clamp(strings.TrimSpace(req.Payload.Type), events.MaxTypeLength),
		Name:      optional(req.Payload.Name, events.MaxNameLength),
		Page:      clamp(strings.TrimSpace(req.Payload.Page), events.MaxPageLength),
		Referrer:  optional(req.Payload.Referrer, events.MaxReferrerLength),
		Country:   r.country(req),
		Device:    ua.Device,
		Browser:   ua.Browser,
		SessionID: optional(req.Payload.SessionID, events.MaxSessionIDLength),
		CreatedAt: now,
	}
	if event.Type == "" {
		event.Type = events.TypePageview
	}
	if event.Page == "" {
		event.Page = events.DefaultPage
	}

	err = sqlite.PerformWrite(r.logger, r.db, func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		if event.Type != events.TypePageview {
			return nil
		}
		return events.BumpDailyStat(tx, events.BumpInput{
			ProjectID:    event.ProjectID,
			Date:         events.DateFor(now),
			Page:         event.Page,
			SessionID:    deref(event.SessionID),
			SessionAware: r.opts.SessionAware,
		})
	})
	if err != nil {
		metrics.CountRejected(metrics.ReasonStorage)
		r.logger.Error("Failed to record event",
			slog.String("project_id", project.ID),
			slog.String("type", event.Type),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	metrics.CountEvent(event.Type)
	metrics.ObserveTrack(time.Since(start))
	return event, nil
}

// country takes the first valid code from the trusted headers, then falls
// back to GeoIP on the client address.
func (r *Recorder) country(req Request) string {
	if req.Header != nil {
		for _, name := range r.opts.CountryHeaders {
			if code := countries.Normalize(req.Header(name)); code != "" {
				return code
			}
		}
	}
	if code := countries.Normalize(geoip.CountryCode(req.ClientIP)); code != "" {
		return code
	}
	return events.UnknownCountry
}

// clamp truncates s to at most n runes.
func clamp(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func optional(s string, n int) *string {
	s = clamp(strings.TrimSpace(s), n)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
