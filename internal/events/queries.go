package events

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"tally/internal/pkg/validation"
)

// Pagination bounds for event listings.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Sort orders.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// DefaultSortBy is the sort column used when none or an unknown one is given.
const DefaultSortBy = "createdAt"

// sortColumns whitelists the sortable fields; client input never reaches SQL
// except through this map.
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"type":      "type",
	"page":      "page",
	"device":    "device",
	"browser":   "browser",
}

// EventFilter is the closed set of criteria an event listing can be narrowed by.
// Set fields are combined with AND; multi-value fields match any of their values.
type EventFilter struct {
	StartDate    *time.Time
	EndDate      *time.Time
	Types        []string
	Name         string
	Page         string
	PageContains string
	Devices      []string
	Browsers     []string
	Countries    []string
	SessionID    string
	Referrer     string
	SortBy       string
	SortOrder    string
	Limit        int
	Offset       int
}

// FilterOptions holds the distinct values observed across all of a project's
// events, independent of any filter.
type FilterOptions struct {
	Types     []string `json:"types"`
	Devices   []string `json:"devices"`
	Browsers  []string `json:"browsers"`
	Countries []string `json:"countries"`
}

// EventsPage is one page of a filtered event listing.
type EventsPage struct {
	Events        []Event        `json:"events"`
	Total         int64          `json:"total"`
	Limit         int            `json:"limit"`
	Offset        int            `json:"offset"`
	ActiveFilters map[string]any `json:"activeFilters"`
	FilterOptions FilterOptions  `json:"filterOptions"`
}

// Normalized returns a copy with defaults applied and pagination clamped.
func (f EventFilter) Normalized() EventFilter {
	if _, ok := sortColumns[f.SortBy]; !ok {
		f.SortBy = DefaultSortBy
	}
	if f.SortOrder != SortAsc {
		f.SortOrder = SortDesc
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.EndDate != nil {
		end := EndOfDay(*f.EndDate)
		f.EndDate = &end
	}
	return f
}

// EndOfDay returns 23:59:59.999 UTC on t's calendar day.
func EndOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

// apply adds the filter predicate to q. Count and Find both go through here so
// the total always matches the rows that would be paginated.
func (f EventFilter) apply(q *gorm.DB) *gorm.DB {
	if f.StartDate != nil {
		q = q.Where("created_at >= ?", f.StartDate.UTC())
	}
	if f.EndDate != nil {
		q = q.Where("created_at <= ?", f.EndDate.UTC())
	}
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	if f.Name != "" {
		q = q.Where(`name LIKE ? ESCAPE '\'`, containsPattern(f.Name))
	}
	if f.Page != "" {
		q = q.Where("page = ?", f.Page)
	}
	if f.PageContains != "" {
		q = q.Where(`page LIKE ? ESCAPE '\'`, containsPattern(f.PageContains))
	}
	if len(f.Devices) > 0 {
		q = q.Where("device IN ?", f.Devices)
	}
	if len(f.Browsers) > 0 {
		q = q.Where("browser IN ?", f.Browsers)
	}
	if len(f.Countries) > 0 {
		q = q.Where("country IN ?", f.Countries)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.Referrer != "" {
		q = q.Where(`referrer LIKE ? ESCAPE '\'`, containsPattern(f.Referrer))
	}
	return q
}

// ActiveFilters echoes the criteria that constrained the listing, keyed by
// their query parameter names.
func (f EventFilter) ActiveFilters() map[string]any {
	active := map[string]any{
		"sortBy":    f.SortBy,
		"sortOrder": f.SortOrder,
	}
	if f.StartDate != nil {
		active["startDate"] = f.StartDate.UTC().Format(time.RFC3339)
	}
	if f.EndDate != nil {
		active["endDate"] = f.EndDate.UTC().Format(time.RFC3339Nano)
	}
	setList := func(key string, values []string) {
		if len(values) > 0 {
			active[key] = values
		}
	}
	setString := func(key, value string) {
		if value != "" {
			active[key] = value
		}
	}
	setList("type", f.Types)
	setString("name", f.Name)
	setString("page", f.Page)
	setString("pageContains", f.PageContains)
	setList("device", f.Devices)
	setList("browser", f.Browsers)
	setList("country", f.Countries)
	setString("sessionId", f.SessionID)
	setString("referrer", f.Referrer)
	return active
}

// QueryEvents returns one page of a project's events matching filter, the
// total number of matches and the project's filter options.
func QueryEvents(db *gorm.DB, projectID string, filter EventFilter) (*EventsPage, error) {
	f := filter.Normalized()

	scoped := func() *gorm.DB {
		return f.apply(db.Model(&Event{}).Where("project_id = ?", projectID))
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	column := sortColumns[f.SortBy]
	order := fmt.Sprintf("%s %s, id %s", column, strings.ToUpper(f.SortOrder), strings.ToUpper(f.SortOrder))

	events := make([]Event, 0, f.Limit)
	if err := scoped().Order(order).Limit(f.Limit).Offset(f.Offset).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	options, err := GetFilterOptions(db, projectID)
	if err != nil {
		return nil, err
	}

	return &EventsPage{
		Events:        events,
		Total:         total,
		Limit:         f.Limit,
		Offset:        f.Offset,
		ActiveFilters: f.ActiveFilters(),
		FilterOptions: options,
	}, nil
}

// GetFilterOptions returns the distinct types, devices, browsers and countries
// across all of a project's events, sorted ascending.
func GetFilterOptions(db *gorm.DB, projectID string) (FilterOptions, error) {
	distinct := func(column string) ([]string, error) {
		values := []string{}
		err := db.Model(&Event{}).
			Where("project_id = ? AND "+column+" IS NOT NULL AND "+column+" != ''", projectID).
			Order(column+" ASC").
			Distinct().
			Pluck(column, &values).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load distinct %s: %w", column, err)
		}
		return values, nil
	}

	var opts FilterOptions
	var err error
	if opts.Types, err = distinct("type"); err != nil {
		return opts, err
	}
	if opts.Devices, err = distinct("device"); err != nil {
		return opts, err
	}
	if opts.Browsers, err = distinct("browser"); err != nil {
		return opts, err
	}
	if opts.Countries, err = distinct("country"); err != nil {
		return opts, err
	}
	return opts, nil
}

// ParseEventFilter builds an EventFilter from query parameters read through get.
// Multi-value parameters are comma separated. Malformed dates are a
// ValidationError; malformed pagination falls back to defaults.
func ParseEventFilter(get func(key string) string) (EventFilter, error) {
	var f EventFilter

	if raw := strings.TrimSpace(get("startDate")); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return f, validation.New("startDate", err.Error())
		}
		f.StartDate = &t
	}
	if raw := strings.TrimSpace(get("endDate")); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return f, validation.New("endDate", err.Error())
		}
		f.EndDate = &t
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(EndOfDay(*f.EndDate)) {
		return f, validation.New("startDate", "must not be after endDate")
	}

	f.Types = splitList(get("type"))
	f.Name = strings.TrimSpace(get("name"))
	f.Page = strings.TrimSpace(get("page"))
	f.PageContains = strings.TrimSpace(get("pageContains"))
	f.Devices = splitList(get("device"))
	f.Browsers = splitList(get("browser"))
	f.Countries = splitList(get("country"))
	f.SessionID = strings.TrimSpace(get("sessionId"))
	f.Referrer = strings.TrimSpace(get("referrer"))
	f.SortBy = strings.TrimSpace(get("sortBy"))
	f.SortOrder = strings.ToLower(strings.TrimSpace(get("sortOrder")))

	if n, err := strconv.Atoi(get("limit")); err == nil {
		f.Limit = n
	}
	if n, err := strconv.Atoi(get("offset")); err == nil {
		f.Offset = n
	}

	return f.Normalized(), nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", raw)
}

// splitList splits a comma separated parameter, dropping blanks and duplicates.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	sort.Strings(out)
	return out
}

// containsPattern builds a LIKE pattern matching value anywhere, with LIKE
// wildcards in value taken literally.
func containsPattern(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(value) + "%"
}
