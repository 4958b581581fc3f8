package testsupport

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tally/internal/config"
	"tally/internal/database"
	"tally/internal/events"
	"tally/internal/projects"
	"tally/internal/users"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// TestConfig returns the process configuration forced into the test environment.
func TestConfig() *config.Config {
	cfg := config.GetConfig()
	cfg.Environment = config.Test
	cfg.SessionAwareVisitors = false
	cfg.CountryHeader = ""
	return cfg
}

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared to allow multiple connections
// to share the same database within a test. Caches the database by test name
// so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	// One connection keeps the shared in-memory database free of table locks
	// between concurrent writers.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testsupport: failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB.Close()
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	TestConfig()

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestUser creates a user with a bcrypt hashed password.
func CreateTestUser(t *testing.T, db *gorm.DB, email, password string) *users.User {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	user := &users.User{
		ID:           uuid.NewString(),
		Email:        users.NormalizeEmail(email),
		PasswordHash: string(hashedPassword),
		Plan:         "free",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateTestProject creates an active project owned by userID.
func CreateTestProject(t *testing.T, db *gorm.DB, userID, domain string) *projects.Project {
	t.Helper()

	project, err := projects.Create(db, GetLogger(), userID, "Test "+domain, domain)
	require.NoError(t, err)
	return project
}

// IssueTestToken returns a dashboard bearer token for userID.
func IssueTestToken(t *testing.T, db *gorm.DB, userID string) string {
	t.Helper()

	token, err := users.IssueToken(db, GetLogger(), TestConfig().GetSessionSecret(), userID)
	require.NoError(t, err)
	return token
}

// EventSeed describes a raw event inserted directly for query tests.
type EventSeed struct {
	Type      string
	Name      string
	Page      string
	Referrer  string
	Country   string
	Device    string
	Browser   string
	SessionID string
	CreatedAt time.Time
}

// SeedEvent inserts a raw event without touching daily stats.
func SeedEvent(t *testing.T, db *gorm.DB, projectID string, seed EventSeed) *events.Event {
	t.Helper()

	optional := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}

	e := &events.Event{
		ProjectID: projectID,
		Type:      seed.Type,
		Name:      optional(seed.Name),
		Page:      seed.Page,
		Referrer:  optional(seed.Referrer),
		Country:   seed.Country,
		Device:    seed.Device,
		Browser:   seed.Browser,
		SessionID: optional(seed.SessionID),
		CreatedAt: seed.CreatedAt.UTC(),
	}
	if e.Type == "" {
		e.Type = events.TypePageview
	}
	if e.Page == "" {
		e.Page = events.DefaultPage
	}
	if e.Country == "" {
		e.Country = events.UnknownCountry
	}
	if e.Device == "" {
		e.Device = "desktop"
	}
	if e.Browser == "" {
		e.Browser = "Other"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, db.Create(e).Error)
	return e
}

// SeedDailyStat inserts a daily stat row directly.
func SeedDailyStat(t *testing.T, db *gorm.DB, projectID, date, page string, pageviews, visitors int64) {
	t.Helper()

	require.NoError(t, db.Create(&events.DailyStat{
		ProjectID:      projectID,
		Date:           date,
		Page:           page,
		Pageviews:      pageviews,
		UniqueVisitors: visitors,
	}).Error)
}

// TestServerOptions configures NewTestApp.
type TestServerOptions struct {
	RouteMountFunc func(*cartridge.Server)
	Config         *config.Config
}

// NewTestApp builds a cartridge server backed by db, mounts routes and returns
// the fiber app for use with app.Test.
func NewTestApp(t *testing.T, db *gorm.DB, opts TestServerOptions) *fiber.App {
	t.Helper()

	appConfig := opts.Config
	if appConfig == nil {
		appConfig = TestConfig()
	}
	appConfig.PublicDirectory = "../../testdata/public"

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = NewTestDBManager(db)
	cfg.StaticDirectory = appConfig.PublicDirectory
	cfg.StaticPrefix = appConfig.PublicAssetsUrlPrefix
	cfg.TemplatesDirectory = appConfig.PublicDirectory
	// API clients and beacons are not required to send Sec-Fetch-Site.
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	opts.RouteMountFunc(srv)
	return srv.App()
}

// NewJSONRequest builds a request with a JSON body and the headers a browser
// beacon would send.
func NewJSONRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	return req
}
