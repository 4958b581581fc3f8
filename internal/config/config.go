// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const defaultPrivateKey = "88888888888888888888888888888888"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`
	PublicURL   string   `mapstructure:"publicurl"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Ingestion settings
	CountryHeader        string `mapstructure:"countryheader"`
	SessionAwareVisitors bool   `mapstructure:"sessionawarevisitors"`
	TrackRateLimitPerMin int    `mapstructure:"trackratelimit"`
	EventRetentionDays   int    `mapstructure:"eventretentiondays"`
	JobIntervalSeconds   int    `mapstructure:"jobintervalseconds"`
	StatsWorkerPoolSize  int    `mapstructure:"statsworkers"`
	MaxMindLicenseKey    string `mapstructure:"maxmindlicensekey"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "tally")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("publicurl", "")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("countryheader", "")
		v.SetDefault("sessionawarevisitors", false)
		v.SetDefault("trackratelimit", 70)
		v.SetDefault("eventretentiondays", 0)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("statsworkers", 4)
		v.SetDefault("maxmindlicensekey", "")

		v.BindEnv("appname", "TALLY_APP_NAME")
		v.BindEnv("appport", "TALLY_APP_PORT")
		v.BindEnv("environment", "TALLY_ENV")
		v.BindEnv("loglevel", "TALLY_LOG_LEVEL")
		v.BindEnv("privatekey", "TALLY_PRIVATE_KEY")
		v.BindEnv("publicurl", "TALLY_PUBLIC_URL")
		v.BindEnv("storagepath", "TALLY_STORAGE_PATH", "TALLY_DATABASE_PATH")
		v.BindEnv("geodbpath", "TALLY_GEO_DB_PATH")
		v.BindEnv("publicdir", "TALLY_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "TALLY_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "TALLY_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "TALLY_LOG_MAX_SIZE_MB")
		v.BindEnv("logsmaxbackups", "TALLY_LOG_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "TALLY_LOG_MAX_AGE_DAYS")
		v.BindEnv("dbmaxopenconns", "TALLY_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "TALLY_DB_MAX_IDLE_CONNS")
		v.BindEnv("countryheader", "TALLY_COUNTRY_HEADER")
		v.BindEnv("sessionawarevisitors", "TALLY_SESSION_AWARE_VISITORS")
		v.BindEnv("trackratelimit", "TALLY_TRACK_RATE_LIMIT")
		v.BindEnv("eventretentiondays", "TALLY_EVENT_RETENTION_DAYS")
		v.BindEnv("jobintervalseconds", "TALLY_JOB_INTERVAL_SECONDS")
		v.BindEnv("statsworkers", "TALLY_STATS_WORKERS")
		v.BindEnv("maxmindlicensekey", "TALLY_MAXMIND_LICENSE_KEY")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if c.IsProduction() && c.PrivateKey == defaultPrivateKey {
		return fmt.Errorf("production requires a unique TALLY_PRIVATE_KEY (cannot use default)")
	}

	if c.TrackRateLimitPerMin < 0 {
		return fmt.Errorf("invalid track rate limit: %d", c.TrackRateLimitPerMin)
	}
	if c.EventRetentionDays < 0 {
		return fmt.Errorf("invalid event retention days: %d", c.EventRetentionDays)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the server secret (implements cartridge.FactoryConfig interface).
// It also keys the HMAC used for dashboard API tokens.
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetPublicURL returns the base URL the tracker script posts to. Empty means
// the base URL of the request serving the script.
func (c *Config) GetPublicURL() string {
	return strings.TrimRight(c.PublicURL, "/")
}

// GetCountryHeaders returns the trusted proxy headers carrying a country code,
// in lookup order.
func (c *Config) GetCountryHeaders() []string {
	headers := []string{"CF-IPCountry", "X-Vercel-IP-Country"}
	if h := strings.TrimSpace(c.CountryHeader); h != "" {
		headers = append(headers, h)
	}
	return headers
}

// GetStatsWorkers returns the size of the stats query worker pool.
func (c *Config) GetStatsWorkers() int {
	if c.StatsWorkerPoolSize < 1 {
		return 1
	}
	return c.StatsWorkerPoolSize
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (allows concurrent reads for parallel stats queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
