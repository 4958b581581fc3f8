package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithEnv(t *testing.T, env map[string]string) *Config {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
	Reset()
	t.Cleanup(Reset)
	return GetConfig()
}

func TestGetConfigDefaults(t *testing.T) {
	c := loadWithEnv(t, map[string]string{"TALLY_ENV": Test})

	assert.Equal(t, "tally", c.GetAppName())
	assert.Equal(t, "3000", c.GetPort())
	assert.Equal(t, 70, c.TrackRateLimitPerMin)
	assert.Zero(t, c.EventRetentionDays)
	assert.False(t, c.SessionAwareVisitors)
	assert.Equal(t, filepath.Join("storage", "tally-test.db"), c.DatabaseDSN())
	assert.Equal(t, []string{"CF-IPCountry", "X-Vercel-IP-Country"}, c.GetCountryHeaders())
	assert.Equal(t, 1, c.GetMaxOpenConns())
	assert.Equal(t, 4, c.GetStatsWorkers())
	assert.Empty(t, c.GetPublicURL())
}

func TestGetConfigFromEnvironment(t *testing.T) {
	c := loadWithEnv(t, map[string]string{
		"TALLY_ENV":                    Test,
		"TALLY_APP_PORT":               "8080",
		"TALLY_DATABASE_PATH":          "/var/lib/tally",
		"TALLY_COUNTRY_HEADER":         "Fly-Client-Country",
		"TALLY_SESSION_AWARE_VISITORS": "true",
		"TALLY_EVENT_RETENTION_DAYS":   "90",
		"TALLY_TRACK_RATE_LIMIT":       "0",
		"TALLY_PUBLIC_URL":             "https://stats.example.com/",
		"TALLY_STATS_WORKERS":          "0",
		"TALLY_MAXMIND_LICENSE_KEY":    "license",
	})

	assert.Equal(t, "8080", c.GetPort())
	assert.Equal(t, filepath.Join("/var/lib/tally", "tally-test.db"), c.DatabaseDSN())
	assert.Equal(t, []string{"CF-IPCountry", "X-Vercel-IP-Country", "Fly-Client-Country"}, c.GetCountryHeaders())
	assert.True(t, c.SessionAwareVisitors)
	assert.Equal(t, 90, c.EventRetentionDays)
	assert.Zero(t, c.TrackRateLimitPerMin)
	assert.Equal(t, "https://stats.example.com", c.GetPublicURL())
	assert.Equal(t, 1, c.GetStatsWorkers())
	assert.Equal(t, "license", c.MaxMindLicenseKey)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Environment: Development, PrivateKey: defaultPrivateKey}
	}

	require.NoError(t, valid().validate())

	tests := map[string]func(c *Config){
		"unknown environment":       func(c *Config) { c.Environment = "staging" },
		"missing private key":       func(c *Config) { c.PrivateKey = "" },
		"default key in production": func(c *Config) { c.Environment = Production },
		"negative rate limit":       func(c *Config) { c.TrackRateLimitPerMin = -1 },
		"negative retention":        func(c *Config) { c.EventRetentionDays = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.validate())
		})
	}

	prod := valid()
	prod.Environment = Production
	prod.PrivateKey = "a-real-production-secret-value-1"
	assert.NoError(t, prod.validate())
	assert.True(t, prod.IsProduction())
}
