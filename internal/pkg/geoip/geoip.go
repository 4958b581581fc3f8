package geoip

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

var (
	geoDB  *geoip2.Reader
	dbPath string
	mu     sync.RWMutex
	logger = slog.Default()
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Open loads the GeoLite2 country or city database at path, replacing any
// database opened before. An empty or missing path disables lookups; GeoIP is
// optional and Open never fails the caller.
func Open(path string) {
	mu.Lock()
	defer mu.Unlock()

	if geoDB != nil {
		geoDB.Close()
		geoDB = nil
	}
	dbPath = path
	geoDB = openReader(path)
}

// Reload reopens the database at the last path given to Open.
// Call this after downloading a new database file.
func Reload() {
	mu.RLock()
	path := dbPath
	mu.RUnlock()
	Open(path)
}

// Close releases the database, if one is open.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if geoDB != nil {
		geoDB.Close()
		geoDB = nil
	}
}

// Enabled reports whether a database is loaded.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return geoDB != nil
}

func openReader(path string) *geoip2.Reader {
	if path == "" {
		logger.Debug("GeoIP database path not configured - GeoIP lookups disabled")
		return nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("GeoLite2 database not found - GeoIP lookups disabled",
			slog.String("path", path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil
	} else if err != nil {
		logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", path),
			slog.Any("error", err))
		return nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		logger.Error("Failed to open GeoLite2 database",
			slog.String("path", path),
			slog.Any("error", err))
		return nil
	}

	logger.Info("GeoLite2 database initialized successfully", slog.String("path", path))
	return db
}

// CountryCode returns the ISO 3166-1 alpha-2 code for ip, or "" when no
// database is loaded or the address is unknown, private or unparsable.
func CountryCode(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return ""
	}

	mu.RLock()
	defer mu.RUnlock()
	if geoDB == nil {
		return ""
	}

	record, err := geoDB.Country(parsed)
	if err != nil {
		logger.Debug("GeoIP lookup failed", slog.String("ip", ip), slog.Any("error", err))
		return ""
	}
	return record.Country.IsoCode
}
