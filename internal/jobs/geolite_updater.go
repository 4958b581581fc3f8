package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tally/internal/config"
	"tally/internal/pkg/geoip"
)

const (
	// GeoLite databases are published weekly by MaxMind.
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// MaxMindDownloadURL takes the license key.
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-Country&license_key=%s&suffix=tar.gz"
)

// GeoLiteUpdaterJob keeps the GeoLite2 country database at cfg.GeoDBPath
// fresh. It only runs when both the path and a MaxMind license key are set.
type GeoLiteUpdaterJob struct {
	logger      *slog.Logger
	cfg         *config.Config
	client      *http.Client
	downloadURL string
	now         func() time.Time
}

func NewGeoLiteUpdaterJob(logger *slog.Logger, cfg *config.Config) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		logger:      logger,
		cfg:         cfg,
		client:      &http.Client{Timeout: 5 * time.Minute},
		downloadURL: MaxMindDownloadURL,
		now:         time.Now,
	}
}

func (j *GeoLiteUpdaterJob) Name() string            { return "geolite_updater" }
func (j *GeoLiteUpdaterJob) Interval() time.Duration { return 24 * time.Hour }

func (j *GeoLiteUpdaterJob) Enabled() bool {
	return j.cfg.GeoDBPath != "" && j.cfg.MaxMindLicenseKey != ""
}

// Run downloads a new database when the file on disk is missing or older
// than GeoLiteUpdateInterval, then reloads the in-memory reader.
func (j *GeoLiteUpdaterJob) Run() error {
	if !j.Enabled() {
		return nil
	}

	if info, err := os.Stat(j.cfg.GeoDBPath); err == nil {
		age := j.now().Sub(info.ModTime())
		if age < GeoLiteUpdateInterval {
			j.logger.Debug("GeoLite database is up to date", slog.Duration("age", age))
			return nil
		}
	}

	j.logger.Info("Starting GeoLite database update", slog.String("path", j.cfg.GeoDBPath))
	if err := j.downloadAndUpdate(context.Background()); err != nil {
		return fmt.Errorf("failed to update GeoLite database: %w", err)
	}

	geoip.Reload()
	j.logger.Info("GeoLite database updated successfully")
	return nil
}

// downloadAndUpdate fetches the archive and swaps the extracted database into
// place with a rename, so readers never see a partial file.
func (j *GeoLiteUpdaterJob) downloadAndUpdate(ctx context.Context) error {
	dir := filepath.Dir(j.cfg.GeoDBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(j.downloadURL, j.cfg.MaxMindLicenseKey), nil)
	if err != nil {
		return err
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, ".geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), j.cfg.GeoDBPath)
}

// extractMMDB copies the first .mmdb entry of a tar.gz stream to dst.
func extractMMDB(r io.Reader, dst io.Writer) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("no .mmdb file found in archive")
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if strings.HasSuffix(header.Name, ".mmdb") {
			_, err := io.Copy(dst, tr)
			return err
		}
	}
}
