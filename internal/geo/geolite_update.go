package geo

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultGeoLiteDownloadURL = "https://download.maxmind.com/app/geoip_download"
	geoLiteUserAgent          = "socwatch-geolite-updater/1.0"
)

// ErrNoLicenseKey indicates that no MaxMind license key has been configured.
var ErrNoLicenseKey = errors.New("geo: maxmind license key is not configured")

type geoLiteTarget struct {
	edition string
	path    string
}

// GeoLiteUpdater downloads the GeoLite2 City and ASN editions into the paths
// the GeoLiteProvider reads from.
type GeoLiteUpdater struct {
	licenseKey  string
	downloadURL string
	client      *http.Client
	targets     []geoLiteTarget
	group       singleflight.Group
}

func NewGeoLiteUpdater(licenseKey, cityPath, asnPath string) *GeoLiteUpdater {
	targets := []geoLiteTarget{{edition: "GeoLite2-City", path: cityPath}}
	if strings.TrimSpace(asnPath) != "" {
		targets = append(targets, geoLiteTarget{edition: "GeoLite2-ASN", path: asnPath})
	}

	return &GeoLiteUpdater{
		licenseKey:  strings.TrimSpace(licenseKey),
		downloadURL: DefaultGeoLiteDownloadURL,
		client:      &http.Client{Timeout: 2 * time.Minute},
		targets:     targets,
	}
}

// Missing reports whether any database file has not been downloaded yet.
func (u *GeoLiteUpdater) Missing() bool {
	for _, target := range u.targets {
		if _, err := os.Stat(target.path); err != nil {
			return true
		}
	}
	return false
}

// Update downloads every edition. Concurrent callers share one download.
func (u *GeoLiteUpdater) Update(ctx context.Context) error {
	_, err, _ := u.group.Do("update", func() (interface{}, error) {
		if u.licenseKey == "" {
			return nil, ErrNoLicenseKey
		}

		for _, target := range u.targets {
			if err := u.downloadEdition(ctx, target); err != nil {
				return nil, err
			}
			log.Debug("GeoLite edition downloaded", "edition", target.edition, "path", target.path)
		}
		return nil, nil
	})
	return err
}

func (u *GeoLiteUpdater) downloadEdition(ctx context.Context, target geoLiteTarget) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.buildDownloadURL(target.edition), nil)
	if err != nil {
		return fmt.Errorf("geo: create request: %w", err)
	}
	req.Header.Set("User-Agent", geoLiteUserAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("geo: download %s: %w", target.edition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("geo: download %s: unexpected status %d: %s", target.edition, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("geo: %s: open gzip: %w", target.edition, err)
	}
	defer gzipReader.Close()

	wanted := target.edition + ".mmdb"
	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("geo: %s: read tar: %w", target.edition, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != wanted {
			continue
		}

		if err := replaceFile(target.path, tarReader); err != nil {
			return fmt.Errorf("geo: %s: write file: %w", target.edition, err)
		}
		return nil
	}

	return fmt.Errorf("geo: %s: mmdb file not found in archive", target.edition)
}

func (u *GeoLiteUpdater) buildDownloadURL(edition string) string {
	query := url.Values{}
	query.Set("edition_id", edition)
	query.Set("license_key", u.licenseKey)
	query.Set("suffix", "tar.gz")
	return u.downloadURL + "?" + query.Encode()
}

// replaceFile writes data next to destPath and renames it into place so
// readers never see a partial database.
func replaceFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return os.Rename(tmpFile.Name(), destPath)
}
