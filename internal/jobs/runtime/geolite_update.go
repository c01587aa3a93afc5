package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"socwatch/internal/geo"
)

type GeoLiteUpdater interface {
	Update(ctx context.Context) error
}

type GeoLiteReloader interface {
	Reload() error
}

// StartGeoLiteUpdateRoutine refreshes the GeoLite databases every interval and
// reloads the provider after each successful download.
func StartGeoLiteUpdateRoutine(ctx context.Context, updater GeoLiteUpdater, provider GeoLiteReloader, interval time.Duration) {
	if interval <= 0 {
		log.Debug("GeoLite auto update disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RunGeoLiteUpdate(ctx, updater, provider, "scheduled")
		}
	}
}

// RunGeoLiteUpdate performs one update and reports whether the provider now
// serves fresh data.
func RunGeoLiteUpdate(ctx context.Context, updater GeoLiteUpdater, provider GeoLiteReloader, reason string) bool {
	err := updater.Update(ctx)
	switch {
	case errors.Is(err, geo.ErrNoLicenseKey):
		log.Debug("GeoLite update skipped: license key missing", "reason", reason)
		return false
	case err != nil:
		log.Error("GeoLite update failed", "reason", reason, "error", err)
		return false
	}

	if provider != nil {
		if err := provider.Reload(); err != nil {
			log.Error("GeoLite reload failed", "reason", reason, "error", err)
			return false
		}
	}

	log.Info("GeoLite databases updated", "reason", reason)
	return true
}
