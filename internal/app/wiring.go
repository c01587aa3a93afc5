package app

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"socwatch/internal/config"
	"socwatch/internal/forward"
	"socwatch/internal/geo"
	gqlschema "socwatch/internal/graphql"
	"socwatch/internal/ingest"
	"socwatch/internal/jobs/runtime"
	"socwatch/internal/metrics"
	"socwatch/internal/notify"
)

func openTailer(cfg config.Config) *ingest.Tailer {
	streams := make([]ingest.Stream, 0, len(cfg.Streams))
	for _, stream := range cfg.Streams {
		streams = append(streams, ingest.Stream{Name: stream.Name, Path: stream.Path})
	}
	return ingest.OpenTailer(streams)
}

// geoSetup is the geolocation stack: the provider, plus the GeoLite refresh
// job when the local database is in use.
type geoSetup struct {
	provider geo.Provider
	geoLite  *geo.GeoLiteProvider
	updater  *geo.GeoLiteUpdater
}

func (g geoSetup) Close() {
	if g.geoLite != nil {
		if err := g.geoLite.Close(); err != nil {
			log.Warn("error closing GeoLite database", "error", err)
		}
	}
}

// runUpdates refreshes the GeoLite databases until ctx ends. It returns at
// once when the HTTP provider is in use.
func (g geoSetup) runUpdates(ctx context.Context, interval time.Duration) {
	if g.geoLite == nil || g.updater == nil {
		return
	}
	runtime.StartGeoLiteUpdateRoutine(ctx, g.updater, g.geoLite, interval)
}

// buildGeoProvider prefers the local GeoLite database, downloading it first
// when a license key is available, and falls back to the HTTP service when no
// database is configured or it cannot be opened.
func buildGeoProvider(ctx context.Context, cfg config.Config) geoSetup {
	path := strings.TrimSpace(cfg.Geo.GeoLitePath)
	if path == "" {
		return geoSetup{provider: geo.NewIPAPIProvider(cfg.Geo.ProviderURL, cfg.GeoTimeout())}
	}

	updater := geo.NewGeoLiteUpdater(cfg.Geo.LicenseKey, path, cfg.Geo.GeoLiteASNPath)
	if updater.Missing() {
		runtime.RunGeoLiteUpdate(ctx, updater, nil, "startup")
	}

	provider, err := geo.OpenGeoLiteProvider(path, cfg.Geo.GeoLiteASNPath)
	if err != nil {
		log.Warn("GeoLite database unavailable, using HTTP geolocation", "path", path, "error", err)
		return geoSetup{provider: geo.NewIPAPIProvider(cfg.Geo.ProviderURL, cfg.GeoTimeout())}
	}

	log.Info("Using GeoLite database for geolocation", "path", path)
	return geoSetup{provider: provider, geoLite: provider, updater: updater}
}

func buildEnricher(setup geoSetup, cfg config.Config, redisClient *redis.Client, m *metrics.Metrics) *geo.Enricher {
	opts := []geo.Option{
		geo.WithCacheSize(cfg.Geo.CacheSize),
		geo.WithCacheTTL(cfg.GeoCacheTTL()),
		geo.WithMetrics(m),
	}
	if redisClient != nil {
		opts = append(opts, geo.WithRedis(redisClient))
	}

	return geo.NewEnricher(setup.provider, opts...)
}

func buildMailer(cfg config.Config) *notify.Mailer {
	if cfg.Mail.Username == "" || cfg.Mail.Password == "" {
		log.Warn("Email credentials not set, critical alerts will not be mailed")
	}
	return notify.NewMailer(notify.SMTPConfig{
		Server:   cfg.Mail.Server,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		Timeout:  cfg.MailTimeout(),
	})
}

// buildForwarder connects every configured sink. A sink that cannot be set up
// is logged and left out.
func buildForwarder(cfg config.Config, redisClient *redis.Client, m *metrics.Metrics) *forward.Forwarder {
	var sinks []forward.Sink

	if redisClient != nil && strings.TrimSpace(cfg.Forward.RedisChannel) != "" {
		if sink, err := forward.NewRedisSink(redisClient, cfg.Forward.RedisChannel); err != nil {
			log.Warn("Redis alert forwarding disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}

	if strings.TrimSpace(cfg.Forward.NatsURL) != "" {
		if sink, err := forward.NewNatsSink(cfg.Forward.NatsURL, cfg.Forward.NatsSubject); err != nil {
			log.Warn("NATS alert forwarding disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}

	if len(cfg.Forward.KafkaBrokers) > 0 {
		if sink, err := forward.NewKafkaSink(cfg.Forward.KafkaBrokers, cfg.Forward.KafkaTopic); err != nil {
			log.Warn("Kafka alert forwarding disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}

	forwarder := forward.NewForwarder(m, sinks...)
	if forwarder.Sinks() > 0 {
		log.Info("Alert forwarding enabled", "sinks", forwarder.Sinks())
	}
	return forwarder
}

func pipelineSettings(cfg config.Config) runtime.Settings {
	return runtime.Settings{
		RiskThreshold:  cfg.Pipeline.RiskThreshold,
		AlertRecipient: cfg.Pipeline.AlertRecipient,
		PollInterval:   cfg.PollInterval(),
	}
}

// activeInstances is nil without Redis, which leaves the count out of /healthz.
func activeInstances(client *redis.Client) func(ctx context.Context) (int, error) {
	if client == nil {
		return nil
	}
	return func(ctx context.Context) (int, error) {
		return runtime.CountActiveInstances(ctx, client)
	}
}

func apiLimits(cfg config.Config) gqlschema.Limits {
	return gqlschema.Limits{
		CriticalThreshold: cfg.API.CriticalThreshold,
		DefaultLimit:      cfg.API.DefaultLimit,
		MaxLimit:          cfg.API.MaxLimit,
	}
}

func databaseHealth(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
