package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"socwatch/internal/app/server"
	"socwatch/internal/app/version"
	"socwatch/internal/auth"
	"socwatch/internal/config"
	"socwatch/internal/database"
	"socwatch/internal/detection"
	"socwatch/internal/jobs/runtime"
	"socwatch/internal/metrics"
	"socwatch/internal/support"
)

const (
	defaultAPIPort = 8082
	operatorRole   = "operator"
)

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	apiPortFlag := flag.Int("api-port", defaultAPIPort, "Port for the read API")
	productionFlag := flag.Bool("production", support.GetEnvBool("PRODUCTION", false), "Run in production mode")
	settingsFlag := flag.String("settings", config.DefaultSettingsPath, "Path to the settings file")
	issueTokenFlag := flag.String("issue-token", "", "Print an operator API token for the given subject and exit")
	versionFlag := flag.Bool("version", false, "Print the build version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Get())
		return nil
	}

	config.SetProductionMode(*productionFlag)
	log.SetLevel(resolveLogLevel(os.Getenv("LOG_LEVEL"), *productionFlag))

	if subject := strings.TrimSpace(*issueTokenFlag); subject != "" {
		token, err := auth.GenerateJWT(subject, operatorRole, support.GetEnvSeconds("API_TOKEN_TTL_SECONDS", auth.DefaultTokenTTL))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	if err := config.ReadSettings(*settingsFlag); err != nil {
		log.Error("Failed to read settings, using defaults", "path", *settingsFlag, "error", err)
	}
	cfg := config.GetConfig()

	apiPort := resolvePort("API_PORT", "PORT", *apiPortFlag)

	db, err := database.SetupDB()
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	store := database.NewAlertStore(db)

	redisClient, err := support.GetRedisClient()
	switch {
	case errors.Is(err, support.ErrRedisDisabled):
		log.Info("Redis not configured, running as a standalone instance")
	case err != nil:
		log.Warn("Redis unavailable, running as a standalone instance", "error", err)
		redisClient = nil
	}
	defer func() {
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting socwatch", "version", version.Get().BuildVersion, "production", config.InProductionMode)

	heartbeatCancel := runtime.LaunchInstanceHeartbeat(ctx, redisClient)
	defer heartbeatCancel()

	if redisClient != nil {
		stopSync, err := config.EnableRedisSync(ctx, redisClient)
		if err != nil {
			log.Warn("Settings will not be shared between instances", "error", err)
		}
		defer stopSync()
		cfg = config.GetConfig()
	}

	m := metrics.NewMetrics()

	tailer := openTailer(cfg)
	defer func() {
		if err := tailer.Close(); err != nil {
			log.Warn("error closing log streams", "error", err)
		}
	}()

	geoStack := buildGeoProvider(ctx, cfg)
	defer geoStack.Close()
	enricher := buildEnricher(geoStack, cfg, redisClient, m)

	forwarder := buildForwarder(cfg, redisClient, m)
	defer func() {
		if err := forwarder.Close(); err != nil {
			log.Warn("error closing forward sinks", "error", err)
		}
	}()

	coordinator := runtime.NewCoordinator(runtime.Deps{
		Source:       tailer,
		Classifier:   detection.LoadClassifier(cfg.Pipeline.ModelPath),
		Scorer:       detection.NewRiskScorer(nil),
		Geo:          enricher,
		Store:        store,
		Notifier:     buildMailer(cfg),
		Forwarder:    forwarder,
		Metrics:      m,
		Settings:     pipelineSettings(cfg),
		LiveSettings: func() runtime.Settings { return pipelineSettings(config.GetConfig()) },
	})

	router, err := server.NewRouter(server.Options{
		Store:     store,
		Metrics:   m,
		Limits:    apiLimits(cfg),
		Health:    databaseHealth(db),
		Instances: activeInstances(redisClient),
		Settings:  config.Shared{},
	})
	if err != nil {
		return err
	}

	err = runWorkers(ctx,
		func(ctx context.Context) error {
			return runtime.StartCoordinator(ctx, coordinator, redisClient)
		},
		func(ctx context.Context) error {
			return server.OpenRoutes(ctx, apiPort, router)
		},
		func(ctx context.Context) {
			geoStack.runUpdates(ctx, cfg.GeoLiteUpdateInterval())
		},
	)
	log.Info("socwatch stopped")
	return err
}

// runWorkers runs the coordinator next to the read API and the GeoLite
// refresh. Only the coordinator's error ends the group; an API failure is
// logged and the pipeline keeps running.
func runWorkers(ctx context.Context, coordinator, api func(context.Context) error, geoUpdates func(context.Context)) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return coordinator(groupCtx)
	})
	group.Go(func() error {
		if err := api(groupCtx); err != nil {
			log.Error("Read API stopped, pipeline keeps running", "error", err)
		}
		return nil
	})
	group.Go(func() error {
		geoUpdates(groupCtx)
		return nil
	})
	return group.Wait()
}

func resolveLogLevel(raw string, production bool) log.Level {
	if raw = strings.TrimSpace(raw); raw != "" {
		level, err := log.ParseLevel(strings.ToLower(raw))
		if err == nil {
			return level
		}
		log.Warn("invalid LOG_LEVEL, using default", "value", raw)
	}
	if production {
		return log.InfoLevel
	}
	return log.DebugLevel
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
