package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"socwatch/internal/auth"
	"socwatch/internal/database"
	gqlschema "socwatch/internal/graphql"
	"socwatch/internal/metrics"
)

const (
	operatorRole    = "operator"
	shutdownTimeout = 10 * time.Second
)

// AlertStore is the read side of the alert database plus the operator status
// transition.
type AlertStore interface {
	gqlschema.AlertReader
	MapPoints(ctx context.Context) ([]database.MapPoint, error)
}

type Options struct {
	Store   AlertStore
	Metrics *metrics.Metrics
	Limits  gqlschema.Limits
	// Health reports whether the backing services are reachable. Nil means
	// always healthy.
	Health func(ctx context.Context) error
	// Instances counts live instances for /healthz. Optional.
	Instances func(ctx context.Context) (int, error)
	// Settings enables /api/settings when set.
	Settings PipelineSettings
}

type api struct {
	store     AlertStore
	limits    gqlschema.Limits
	health    func(ctx context.Context) error
	instances func(ctx context.Context) (int, error)
	settings  PipelineSettings
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the read API served next to the pipeline.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Store == nil {
		return nil, errors.New("server: alert store is required")
	}

	a := &api{
		store:     opts.Store,
		limits:    opts.Limits,
		health:    opts.Health,
		instances: opts.Instances,
		settings:  opts.Settings,
	}

	graphQL, err := newGraphQLHandler(opts.Store, opts.Limits)
	if err != nil {
		return nil, fmt.Errorf("server: build graphql schema: %w", err)
	}

	router := http.NewServeMux()
	router.HandleFunc("GET /healthz", a.healthz)
	router.Handle("GET /metrics", opts.Metrics.Handler())

	router.Handle("GET /api/alerts", auth.RequireAuthIfEnabled(http.HandlerFunc(a.listAlerts)))
	router.Handle("GET /api/alerts/{id}", auth.RequireAuthIfEnabled(http.HandlerFunc(a.getAlert)))
	router.Handle("GET /api/stats", auth.RequireAuthIfEnabled(http.HandlerFunc(a.getStats)))
	router.Handle("GET /api/map", auth.RequireAuthIfEnabled(http.HandlerFunc(a.getMap)))
	router.Handle("POST /api/alerts/{id}/status", auth.RequireRole(operatorRole)(http.HandlerFunc(a.updateAlertStatus)))

	if a.settings != nil {
		router.Handle("GET /api/settings", auth.RequireAuthIfEnabled(http.HandlerFunc(a.getSettings)))
		router.Handle("POST /api/settings", auth.RequireRole(operatorRole)(http.HandlerFunc(a.updateSettings)))
	}

	router.Handle("POST /graphql", auth.RequireAuthIfEnabled(graphQL))

	log.Debug("Routes opened")
	return enableCORS(router), nil
}

// OpenRoutes serves handler on port until ctx is cancelled.
func OpenRoutes(ctx context.Context, port int, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting socwatch API on port :%d", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		log.Info("API server stopped")
		return nil
	}
}
