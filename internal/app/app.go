package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/metrics"
	"github.com/vovakirdan/wirerelay/internal/store"
	"github.com/vovakirdan/wirerelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirerelay/internal/transport/http"
)

// App wires together store, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	metricsInterval time.Duration
	hub             *core.Hub
	store           store.Store
	metrics         *metrics.Metrics
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	// Initialize database store
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	m := metrics.New()
	hub := core.NewHub(core.HubConfig{
		SendBuffer:       cfg.SendBuffer,
		MaxContentLength: cfg.MaxContentLength,
	}, core.NewStoreOracle(st, st), st, logger, m)
	server := transporthttp.NewServer(hub, st, cfg, m, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		metricsInterval: cfg.MetricsInterval,
		hub:             hub,
		store:           st,
		metrics:         m,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	reportCtx, stopReport := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.metrics.Report(reportCtx, a.metricsInterval, a.log)
	}()
	defer func() {
		stopReport()
		wg.Wait()
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		a.cleanup(shutdownCtx)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Shutdown leaves hijacked WebSocket connections to the hub.
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup(shutdownCtx)
			return err
		}

		a.cleanup(shutdownCtx)
		return <-serverErr
	}
}

// cleanup drains live sessions, then closes database and other resources.
func (a *App) cleanup(ctx context.Context) {
	stats := a.hub.Registry().Stats()
	a.log.Info().Int("users", stats.Users).Int("connections", stats.Connections).Msg("registry at shutdown")

	if err := a.hub.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("sessions still open at store close")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
