package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"whisperchat/internal/retention"
	"whisperchat/pkg/auth"
	"whisperchat/pkg/banner"
	"whisperchat/pkg/config"
	"whisperchat/pkg/logger"
	"whisperchat/pkg/presence"
	"whisperchat/pkg/relay"
	"whisperchat/pkg/state"
	"whisperchat/pkg/store"
)

// App encapsulates the relay components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	registry *presence.Registry
	pipeline *relay.Pipeline
	hub      *relay.Hub

	srv *http.Server
}

// New initializes resources that do not require a running context: state
// dirs, the store, the identity verifier, presence and the delivery
// pipeline. Call Run to start the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	cfg := eff.Config
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required (or WHISPERCHAT_JWT_SECRET)")
	}

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("state layout: %w", err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Audience, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	registry := presence.NewRegistry()
	pipeline := relay.NewPipeline(registry)
	limiter := auth.NewLimiterPool(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst)
	hub := relay.NewHub(registry, pipeline, verifier, limiter,
		cfg.HistoryLimit(), cfg.HandshakeTimeout(), cfg.Security.CORS.AllowedOrigins)

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		registry:  registry,
		pipeline:  pipeline,
		hub:       hub,
	}, nil
}

// Run starts the retention scheduler and the HTTP server, and blocks
// until ctx is cancelled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	stopRetention, err := retention.Start(ctx, a.eff.Config)
	if err != nil {
		return err
	}
	defer stopRetention()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close drains the server and releases resources.
func (a *App) Close() error {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_incomplete", "error", err)
		}
	}
	a.pipeline.Flush()
	return store.Close()
}

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.eff, verStr)
}
