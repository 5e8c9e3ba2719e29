// Package app wires Ely's components together: storage, the memory cache,
// the LLM provider, the session orchestrator, the Matrix gateway and the
// health server.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bdobrica/Ely/common/redact"
	"github.com/bdobrica/Ely/common/retry"
	"github.com/bdobrica/Ely/common/version"
	"github.com/bdobrica/Ely/internal/ely/config"
	"github.com/bdobrica/Ely/internal/ely/llm"
	"github.com/bdobrica/Ely/internal/ely/matrix"
	"github.com/bdobrica/Ely/internal/ely/memory"
	"github.com/bdobrica/Ely/internal/ely/session"
	"github.com/bdobrica/Ely/internal/ely/store"
)

// App is the running chat daemon.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *store.Store
	cache   *memory.Cache
	gateway *matrix.Gateway
	health  *HealthServer
}

// New builds every component but starts nothing.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.ValidateBot(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}
	logger.Info("starting Ely", version.Fields()...)
	logger.Info("effective configuration", "config", redact.Map(cfg.Summary()))

	db, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	records, err := OpenMemoryStore(cfg.Storage, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	cache := memory.NewCache(records,
		memory.WithLogger(logger),
		memory.WithMetrics(memory.NewMetrics(reg)),
	)

	provider, err := llm.New(cfg.LLM, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	rc := retry.DefaultConfig
	rc.MaxAttempts = cfg.LLM.MaxAttempts
	orch := session.New(session.Config{
		Memory:       cache,
		Provider:     provider,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Retry:        rc,
		Metrics:      session.NewMetrics(reg),
		Logger:       logger,
	})

	gw, err := matrix.New(matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		Rooms:       cfg.Matrix.Rooms,
		DB:          db.DB(),
		Language:    cfg.Matrix.Language,
		RateLimit:   cfg.Matrix.RateLimit,
		Secrets:     []string{cfg.LLM.APIKey},
		Logger:      logger,
	}, orch)
	if err != nil {
		db.Close()
		return nil, err
	}

	var health *HealthServer
	if cfg.HTTP.Addr != "" {
		health = NewHealthServer(cfg.HTTP.Addr, cache, reg, logger)
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		cache:   cache,
		gateway: gw,
		health:  health,
	}, nil
}

// Run starts the health server and the gateway, then blocks until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	if err := a.gateway.Start(ctx); err != nil {
		return fmt.Errorf("app: start matrix gateway: %w", err)
	}
	a.logger.Info("Ely is running; press Ctrl+C to stop",
		"backend", a.cfg.Storage.Backend, "provider", a.cfg.LLM.Provider)

	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

// Stop drains the gateway, stops the health server and closes the
// database, in that order.
func (a *App) Stop() {
	a.logger.Info("stopping Matrix gateway")
	a.gateway.Stop()

	if a.health != nil {
		a.health.Stop()
	}

	a.logger.Info("closing database")
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", "err", err)
	}
}
