// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rchandramouli/gweb-app/gweb"
	"github.com/rchandramouli/gweb-app/internal/config"
)

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Pool       *pgxpool.Pool // nil when running on SQLite
	DB         *sql.DB
	Engine     *gweb.Engine
	Dispatcher *gweb.Dispatcher
	Avatars    *gweb.AvatarStore
	Metrics    *PrometheusRecorder
	Handler    http.Handler
	Logger     *slog.Logger
}

// TestServer represents a running test server instance
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// SetupServer initializes all server components (database, engine, pipeline, router).
// This is the shared logic used by both main() and tests.
func SetupServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ServerComponents, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	}

	comps := &ServerComponents{Logger: logger}
	if err := comps.openDatabase(ctx, cfg); err != nil {
		return nil, err
	}

	if err := gweb.InitializeSchema(ctx, comps.DB); err != nil {
		comps.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	comps.Metrics = NewPrometheusRecorder("gweb")

	engineConfig := gweb.DefaultEngineConfig()
	engineConfig.MaxListRows = cfg.MaxListRows
	engineConfig.MaxConcurrent = int64(cfg.MaxConcurrent)
	engineConfig.SlotWait = cfg.SlotWait
	engineConfig.StageMetrics = comps.Metrics
	engineConfig.LogStageTimings = cfg.LogStageTimings

	engine, err := gweb.NewEngine(comps.DB, engineConfig, logger)
	if err != nil {
		comps.Close()
		return nil, err
	}
	comps.Engine = engine
	comps.Dispatcher = gweb.NewDispatcher(engine, logger)

	avatars, err := gweb.NewAvatarStore(comps.Dispatcher, gweb.AvatarConfig{
		CacheDir:  cfg.AvatarCacheDir,
		MountDir:  cfg.AvatarMountDir,
		Folder:    cfg.AvatarFolder,
		URLPrefix: cfg.AvatarURLPrefix,
	}, logger)
	if err != nil {
		comps.Close()
		return nil, err
	}
	comps.Avatars = avatars

	pipeline := gweb.NewPipeline(comps.Dispatcher, avatars, gweb.PipelineConfig{
		UploadPath:     cfg.UploadPath,
		ChunkSize:      cfg.ChunkSize,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(cfg.Level() <= slog.LevelDebug, comps.Metrics, logger))
	if origins := cfg.Origins(); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "Content-Range", "X-Requested-With"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", HandleHealth)
	r.Handle("/metrics", comps.Metrics.Handler())
	// Everything else belongs to the API pipeline, which answers unknown routes itself
	r.Handle("/*", pipeline)

	comps.Handler = r
	logger.Info("Server components ready", "driver", cfg.Driver, "max_list_rows", cfg.MaxListRows)
	return comps, nil
}

func (sc *ServerComponents) openDatabase(ctx context.Context, cfg *config.Config) error {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sql.Open(config.DriverSQLite, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("ping sqlite: %w", err)
		}
		sc.DB = db
		return nil

	default:
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("parse database url: %w", err)
		}
		if cfg.MaxConns > 0 {
			poolConfig.MaxConns = int32(cfg.MaxConns)
		}
		if cfg.MinConns > 0 {
			poolConfig.MinConns = int32(cfg.MinConns)
		}
		poolConfig.MaxConnLifetime = time.Hour
		poolConfig.MaxConnIdleTime = time.Minute * 30

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		sc.Pool = pool
		sc.DB = stdlib.OpenDBFromPool(pool)
		return nil
	}
}

// Close shuts down the server components and cleans up resources
func (sc *ServerComponents) Close() {
	if sc.Engine != nil {
		_ = sc.Engine.Close()
	}
	if sc.DB != nil {
		_ = sc.DB.Close()
	}
	if sc.Pool != nil {
		sc.Pool.Close()
	}
}

// NewTestServer creates a new test server instance using the shared server setup
func NewTestServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*TestServer, error) {
	components, err := SetupServer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}
