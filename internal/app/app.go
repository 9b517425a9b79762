// Package app provides application initialization and dependency wiring.
//
// Setup builds the full object graph: configuration, migrations, the
// PostgreSQL pool, the Redis client, Genkit with the configured AI
// provider, the stores, and the HTTP server. Close releases everything
// in reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/thinkabit/questy/db"
	"github.com/thinkabit/questy/internal/api"
	"github.com/thinkabit/questy/internal/audit"
	"github.com/thinkabit/questy/internal/config"
	"github.com/thinkabit/questy/internal/history"
	"github.com/thinkabit/questy/internal/knowledge"
	"github.com/thinkabit/questy/internal/log"
	"github.com/thinkabit/questy/internal/quiz"
	"github.com/thinkabit/questy/internal/reasoning"
	"github.com/thinkabit/questy/internal/safety"
	"github.com/thinkabit/questy/internal/scores"
	"github.com/thinkabit/questy/internal/session"
	"github.com/thinkabit/questy/internal/tutor"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger
	Server *api.Server

	pool *pgxpool.Pool
	rdb  *redis.Client
	addr string
}

// Setup creates and initializes the application.
// Call Close to release resources.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	a := &App{Config: cfg, Logger: logger, addr: cfg.ListenAddr}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := providePool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	rdb, err := provideRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	reasoner := reasoning.New(g, providerModelName(cfg), nil, logger.With("component", "reasoning"))
	retriever := knowledge.New(pool, embedder, logger.With("component", "knowledge"))
	transcripts := history.New(pool, logger.With("component", "history"))
	sessions := session.New(rdb, logger.With("component", "session"))
	flags := audit.New(pool, logger.With("component", "audit"))
	scoreStore := scores.New(pool, logger.With("component", "scores"))

	gate := safety.NewGate(flags, logger.With("component", "safety"))
	orchestrator := tutor.New(retriever, reasoner, transcripts, gate, logger.With("component", "tutor"))
	engine := quiz.New(sessions, reasoner, scoreStore, logger.With("component", "quiz"))

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Chat:        orchestrator,
		Quiz:        engine,
		Transcripts: transcripts,
		Flags:       flags,
		Scores:      scoreStore,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	a.Server = server

	return a, nil
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.addr,
		Handler:           a.Server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("listening", "addr", a.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving HTTP: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}

// Close releases all resources.
func (a *App) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.Logger.Warn("closing redis client", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func provideRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
