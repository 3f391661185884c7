package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clipdeck/server/internal/api/handlers"
	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/auth"
	"github.com/clipdeck/server/internal/config"
	"github.com/clipdeck/server/internal/domain/clipboard"
	"github.com/clipdeck/server/internal/domain/users"
	"github.com/clipdeck/server/internal/files"
	"github.com/clipdeck/server/internal/ratelimit"
	"github.com/clipdeck/server/internal/realtime"
	"github.com/clipdeck/server/internal/retention"
	"github.com/clipdeck/server/internal/storage"
	"github.com/clipdeck/server/internal/storage/bolt"
	"github.com/clipdeck/server/internal/storage/memory"
	"github.com/clipdeck/server/internal/storage/postgres"
	redisstore "github.com/clipdeck/server/internal/storage/redis"
)

// app holds the wired services shared by the serve and sweep commands.
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	store    storage.Store
	windows  ratelimit.Store
	uploads  files.Store
	registry *realtime.Registry
	events   *realtime.Router

	users     *users.Service
	authn     *auth.Authenticator
	clipboard *clipboard.Service
	governor  *ratelimit.Governor
	recorder  *audit.Recorder
	sweeper   *retention.Sweeper

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	if needsPool(cfg) {
		pool, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return err
		}
		a.pool = pool
		a.onClose(func() error { pool.Close(); return nil })
	}

	switch cfg.Storage.Driver {
	case "postgres":
		repo, err := postgres.NewRepository(a.pool)
		if err != nil {
			return fmt.Errorf("init repository: %w", err)
		}
		a.store = repo
	default:
		a.logger.Warn().Msg("using in-memory storage; data is lost on restart")
		a.store = memory.New()
	}

	windows, err := a.openWindowStore(ctx)
	if err != nil {
		return err
	}
	a.windows = windows

	uploads, err := openUploads(cfg.Uploads)
	if err != nil {
		return err
	}
	a.uploads = uploads

	a.registry = realtime.NewRegistry()
	a.events = realtime.NewRouter(a.registry, a.logger)

	a.users = users.NewService(a.store, audit.NewLogger(a.logger), cfg.Auth.BcryptCost, a.logger)
	var jwt *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwt, err = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, "clipdeck")
		if err != nil {
			return fmt.Errorf("init session tokens: %w", err)
		}
	}
	a.authn = auth.NewAuthenticator(a.users, jwt)

	a.clipboard = clipboard.NewService(a.store, a.uploads, a.events, clipboard.Config{
		MaxFileSize: cfg.Uploads.MaxFileSize,
	}, a.logger)

	a.governor = ratelimit.NewGovernor(a.windows, ratelimit.Config{
		MaxRequests:   cfg.RateLimit.MaxRequests,
		Window:        cfg.RateLimit.Window,
		BlockDuration: cfg.RateLimit.BlockDuration,
	}, a.logger)

	a.recorder = audit.NewRecorder(a.store, cfg.AccessLog.BufferSize, cfg.AccessLog.WriteTimeout, a.logger)
	a.onClose(a.recorder.Close)

	a.sweeper = retention.NewSweeper(a.store, a.uploads, a.events,
		retention.Policy{ThresholdDays: cfg.Retention.Days},
		a.logger,
		retention.WithConcurrency(cfg.Retention.Concurrency),
	)
	return nil
}

func needsPool(cfg config.Config) bool {
	return cfg.Storage.Driver == "postgres" || cfg.RateLimitStore() == "postgres" || cfg.Jobs.Backend == "river"
}

func (a *app) openWindowStore(ctx context.Context) (ratelimit.Store, error) {
	cfg := a.cfg
	switch backend := cfg.RateLimitStore(); backend {
	case "postgres":
		return postgres.NewWindowStore(a.pool), nil
	case "redis":
		store, err := redisstore.New(ctx, redisstore.Config{
			URL:       cfg.Storage.RedisURL,
			KeyPrefix: "clipdeck:ratelimit:",
			TTL:       cfg.RateLimit.RedisTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis window store: %w", err)
		}
		a.onClose(store.Close)
		return store, nil
	case "bolt":
		store, err := bolt.Open(cfg.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt window store: %w", err)
		}
		a.onClose(store.Close)
		return store, nil
	default:
		return ratelimit.NewMemoryStore(), nil
	}
}

func openUploads(cfg config.UploadConfig) (files.Store, error) {
	if cfg.Driver == "s3" {
		store, err := files.NewS3Store(files.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 uploads: %w", err)
		}
		return store, nil
	}
	store, err := files.NewDiskStore(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// healthChecker registers the readiness checks that apply to this wiring.
func (a *app) healthChecker() *handlers.HealthChecker {
	checker := handlers.NewHealthChecker(Version, GitCommit)
	if a.pool != nil {
		checker.Register("database", handlers.DatabaseCheck(a.pool))
		checker.Register("migrations", handlers.MigrationCheck(a.pool))
		if a.cfg.Jobs.Backend == "river" {
			checker.Register("job_queue", handlers.JobQueueCheck(a.pool))
		}
	} else {
		checker.Register("storage", handlers.StaticCheck("pass", "in-memory store"))
	}
	return checker
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error().Err(err).Msg("shutdown step failed")
		}
	}
	a.closers = nil
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
