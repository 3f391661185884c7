package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clipdeck/server/internal/api"
	"github.com/clipdeck/server/internal/api/middleware"
	"github.com/clipdeck/server/internal/clientip"
	"github.com/clipdeck/server/internal/config"
	"github.com/clipdeck/server/internal/jobs"
	"github.com/clipdeck/server/internal/metrics"
	"github.com/clipdeck/server/internal/realtime"
	"github.com/clipdeck/server/internal/retention"
	"github.com/clipdeck/server/internal/telemetry"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the clipboard HTTP server",
		Long: `Start the clipboard HTTP and websocket server.

The server will:
- Load configuration from environment variables (or --config file if provided)
- Create the admin and default users from ADMIN_API_KEY / CLIPBOARD_API_KEY
- Serve the REST API and the /ws event stream
- Run the daily retention sweep and rate-limit window pruning
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  clipdeck serve

  # Start on a specific host and port
  clipdeck serve --host 127.0.0.1 --port 9090

  # Start with a config file and debug logging
  clipdeck serve --config /etc/clipdeck/config.yaml --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
	cmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 3000)")
	return cmd
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Str("environment", cfg.Environment).Msg("starting clipdeck server")

	metrics.Init(Version, GitCommit, BuildDate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, scancel := shutdownContext()
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	initCtx, initCancel := context.WithTimeout(ctx, 15*time.Second)
	a, err := newApp(initCtx, cfg, logger)
	if err != nil {
		initCancel()
		return err
	}
	defer a.close()

	if err := a.users.Bootstrap(initCtx, cfg.Bootstrap.AdminAPIKey, cfg.Bootstrap.ClipboardAPIKey); err != nil {
		initCancel()
		return fmt.Errorf("bootstrap users: %w", err)
	}
	initCancel()

	a.recorder.Start()

	if a.pool != nil {
		dbCollector := metrics.NewDBCollector(a.pool)
		go dbCollector.Start(ctx, 15*time.Second)
		defer dbCollector.Stop()
		logger.Info().Msg("database metrics collector started")
	}

	stopJobs, err := startJobs(ctx, a)
	if err != nil {
		return err
	}
	defer stopJobs()

	resolver := clientip.NewResolver(cfg.Server.TrustedProxies)
	wsHandler := realtime.NewHandler(a.registry, a.authn, resolver, realtime.HandlerConfig{
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		SendBuffer:     cfg.Realtime.SendBuffer,
		PingInterval:   cfg.Realtime.PingInterval,
	}, logger)
	handshakes := middleware.NewHandshakeThrottle(cfg.Realtime.HandshakesPerMinute, resolver)
	defer handshakes.Stop()

	handler, err := api.NewRouter(api.Deps{
		Config:        cfg,
		Logger:        logger,
		Version:       Version,
		GitCommit:     GitCommit,
		BuildDate:     BuildDate,
		Authenticator: a.authn,
		Users:         a.users,
		Clipboard:     a.clipboard,
		MaxFileSize:   a.clipboard.MaxFileSize(),
		Sessions:      a.registry,
		Realtime:      wsHandler,
		Handshakes:    handshakes,
		Governor:      a.governor,
		Windows:       a.windows,
		Recorder:      a.recorder,
		AccessLog:     a.store,
		Health:        a.healthChecker(),
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	err = gracefulShutdown(server, errCh, logger)
	wsHandler.Close()
	return err
}

// startJobs runs the retention sweep and window pruning on the configured
// backend and returns a function that stops it.
func startJobs(ctx context.Context, a *app) (func(), error) {
	cfg := a.cfg
	loc, err := time.LoadLocation(cfg.Retention.Timezone)
	if err != nil {
		return nil, fmt.Errorf("retention timezone: %w", err)
	}
	schedule, err := retention.NewDailySchedule(cfg.Retention.RunAt, loc)
	if err != nil {
		return nil, err
	}

	if cfg.Jobs.Backend == "river" {
		return startRiver(ctx, a, schedule)
	}

	scheduler := jobs.NewScheduler(loc, a.logger)
	scheduler.Schedule(jobs.JobKindRetentionSweep, schedule, jobs.SweepTask(a.sweeper))
	if cfg.Jobs.WindowPruneInterval > 0 {
		scheduler.Every(jobs.JobKindWindowPrune, cfg.Jobs.WindowPruneInterval, jobs.PruneTask(a.governor))
	}
	scheduler.Start()
	next, _ := scheduler.Next(jobs.JobKindRetentionSweep)
	a.logger.Info().
		Int("retention_days", cfg.Retention.Days).
		Time("next_sweep", next).
		Msg("in-process scheduler started")

	return func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		if err := scheduler.Stop(sctx); err != nil {
			a.logger.Error().Err(err).Msg("scheduler shutdown error")
		}
	}, nil
}

func startRiver(ctx context.Context, a *app, schedule river.PeriodicSchedule) (func(), error) {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	workers := jobs.NewWorkers(a.sweeper, a.governor, slogger)
	client, err := jobs.NewClient(a.pool, workers, slogger,
		[]rivertype.Hook{metrics.NewRiverMetricsHook()},
		jobs.NewPeriodicJobs(schedule, a.cfg.Jobs.WindowPruneInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("river workers failed to start: %w", err)
	}
	a.logger.Info().Msg("river background job workers started")

	return func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		if err := client.Stop(sctx); err != nil {
			a.logger.Error().Err(err).Msg("river workers shutdown error")
			return
		}
		a.logger.Info().Msg("river workers stopped")
	}, nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func gracefulShutdown(server *http.Server, errCh <-chan error, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
		return err
	case <-stop:
	}
	logger.Info().Msg("shutting down")

	ctx, cancel := shutdownContext()
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
