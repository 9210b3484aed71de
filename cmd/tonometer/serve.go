package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/tonometer/internal/bot"
	"github.com/Veraticus/tonometer/internal/config"
	"github.com/Veraticus/tonometer/internal/engine"
	"github.com/Veraticus/tonometer/internal/httpapi"
	"github.com/Veraticus/tonometer/internal/logging"
	"github.com/Veraticus/tonometer/internal/queue"
	"github.com/Veraticus/tonometer/internal/signal"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to signal-cli and answer users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, v)
		},
	}
}

// serve runs the bot until ctx is cancelled or the Signal subscription ends.
func serve(ctx context.Context, v *viper.Viper) error {
	cfg, path, err := loadConfig(v)
	if err != nil {
		return err
	}

	logs, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logs.Close() }()
	slog.SetDefault(logs.Slog())
	logger := logs.Slog().With(slog.String("component", "main"))

	logger.InfoContext(ctx, "tonometer starting",
		slog.String("version", version),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("sessions", cfg.Sessions.Backend))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, storeCloser, err := openStore(ctx, cfg, logs.Slog())
	if err != nil {
		return err
	}
	defer func() { _ = storeCloser.Close() }()

	sessions, sessionsCloser, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sessionsCloser.Close() }()

	eng, err := engine.New(store, sessions, engine.WithLocation(loc), engine.WithLogger(logs.Slog()))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	transport, err := signal.NewUnixSocketTransport(ctx, cfg.Signal.SocketPath)
	if err != nil {
		return fmt.Errorf("connect to signal-cli: %w", err)
	}
	client := signal.NewClient(transport, signal.WithAccount(cfg.Signal.Account))
	defer func() { _ = client.Close() }()

	messenger := signal.NewMessenger(client, cfg.Signal.Account,
		signal.WithAttachmentDir(cfg.Signal.AttachmentDir))

	responder, err := bot.NewResponder(eng, messenger)
	if err != nil {
		return fmt.Errorf("create responder: %w", err)
	}

	// The queue outlives ctx so in-flight turns can finish during shutdown.
	queueCtx := context.WithoutCancel(ctx)
	manager := queue.NewManager(queueCtx)
	go manager.Start()

	limiter := queue.NewRateLimiter(cfg.Queue.RatePerMinute, cfg.Queue.Burst)
	pool, err := queue.NewWorkerPool(queue.PoolConfig{
		Manager:     manager,
		Processor:   responder,
		RateLimiter: limiter,
		Logger:      logs.Slog(),
		Size:        cfg.Queue.Workers,
	})
	if err != nil {
		_ = manager.Shutdown(cfg.ShutdownTimeout)
		return fmt.Errorf("create worker pool: %w", err)
	}
	pool.Start(queueCtx)

	handler, err := signal.NewHandler(messenger, bot.NewInbox(manager), signal.WithLogger(logs.Slog()))
	if err != nil {
		_ = manager.Shutdown(cfg.ShutdownTimeout)
		pool.Stop()
		return fmt.Errorf("create signal handler: %w", err)
	}

	if path != "" {
		watchConfig(ctx, path, logs, limiter, logger)
	}

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 2)
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := handler.Start(runCtx); err != nil {
			errs <- fmt.Errorf("signal handler: %w", err)
		}
	}()

	var server *httpapi.Server
	if cfg.HTTP.Enabled {
		server = httpapi.NewServer(cfg.HTTP.Listen, httpapi.NewRouter(store, logs.Slog()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(runCtx); err != nil {
				errs <- err
			}
		}()
	}

	logger.InfoContext(ctx, "tonometer started, listening for messages")

	var runErr error
	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "shutting down gracefully")
	case runErr = <-errs:
		logger.ErrorContext(ctx, "component failed, shutting down", slog.Any("error", runErr))
	}
	cancel()

	//nolint:contextcheck // the parent context is already cancelled
	shutdownErr := shutdown(cfg, logger, server, manager, pool)
	wg.Wait()

	logger.Info("shutdown complete")
	return errors.Join(runErr, shutdownErr)
}

// shutdown stops intake, lets workers take every queued message and waits for
// them to finish, bounded by cfg.ShutdownTimeout. Messages still queued at the
// deadline are dropped and reported by the queue.
func shutdown(cfg *config.Config, logger *slog.Logger, server *httpapi.Server, manager *queue.Manager, pool *queue.WorkerPool) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	deadline, _ := ctx.Deadline()
	if err := manager.Shutdown(time.Until(deadline)); err != nil {
		errs = append(errs, fmt.Errorf("queue shutdown: %w", err))
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown timeout exceeded, abandoning in-flight messages")
		errs = append(errs, ctx.Err())
	}

	return errors.Join(errs...)
}

// watchConfig applies logging level and rate limit changes when the config
// file changes. Other settings need a restart.
func watchConfig(ctx context.Context, path string, logs *logging.Logger, limiter *queue.ConversationRateLimiter, logger *slog.Logger) {
	mgr, err := config.NewManager(path, logs.Slog())
	if err != nil {
		logger.WarnContext(ctx, "config hot reload disabled", slog.Any("error", err))
		return
	}

	mgr.OnChange(func(cfg *config.Config) {
		if err := logs.SetLevel(cfg.Logging.Level); err != nil {
			logger.Warn("ignoring log level change", slog.Any("error", err))
		}
		limiter.SetLimits(cfg.Queue.RatePerMinute, cfg.Queue.Burst)
		logger.Info("settings reloaded",
			slog.String("level", cfg.Logging.Level),
			slog.Int("rate_per_minute", cfg.Queue.RatePerMinute),
			slog.Int("burst", cfg.Queue.Burst))
	})

	if err := mgr.Watch(ctx); err != nil {
		logger.WarnContext(ctx, "config hot reload disabled", slog.Any("error", err))
	}
}
