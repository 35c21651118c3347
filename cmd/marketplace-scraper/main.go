package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/marketplace-scraper/internal/api"
	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/config"
	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/events"
	"github.com/maltedev/marketplace-scraper/internal/fetch"
	"github.com/maltedev/marketplace-scraper/internal/jobs"
	"github.com/maltedev/marketplace-scraper/internal/queue"
	"github.com/maltedev/marketplace-scraper/internal/service"
	"github.com/maltedev/marketplace-scraper/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.Timeout = cfg.Browser.Timeout
	browserOpts.Humanize = cfg.Browser.Humanize
	browserOpts.ProxyServer = cfg.Browser.Proxy

	factory, err := browser.NewFactory(cfg.Browser.Driver, browserOpts, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer factory.Close()

	identities := browser.NewIdentities(cfg.Scraper.UserAgents, cfg.Browser.Locale, cfg.Browser.Timezone)
	fetcher := fetch.NewClient(
		fetch.WithTimeout(cfg.Scraper.RequestTimeout),
		fetch.WithIdentities(identities),
		fetch.WithLogger(logger),
	)

	opts := []service.Option{service.WithLogger(logger)}
	if cfg.Storage.ResultsDir != "" {
		results, err := storage.NewResultStore(cfg.Storage.ResultsDir)
		if err != nil {
			return err
		}
		opts = append(opts, service.WithResults(results))
		logger.Info("saving results", "dir", results.Dir())
	}

	var (
		jobStore jobs.Store = jobs.NewMemoryStore()
		monitor  api.OutboxMonitor
	)

	if cfg.Outbox.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db, logger); err != nil {
			return err
		}

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}

		outbox := database.NewOutboxRepository(db).WithDefaultStream(cfg.Redis.Stream)
		opts = append(opts, service.WithPublisher(events.NewPublisher(db, outbox, logger)))

		relay := database.NewRelay(outbox, redisClient, logger, database.RelayConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()

		jobStore = database.NewJobRepository(db)
		monitor = relay
	}

	svc := service.NewService(factory, fetcher, identities, service.ConfigFrom(cfg.Scraper), opts...)

	tasks := queue.NewInMemoryQueue(cfg.Queue.MaxSize)
	manager := jobs.NewManager(jobStore, tasks, svc, logger)
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- manager.StartWorkers(ctx, cfg.Queue.Workers)
	}()

	handlers := api.NewHandlers(svc, manager, monitor, logger)
	server := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler: api.NewRouter(handlers, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.WriteTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", server.Addr,
			"driver", cfg.Browser.Driver,
			"marketplaces", svc.Marketplaces(),
			"outbox", cfg.Outbox.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	tasks.Close()
	select {
	case err := <-workersDone:
		if err != nil {
			logger.Error("job workers stopped with error", "error", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("job workers did not stop in time")
	}

	logger.Info("server stopped")
	return nil
}
