package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dorofeevb1/sodrugestvobot/internal/api"
	"github.com/dorofeevb1/sodrugestvobot/internal/config"
	"github.com/dorofeevb1/sodrugestvobot/internal/database"
	"github.com/dorofeevb1/sodrugestvobot/internal/importer"
	"github.com/dorofeevb1/sodrugestvobot/internal/logger"
	"github.com/dorofeevb1/sodrugestvobot/internal/notify"
	"github.com/dorofeevb1/sodrugestvobot/internal/queue"
	"github.com/dorofeevb1/sodrugestvobot/internal/scheduler"
	"github.com/dorofeevb1/sodrugestvobot/internal/scraper"
	"github.com/dorofeevb1/sodrugestvobot/internal/tracking"
)

const requestTimeoutMargin = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database connection
	pgConfig := cfg.Database.Postgres()
	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pgConfig.DSN(), log); err != nil {
			log.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	db, err := database.New(ctx, pgConfig)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis for the outbox relay and notification stream
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Scraping pipeline
	service, err := scraper.NewFromConfig(cfg, log)
	if err != nil {
		log.Error("failed to initialize scraper", "error", err)
		os.Exit(1)
	}

	// Repositories
	users := database.NewUserRepository(db)
	products := database.NewProductRepository(db, cfg.Relay.EventsStream)
	history := database.NewHistoryRepository(db)

	// Notifications
	notifications := queue.NewNotificationQueue(cfg.Notify.QueueCapacity)
	dispatcher := notify.NewDispatcher(
		notifications,
		notify.NewRedisSink(redisClient, cfg.Notify.Stream, cfg.Notify.StreamMaxLen),
		log,
		notify.DispatcherConfig{
			Interval:       cfg.Notify.DispatchInterval,
			PublishRetries: cfg.Notify.PublishRetries,
		},
	)

	relay := database.NewRelay(db, redisClient, log, database.RelayConfig{
		PollInterval: cfg.Relay.PollInterval,
		BatchSize:    cfg.Relay.BatchSize,
		StreamMaxLen: cfg.Relay.StreamMaxLen,
	})

	sched := scheduler.New(
		products,
		service,
		history,
		notify.NewDetector(cfg.Scheduler.NotificationThreshold),
		notifications,
		cfg.Scheduler.PriceUpdateInterval,
		log,
	)

	tracker := tracking.NewTracker(users, products, history, service, log)
	imports := importer.New(tracker, cfg.Import.LineDelay, cfg.Import.MaxLines, log)

	// Background workers
	var wg sync.WaitGroup
	runWorker := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("worker stopped with error", "worker", name, "error", err)
			}
		}()
	}
	runWorker("relay", relay.Run)
	runWorker("dispatcher", dispatcher.Start)
	runWorker("scheduler", sched.Run)

	// HTTP API
	handlers := api.NewHandlers(api.Deps{
		Lookup:    service,
		Tracker:   tracker,
		Importer:  imports,
		Scheduler: sched,
		Events:    relay,
		Queue:     notifications,
	}, log)

	// Track and lookup must be able to report a classified scrape failure
	// before either deadline turns it into a bare 504.
	requestTimeout := max(cfg.Server.WriteTimeout, scraper.Budget(cfg)+requestTimeoutMargin)
	writeTimeout := requestTimeout + requestTimeoutMargin
	if writeTimeout > cfg.Server.WriteTimeout {
		log.Info("raising request timeouts to fit the scrape budget",
			"configured", cfg.Server.WriteTimeout, "request_timeout", requestTimeout, "write_timeout", writeTimeout)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, api.RouterOptions{RequestTimeout: requestTimeout}, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * 4,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		stop()
	}

	wg.Wait()
	if err := notifications.Close(); err != nil {
		log.Warn("failed to close notification queue", "error", err)
	}
	log.Info("server stopped", "dropped_notifications", notifications.Dropped())
}
