package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/api"
	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/circuitbreaker"
	"github.com/lalithlochan/beacon/internal/config"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/kafka"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/observ"
	"github.com/lalithlochan/beacon/internal/queue"
	"github.com/lalithlochan/beacon/internal/record"
	"github.com/lalithlochan/beacon/internal/redis"
	"github.com/lalithlochan/beacon/internal/sender"
	"github.com/lalithlochan/beacon/internal/sns"
	"github.com/lalithlochan/beacon/internal/sqs"
	"github.com/lalithlochan/beacon/internal/worker"
)

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting beacon gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("queue_backend", cfg.QueueBackend),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Record events go to SNS when a topic is configured
	var recordOpts []record.Option
	if cfg.SNSTopicARN != "" {
		publisher, err := sns.NewPublisher(ctx, cfg.SNSTopicARN, cfg.SNSRegion, cfg.SNSEndpoint)
		if err != nil {
			logger.Warn("sns publisher unavailable, record events disabled", zap.Error(err))
		} else {
			recordOpts = append(recordOpts, record.WithEvents(publisher))
		}
	}
	records := record.NewManager(repo, logger, recordOpts...)

	// Adapters, one breaker per channel
	registry := channel.NewDefaultRegistry(channel.Deps{
		Timeout: cfg.AdapterTimeout,
		Logger:  logger,
	})

	breakerCfg := circuitbreaker.DefaultConfig("")
	breakerCfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		metrics.SetCircuitState(name, int(to))
	}
	breakers := circuitbreaker.NewSet(breakerCfg, logger)

	engine := dispatch.NewEngine(registry, logger,
		dispatch.WithRecorder(records),
		dispatch.WithMiddleware(breakers.Middleware()),
		dispatch.WithRateLimit(cfg.DispatchRatePerSec, max(1, int(cfg.DispatchRatePerSec))),
	)

	// Async queue
	enqueuer, source, closeQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up %s queue: %w", cfg.QueueBackend, err)
	}

	svc := sender.New(repo, records, engine, enqueuer, logger)

	w := worker.New(source, svc, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		JobTimeout:  cfg.AdapterTimeout + 30*time.Second,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Start(workerCtx)
	}()

	logger.Info("background worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	// Stale pending sweep
	sweeper := record.NewSweeper(repo, cfg.SweepPendingAfter, logger)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		workerCancel()
		closeQueue()
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	// Redis for idempotency and rate limiting
	var (
		redisClient *redis.Client
		handlerOpts []api.Option
	)
	if cfg.RedisHost != "" {
		redisClient, err = redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, idempotency and rate limiting disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
		handlerOpts = append(handlerOpts,
			api.WithIdempotency(redis.NewIdempotencyService(redisClient, logger)),
			api.WithRateLimiter(redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.RateLimitPerMinute,
				Window: time.Minute,
			})),
		)
	}

	gaugeCtx, gaugeCancel := context.WithCancel(context.Background())
	defer gaugeCancel()
	go reportPoolGauges(gaugeCtx, database, redisClient)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	handler := api.NewHandler(logger, repo, svc, handlerOpts...)
	handler.Routes(r)

	r.Get("/health", healthHandler(database.Health, breakers, registry.Kinds()))

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	workerCancel()
	closeQueue()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not stop in time")
	}
	sweeper.Stop(shutdownCtx)

	logger.Info("server stopped gracefully")
	return runErr
}

// healthHandler reports database reachability, breaker state and the
// channel kinds this build can send through.
func healthHandler(check func(context.Context) error, breakers *circuitbreaker.Set, kinds []db.ChannelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := check(hctx); err != nil {
			status, code = "database unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   status,
			"channels": kinds,
			"circuits": breakers.Stats(),
		})
	}
}

// buildQueue wires the configured queue backend. The returned close func
// releases its resources.
func buildQueue(ctx context.Context, cfg *config.Config, logger *zap.Logger) (queue.Enqueuer, queue.Source, func(), error) {
	switch cfg.QueueBackend {
	case config.QueueSQS:
		client, err := sqs.NewClient(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
			Endpoint: cfg.SQSEndpoint,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		producer := sqs.NewProducer(client, cfg.SQSQueueURL, logger)
		consumer := sqs.NewConsumer(client, cfg.SQSQueueURL, logger)
		return producer, consumer, func() {}, nil

	case config.QueueKafka:
		kcfg := kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}
		producer := kafka.NewProducer(kafka.NewWriter(kcfg), logger)
		consumer := kafka.NewConsumer(kafka.NewReader(kcfg), logger)
		closeFn := func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka writer close failed", zap.Error(err))
			}
			if err := consumer.Close(); err != nil {
				logger.Warn("kafka reader close failed", zap.Error(err))
			}
		}
		return producer, consumer, closeFn, nil

	default:
		local := queue.NewLocal(cfg.LocalQueueSize)
		return local, local, local.Close, nil
	}
}

// reportPoolGauges samples connection pool usage until ctx is done.
func reportPoolGauges(ctx context.Context, database *db.DB, redisClient *redis.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		metrics.SetDBConnections(database.AcquiredConns())
		if redisClient != nil {
			metrics.SetRedisConnections(redisClient.ActiveConns())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
