package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"clausewise.app/analyzer/common/id"
	"clausewise.app/analyzer/common/llm"
	"clausewise.app/analyzer/common/logger"
	"clausewise.app/analyzer/common/metrics"
	"clausewise.app/analyzer/common/otel"
	"clausewise.app/analyzer/common/resilience"
	"clausewise.app/analyzer/core/config"
	"clausewise.app/analyzer/core/db"
	"clausewise.app/analyzer/internal/analysis"
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/notify"
	"clausewise.app/analyzer/internal/pipeline"
	"clausewise.app/analyzer/internal/queue"
	"clausewise.app/analyzer/internal/store"
	"clausewise.app/analyzer/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	consumerName := cfg.Worker.ConsumerName
	if consumerName == "" {
		consumerName = "worker-" + uuid.NewString()
	}

	slog.InfoContext(ctx, "analyzer worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queue.Group,
		"consumer_name", consumerName,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := store.EnsureSchema(ctx, database.SQL()); err != nil {
		slog.ErrorContext(ctx, "failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.Stream)

	llmClient, err := llm.New(llm.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}

	workerMetrics := metrics.NewWorkerMetrics(cfg.OTel.ServiceName)

	guardCfg := resilience.LLMDefaults()
	guardCfg.Retry.Attempts = cfg.Resilience.RetryMaxAttempts
	guardCfg.Retry.Backoff = cfg.Resilience.RetryInitialBackoff
	guardCfg.Retry.MaxBackoff = cfg.Resilience.RetryMaxBackoff
	guardCfg.Breaker.Enabled = cfg.Resilience.BreakerEnabled

	caller := analysis.NewCaller(llmClient,
		analysis.WithTimeout(cfg.LLM.Timeout),
		analysis.WithRateLimit(cfg.LLM.RateLimitRPS, cfg.LLM.RateBurst),
		analysis.WithGuard(resilience.NewGuard(guardCfg, workerMetrics), cfg.LLM.Provider),
	)

	contentCache := cache.NewRedisCache(redisClient)

	var notifier notify.Notifier
	switch cfg.Notifier.Backend {
	case "nats":
		natsNotifier, err := notify.NewNATSNotifier(cfg.Notifier.NATSURL, notify.NATSOptions{
			Guard: resilience.NewGuard(resilience.EventDefaults(), workerMetrics),
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer natsNotifier.Close()
		notifier = natsNotifier
	default:
		notifier = notify.NewRedisNotifier(redisClient)
	}

	p := pipeline.New(pipeline.Deps{
		Stages: pipeline.Stages{
			Validator:  analysis.NewValidator(caller, contentCache),
			Structurer: analysis.NewStructurer(caller, contentCache),
			Summarizer: analysis.NewSummarizer(caller, contentCache),
			Extractor:  analysis.NewExtractor(caller, contentCache),
		},
		Stores:   store.NewStores(database.SQL()),
		Tx:       store.NewTxRunner(database),
		Notifier: notify.BestEffort(notifier, slog.Default()),
		Observer: workerMetrics,
	})

	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.Queue.Stream,
		Group:        cfg.Queue.Group,
		Consumer:     consumerName,
		DLQStream:    cfg.Queue.DLQStream,
		BatchSize:    1,
		Block:        5 * time.Second,
		RequeueDelay: cfg.Worker.RequeueDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, p, workerMetrics, worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		MaxAttempts: cfg.Worker.MaxAttempts,
		Heartbeat:   cfg.Worker.Heartbeat,
	})

	reclaimer := worker.NewReclaimer(consumer, w.Handle, worker.ReclaimerConfig{
		MinIdle:   cfg.Worker.ReclaimMinIdle,
		Interval:  cfg.Worker.ReclaimInterval,
		BatchSize: 10,
	})

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.InfoContext(ctx, "metrics server starting", "addr", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "metrics server error", "error", err)
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running", "concurrency", cfg.Worker.Concurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first; the worker may be mid-job.
	done := make(chan struct{})
	go func() {
		reclaimer.Stop()
		w.Stop()
		close(done)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-done:
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "metrics server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	for i := 0; i < cap(errCh); i++ {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
			}
		default:
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}
