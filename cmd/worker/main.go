package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/payment-relay/internal/app"
	"github.com/noah-isme/payment-relay/internal/checkout"
	"github.com/noah-isme/payment-relay/internal/config"
	"github.com/noah-isme/payment-relay/internal/credentials"
	"github.com/noah-isme/payment-relay/internal/lock"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/queue"
	"github.com/noah-isme/payment-relay/internal/relay"
	"github.com/noah-isme/payment-relay/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "payment_relay"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	secretsKey, err := credentials.ParseKey(cfg.SecretsKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse secrets key")
	}
	credStore := &credentials.Store{DB: pool, Key: secretsKey}

	dispatcher := &relay.Dispatcher{
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     resilience.NewBreaker(cfg.CircuitMinReq, cfg.CircuitFailureRate, cfg.CircuitOpenFor).WithTarget("store-webhook").WithLogger(logger),
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: 1,
			Timeout:     cfg.RelayTimeout,
			Target:      "store-webhook",
			Logger:      &logger,
		},
		Log:         logger,
		WebhookURL:  cfg.StoreWebhookURL,
		Concurrency: cfg.RelayConcurrency,
		MaxAttempts: cfg.RelayMaxAttempts,
	}

	retryHandler := &relay.RetryHandler{
		Dispatcher:  dispatcher,
		Credentials: credStore,
		Locks:       lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		Provider:    checkout.ProviderName,
		Env:         credentials.EnvironmentFor(cfg.UseTestCredentials()),
		LockTTL:     cfg.LockTTL,
		Log:         logger,
	}

	retryWorker := queue.Worker{
		R:           redisClient,
		Prefix:      cfg.QueueRedisPrefix,
		Kind:        relay.TaskKind,
		Concurrency: cfg.WorkerConcurrency,
		Visibility:  cfg.WorkerVisibility,
		RetryBase:   cfg.RetryBase,
		RetryJitter: cfg.RetryJitterPercent,
		Handler:     retryHandler.Handle,
		Log:         logger,
	}

	upkeep := &app.Upkeep{
		RedisURL:  cfg.RedisURL,
		DB:        pool,
		Retention: cfg.StatusLogRetention,
		PruneCron: cfg.StatusLogPruneCron,
		Log:       logger,
	}
	go func() {
		if err := upkeep.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("upkeep stopped with error")
		}
	}()

	logger.Info().Msg("worker starting")
	if err := retryWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "payment-relay-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
