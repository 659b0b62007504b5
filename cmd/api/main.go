package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/payment-relay/internal/app"
	"github.com/noah-isme/payment-relay/internal/callback"
	"github.com/noah-isme/payment-relay/internal/checkout"
	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/config"
	"github.com/noah-isme/payment-relay/internal/credentials"
	"github.com/noah-isme/payment-relay/internal/health"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
	"github.com/noah-isme/payment-relay/internal/queue"
	"github.com/noah-isme/payment-relay/internal/ratelimit"
	"github.com/noah-isme/payment-relay/internal/relay"
	"github.com/noah-isme/payment-relay/internal/resilience"
	"github.com/noah-isme/payment-relay/internal/security"
	"github.com/noah-isme/payment-relay/internal/statuslog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "payment_relay")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "payment-relay-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.MigrateOnStart {
		if err := app.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "payment-relay-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	secretsKey, err := credentials.ParseKey(cfg.SecretsKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse secrets key")
	}
	credStore := &credentials.Store{DB: pool, Key: secretsKey}
	env := credentials.EnvironmentFor(cfg.UseTestCredentials())

	gatewayLogger := logger.With().Str("component", "omnikassa").Logger()
	gatewayHTTP := &resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     resilience.NewBreaker(cfg.CircuitMinReq, cfg.CircuitFailureRate, cfg.CircuitOpenFor).WithTarget("omnikassa").WithLogger(gatewayLogger),
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitterPercent,
		Timeout:     cfg.OutboundTimeout,
		Target:      "omnikassa",
		Logger:      &gatewayLogger,
	}
	gateway := &omnikassa.Client{BaseURL: cfg.GatewayBaseURL, HTTP: gatewayHTTP}

	statusLog := &statuslog.Logger{DB: pool, Log: logger}

	relayLogger := logger.With().Str("component", "relay").Logger()
	relayHTTP := &resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     resilience.NewBreaker(cfg.CircuitMinReq, cfg.CircuitFailureRate, cfg.CircuitOpenFor).WithTarget("store-webhook").WithLogger(relayLogger),
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: 1,
		Timeout:     cfg.RelayTimeout,
		Target:      "store-webhook",
		Logger:      &relayLogger,
	}
	enqueuer := &queue.Enqueuer{R: redisClient, Prefix: cfg.QueueRedisPrefix, DedupTTL: cfg.QueueDedupTTL}
	dispatcher := &relay.Dispatcher{
		HTTP:        relayHTTP,
		Queue:       enqueuer,
		Log:         relayLogger,
		WebhookURL:  cfg.StoreWebhookURL,
		Concurrency: cfg.RelayConcurrency,
		MaxAttempts: cfg.RelayMaxAttempts,
	}

	checkoutSvc := &checkout.Service{
		Gateway:     gateway,
		Credentials: credStore,
		Validate:    validator.New(),
		Log:         logger.With().Str("component", "checkout").Logger(),
		ReturnURL:   cfg.ReturnURL(),
		FailURL:     cfg.FailURL,
		Currency:    cfg.Currency,
		Env:         env,
	}

	returnHandler := &callback.ReturnHandler{
		Credentials: credStore,
		Status:      statusLog,
		Log:         logger.With().Str("component", "return").Logger(),
		Provider:    checkout.ProviderName,
		Env:         env,
		SuccessURL:  cfg.SuccessURL,
		PendingURL:  cfg.PendingURL,
		FailURL:     cfg.FailURL,
	}

	poller := &callback.Poller{
		Gateway:     gateway,
		Credentials: credStore,
		Relay:       dispatcher,
		Status:      statusLog,
		Log:         logger.With().Str("component", "poller").Logger(),
		Provider:    checkout.ProviderName,
		Env:         env,
	}
	webhookHandler := &callback.WebhookHandler{
		Poller:    poller,
		Redis:     redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
		Log:       logger.With().Str("component", "webhook").Logger(),
	}
	statusHandler := &callback.StatusHandler{Status: statusLog, Provider: checkout.ProviderName}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	returnLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: cfg.QueueRedisPrefix + ":return_limiter:"},
		Config: ratelimit.Config{
			Key:    clientIPKey,
			Window: cfg.ReturnRateLimitWindow,
			Max:    cfg.ReturnRateLimitMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("return rate limiter degraded")
		},
	}
	checkoutLimiter, err := app.CheckoutLimiter(redisClient, cfg.CheckoutRateLimit, cfg.QueueRedisPrefix)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise checkout limiter")
	}

	deadLetters := &app.DeadLetterHandler{Redis: redisClient, Prefix: cfg.QueueRedisPrefix, Log: logger}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{EnableHSTS: !cfg.UseTestCredentials()}.Middleware)
	r.Use(security.BodyLimit{Max: int64(envInt("HTTP_MAX_BODY_BYTES", 1<<20))}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.With(idem.Middleware, checkoutLimiter).Post("/checkout", checkoutSvc.SubmitHandler)

		v.Route("/payments", func(p chi.Router) {
			p.With(returnLimiter.Middleware).Get("/return", returnHandler.ServeHTTP)
			p.Get("/{orderID}/status", statusHandler.Get)
		})

		v.Post("/webhooks/omnikassa", webhookHandler.ServeHTTP)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(app.AdminAuth(cfg.AdminTokenHash))
			admin.Get("/relay/dead-letters", deadLetters.List)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// clientIPKey buckets rate limits per client address. RealIP rewrites
// RemoteAddr to a bare IP without port, so a failed split means the value is
// already just the host.
func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
