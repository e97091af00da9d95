package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/guardrail/internal/admin"
	"github.com/noah-isme/guardrail/internal/aggregate"
	"github.com/noah-isme/guardrail/internal/audit"
	"github.com/noah-isme/guardrail/internal/auth"
	"github.com/noah-isme/guardrail/internal/common"
	"github.com/noah-isme/guardrail/internal/config"
	"github.com/noah-isme/guardrail/internal/engine"
	"github.com/noah-isme/guardrail/internal/events"
	"github.com/noah-isme/guardrail/internal/harness"
	"github.com/noah-isme/guardrail/internal/health"
	"github.com/noah-isme/guardrail/internal/notify"
	"github.com/noah-isme/guardrail/internal/obs"
	"github.com/noah-isme/guardrail/internal/ratelimit"
	"github.com/noah-isme/guardrail/internal/repo"
	"github.com/noah-isme/guardrail/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "guardrail")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "guardrail-api",
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := repo.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "guardrail-api"

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

	breakerStore := repo.NewBreakerStore(pool)
	sampleStore := repo.NewSampleStore(pool)
	eventStore := repo.NewEventStore(pool)
	auditStore := repo.NewAuditStore(pool)
	webhookStore := repo.NewWebhookStore(pool)

	aggregator, err := aggregate.New(aggregate.Config{
		Store:      sampleStore,
		BucketSize: cfg.BucketSize,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise aggregator")
	}

	notifiers := []events.Notifier{notify.AlertNotifier{Logger: &logger}}
	if cfg.AlertEmailEnabled {
		notifiers = append(notifiers, notify.EmailNotifier{
			Mail:      common.NopEmailSender{},
			Enabled:   true,
			Recipient: cfg.AlertEmailRecipient,
		})
	}
	if cfg.WebhooksEnabled {
		taskClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisOpts.Addr,
			Password: redisOpts.Password,
			DB:       redisOpts.DB,
		})
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close task client")
			}
		}()
		notifiers = append(notifiers, notify.WebhookNotifier{
			Store:    webhookStore,
			Tasks:    taskClient,
			MaxRetry: cfg.WebhookMaxRetry,
		})
	}
	bus := &events.Bus{Store: eventStore, Notifiers: notifiers, Logger: &logger}

	eng, err := engine.New(engine.Config{
		Repo:          breakerStore,
		Publisher:     bus,
		Observer:      aggregator,
		Logger:        &logger,
		ResetCooldown: cfg.ResetCooldown,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise engine")
	}
	loaded, err := eng.Hydrate(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("hydrate breakers")
	}
	logger.Info().Int("breakers", loaded).Msg("breakers hydrated")

	authService, err := auth.NewService(auth.Config{Secret: cfg.JWTSecret})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authMiddleware := auth.Middleware{Service: authService}

	auditService := &audit.Service{
		Store:        auditStore,
		Enabled:      cfg.AuditEnabled,
		SamplingRate: cfg.AuditSamplingRate,
	}
	auditRecorder := audit.HTTPRecorder{
		Service: auditService,
		OnError: func(err error) { logger.Error().Err(err).Msg("record audit entry") },
	}

	adminHandler := &admin.Handler{
		Engine:        eng,
		Aggregator:    aggregator,
		Runner:        harness.Runner{Engine: eng, Logger: &logger},
		Validate:      validator.New(),
		Logger:        logger,
		Events:        bus,
		ResetCooldown: cfg.ResetCooldown,
	}
	eventHandler := events.Handler{Store: eventStore}
	auditHandler := audit.Handler{Store: auditStore}
	webhookAdmin := &notify.AdminHandler{Store: webhookStore}

	idem := common.Idem{R: redisClient, TTL: envDurationMillis("IDEMPOTENCY_TTL_MS", 600000)}
	adminLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:admin:"},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return common.ClientIP(r) },
			Window: cfg.AdminRateWindow,
			Max:    cfg.AdminRateMax,
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("rate limit") },
	}
	resetCooldown := ratelimit.Cooldown{Client: redisClient, Prefix: "cooldown:reset:"}

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
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: envInt64("SECURE_MAX_BODY_BYTES", 1<<20)}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		BreakerCount: eng.Count,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.RequireAuth)
		v.Use(adminLimit.Middleware)

		v.Route("/breakers", func(b chi.Router) {
			b.Get("/", adminHandler.List)
			b.With(idem.Middleware, auditRecorder.Middleware(audit.HTTPConfig{ResourceIDParam: "name"})).
				Post("/", adminHandler.Create)
			b.Route("/{name}", func(one chi.Router) {
				one.Get("/", adminHandler.Get)
				one.Get("/metrics", adminHandler.Metrics)
				one.Get("/events", eventHandler.List)
				one.With(auditRecorder.Middleware(audit.HTTPConfig{ResourceIDParam: "name"})).
					Patch("/", adminHandler.Update)
				one.With(auditRecorder.Middleware(audit.HTTPConfig{ResourceIDParam: "name"})).
					Delete("/", adminHandler.Delete)
				one.With(
					cooldownGuard(resetCooldown, cfg.ResetCooldown),
					auditRecorder.Middleware(audit.HTTPConfig{ResourceIDParam: "name"}),
				).Post("/reset", adminHandler.Reset)
				one.With(idem.Middleware, auditRecorder.Middleware(audit.HTTPConfig{ResourceIDParam: "name"})).
					Post("/test", adminHandler.Test)
			})
		})

		v.Get("/events", eventHandler.List)
		v.Get("/audit", auditHandler.List)

		v.Route("/webhooks", func(wh chi.Router) {
			wh.Use(auditRecorder.Middleware(audit.HTTPConfig{ResourceType: "webhooks", ResourceIDParam: "id"}))
			wh.Post("/", webhookAdmin.CreateEndpoint)
			wh.Get("/", webhookAdmin.ListEndpoints)
			wh.Put("/{id}", webhookAdmin.UpdateEndpoint)
			wh.Delete("/{id}", webhookAdmin.DeleteEndpoint)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-runCtx.Done()
	logger.Info().Msg("shutting down")
	health.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown server")
	}
	if err := aggregator.Flush(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("flush aggregation buckets")
	}
}

// cooldownGuard enforces the cross-process reset cooldown. The engine keeps
// its own in-process guard; this one survives restarts and covers replicas.
func cooldownGuard(cd ratelimit.Cooldown, interval time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			allowed, wait, err := cd.Guard(r.Context(), name, interval)
			if err != nil {
				// Redis trouble never blocks an operator action.
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				seconds := int(wait.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				common.JSONError(w, http.StatusTooManyRequests, "COOLDOWN_ACTIVE", "breaker was reset recently", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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

func envInt64(key string, fallback int64) int64 {
	return int64(envInt(key, int(fallback)))
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
