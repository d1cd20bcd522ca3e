package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/marrygold/usher/pkg/api"
	"github.com/marrygold/usher/pkg/config"
	"github.com/marrygold/usher/pkg/identity"
	"github.com/marrygold/usher/pkg/middleware"
	"github.com/marrygold/usher/pkg/observability"
	"github.com/marrygold/usher/pkg/redirect"
	"github.com/marrygold/usher/pkg/webhook"
)

func main() {
	// logrus for startup/shutdown messages; request-path logging uses the
	// structured logger from pkg/observability.
	startupLog := logrus.New()
	startupLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		startupLog.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		startupLog.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		startupLog.Fatalf("Failed to ping database: %v", err)
	}

	if err := identity.RunMigrations(context.Background(), db); err != nil {
		startupLog.Fatalf("Failed to run migrations: %v", err)
	}

	// Redis (optional)
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			startupLog.Fatalf("Failed to parse redis URL: %v", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		opts.PoolSize = cfg.Redis.PoolSize
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			startupLog.Warnf("Redis unavailable, continuing without caching: %v", err)
			redisClient = nil
		}
	}

	// Identity store with cache in front
	store := identity.NewStore(db, cfg.Database.QueryTimeout, logger).WithMetrics(metrics)
	cached, err := identity.NewCachedStore(store, redisClient, cfg.Redis.L1CacheSize, cfg.Redis.CacheTTL)
	if err != nil {
		startupLog.Fatalf("Failed to initialize identity cache: %v", err)
	}
	cached = cached.WithMetrics(metrics)

	// Webhook pipeline
	verifier, err := webhook.NewVerifier(cfg.Provider.WebhookSecret)
	if err != nil {
		startupLog.Fatalf("Failed to initialize webhook verifier: %v", err)
	}
	dispatcher := webhook.NewDispatcher(cached, logger)
	var limiter *webhook.RateLimiter
	if redisClient != nil {
		limiter = webhook.NewRateLimiter(redisClient, cfg.Provider.RateLimit, cfg.Provider.RateLimitWindow)
	}
	webhookHandler := webhook.NewHandler(verifier, dispatcher, limiter, metrics, logger)

	// Session verification (optional)
	var auth *middleware.AuthMiddleware
	if cfg.Provider.IssuerURL != "" {
		oidcVerifier, err := middleware.NewOIDCVerifier(context.Background(), cfg.Provider.IssuerURL)
		if err != nil {
			startupLog.Fatalf("Failed to initialize session verifier: %v", err)
		}
		auth = middleware.NewAuthMiddleware(oidcVerifier, cached, logger)
	} else {
		startupLog.Warn("No provider issuer URL configured; all API callers are anonymous")
	}

	// Redirect rules, hot-reloaded when a rules file is configured
	var rulesSource redirect.RulesSource
	if cfg.Redirect.RulesPath != "" {
		watcher, err := redirect.NewWatcher(cfg.Redirect.RulesPath, logger)
		if err != nil {
			startupLog.Fatalf("Failed to load redirect rules: %v", err)
		}
		defer watcher.Close()
		rulesSource = watcher
	} else {
		rulesSource = redirect.Static(redirect.DefaultRules())
	}
	redirects := redirect.NewResolver(rulesSource)

	server := api.NewServer(webhookHandler, auth, redirects, logger, metrics)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient)
	healthMux.HandleFunc("/livez", checker.Liveness)
	healthMux.HandleFunc("/readyz", checker.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		startupLog.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startupLog.Fatalf("Health server failed: %v", err)
		}
	}()

	go func() {
		startupLog.Infof("Usher listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startupLog.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	startupLog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		startupLog.Errorf("Server shutdown error: %v", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		startupLog.Errorf("Health server shutdown error: %v", err)
	}
	startupLog.Info("Usher stopped")
}
