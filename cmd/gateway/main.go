// Command gateway runs the Athledger HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/athledger/platform/internal/app"
	"github.com/athledger/platform/internal/app/httpapi"
	"github.com/athledger/platform/internal/app/metrics"
	"github.com/athledger/platform/internal/app/services/performances"
	"github.com/athledger/platform/internal/app/storage/postgres"
	"github.com/athledger/platform/internal/cache"
	"github.com/athledger/platform/internal/chain"
	"github.com/athledger/platform/internal/config"
	"github.com/athledger/platform/internal/middleware"
	"github.com/athledger/platform/internal/platform/database"
	"github.com/athledger/platform/internal/platform/migrations"
	"github.com/athledger/platform/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("gateway", logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := migrations.Up(db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		store := postgres.New(db)
		stores = app.Stores{
			Users:        store,
			Performances: store,
			Transactions: store,
			Bundles:      store,
		}
		log.WithField("driver", cfg.Database.Driver).Info("database connected")
	} else {
		log.Warn("no database configured, using in-memory store")
	}

	var anchorer performances.Anchorer
	if cfg.Chain.IPFSURL != "" {
		client, err := chain.NewClient(chain.Config{
			IPFSURL: cfg.Chain.IPFSURL,
			RPCURL:  cfg.Chain.RPCURL,
		})
		if err != nil {
			return fmt.Errorf("chain client: %w", err)
		}
		anchorer = client
		log.WithField("ipfs_url", cfg.Chain.IPFSURL).Info("anchoring enabled")
	}

	var marketCache cache.Cache = cache.Noop{}
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, marketplace caching disabled")
		} else {
			defer redisCache.Close()
			marketCache = redisCache
		}
	}

	application, err := app.New(stores, app.Options{
		Anchorer: anchorer,
		Recorder: metrics.Recorder{},
	}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	var webhookWrap func(http.Handler) http.Handler
	if cfg.Auth.WebhookSecret != "" {
		verifier, err := middleware.NewWebhookVerifier(cfg.Auth.WebhookSecret, log)
		if err != nil {
			return fmt.Errorf("webhook verifier: %w", err)
		}
		webhookWrap = verifier.Handler
	} else {
		log.Warn("no webhook secret configured, webhook endpoint disabled")
		webhookWrap = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "webhook verification not configured", http.StatusServiceUnavailable)
			})
		}
	}

	router, err := httpapi.NewHandler(application, httpapi.Options{
		Cache:    marketCache,
		CacheTTL: time.Duration(cfg.Redis.TTL) * time.Second,
		Webhook:  webhookWrap,
		Log:      log,
	})
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	skipAuth := []string{
		"/healthz",
		"/metrics",
		"/api/marketplace",
		"/api/webhooks/clerk",
	}
	auth := middleware.NewAuthMiddleware([]byte(cfg.Auth.JWTSecret), log, skipAuth)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	stopCleanup := limiter.StartCleanup(time.Minute)
	defer stopCleanup()
	cors := middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", router)

	var handler http.Handler = mux
	handler = limiter.Handler(handler)
	handler = auth.Handler(handler)
	handler = metrics.InstrumentHandler(handler)
	handler = middleware.LoggingMiddleware(log)(handler)
	handler = cors.Handler(handler)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("application shutdown")
	}
	return nil
}
