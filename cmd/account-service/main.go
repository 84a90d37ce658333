// cmd/account-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kcsession/internal/accountapi"
	"kcsession/internal/cache"
	"kcsession/internal/metrics"
	"kcsession/internal/pagectx"
	"kcsession/internal/server"
	"kcsession/pkg/config"
	"kcsession/pkg/db"
	"kcsession/pkg/logger"
	"kcsession/pkg/middleware"
	"kcsession/pkg/tenants"
)

func main() {
	// 1. Load configuration & initialize structured logger.
	cfg := config.Load()
	appLog := logger.New(cfg.Env)

	// 2. Session cache: Redis when configured, otherwise in-process.
	var backend cache.Backend = cache.NewMemoryBackend()
	if rdb := db.MustRedis(cfg, appLog); rdb != nil {
		backend = cache.NewRedisBackend(rdb, cfg.CacheTTL)
	}
	sessionCache := cache.New(backend,
		cache.WithPrefix(cfg.CachePrefix),
		cache.WithTTL(cfg.CacheTTL),
		cache.WithLogger(appLog),
	)

	// 3. Preview fixtures, served whenever a request's tenant cannot be resolved.
	var defaults pagectx.PageContext
	if cfg.FixturesPath != "" {
		pc, err := pagectx.Load(cfg.FixturesPath)
		if err != nil {
			appLog.Fatalw("load fixtures", "err", err, "path", cfg.FixturesPath)
		}
		defaults = pc
		appLog.Infow("fixtures loaded", "path", cfg.FixturesPath, "force", cfg.ForceFixtures)
	}

	// 4. Identity servers the pages may point at.
	registry := tenants.NewMemoryProvider(appLog, cfg.AllowedOrigins...)
	appLog.Infow("allowed identity servers", "entries", cfg.AllowedOrigins, "verify_tokens", cfg.VerifyTokens)

	m := metrics.New(prometheus.DefaultRegisterer)
	client := accountapi.New(
		accountapi.WithLogger(appLog),
		accountapi.WithUpdateTimeout(cfg.UpdateTimeout),
	)

	// 5. Build HTTP router and register middlewares.
	router := chi.NewRouter()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recover(appLog))
	router.Use(middleware.Tracing(cfg, appLog))
	router.Use(middleware.WithPage(cfg, defaults, registry, appLog))
	router.Use(middleware.SessionAuth(cfg, appLog))

	// 6. Basic operational endpoints.
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	router.Get("/metrics", promhttp.Handler().ServeHTTP)

	// 7. Account routes.
	server.New(client,
		server.WithCache(sessionCache),
		server.WithMetrics(m),
		server.WithLogger(appLog),
		server.WithMinValidity(cfg.TokenMinValidity),
	).RegisterRoutes(router)

	// 8. Configure and start HTTP server asynchronously.
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		appLog.Infow("account-service listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatalw("ListenAndServe", "err", err)
		}
	}()

	// 9. Wait for termination signal (SIGINT/SIGTERM) to begin graceful shutdown.
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	<-stopCh

	// 10. Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	_ = middleware.ShutdownTracing(ctx)
	fmt.Println("account-service stopped")
}
