// Package main provides the flagship decision service HTTP server.
//
// Application Startup Flow:
//
//  1. Load configuration from environment variables (config.Load)
//  2. Initialize Prometheus metrics registry (telemetry.Init)
//  3. Create the config store - Postgres or in-memory (store.NewStore)
//  4. Create the cache layers: process-local always, Redis-backed shared
//     tier only when CACHE_URL is set (internal/cache)
//  5. Create the change bus: NATS when NATS_URL is set, in-process
//     fallback otherwise (internal/changebus), and pump the store's
//     outbox onto it
//  6. Start the scheduler, the evaluation log, the audit service, and
//     the webhook dispatcher (each optional/no-op when unconfigured)
//  7. Start API server on APP_HTTP_ADDR (client requests - evaluations, admin ops)
//  8. Start metrics/pprof server on METRICS_ADDR (for observability - /metrics, /debug/pprof)
//  9. Wait for SIGINT/SIGTERM for graceful shutdown
//  10. Shutdown: close webhook dispatcher, drain audit queue, drain
//      evaluation log, stop scheduler, close change bus, close store
//
// The server runs two HTTP servers concurrently:
//   - API Server: client-facing REST API and SSE streaming
//   - Metrics Server: Prometheus metrics and pprof profiling (internal use)
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	_ "net/http/pprof" // <-- registers /debug/pprof/* on DefaultServeMux
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/devrimkaya/flagship/internal/api"
	"github.com/devrimkaya/flagship/internal/audit"
	"github.com/devrimkaya/flagship/internal/auth"
	"github.com/devrimkaya/flagship/internal/cache"
	"github.com/devrimkaya/flagship/internal/changebus"
	"github.com/devrimkaya/flagship/internal/config"
	mydb "github.com/devrimkaya/flagship/internal/db"
	"github.com/devrimkaya/flagship/internal/evallog"
	"github.com/devrimkaya/flagship/internal/scheduler"
	"github.com/devrimkaya/flagship/internal/store"
	"github.com/devrimkaya/flagship/internal/telemetry"
	"github.com/devrimkaya/flagship/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, cfg.StoreType, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to initialize store (type=%s): %v", cfg.StoreType, err)
	}
	defer st.Close()

	cacheLocal := cache.NewLocal()
	cacheShared := cache.NewShared(newRedisClient(cfg.CacheURL))

	bus, err := newBus(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to initialize change bus: %v", err)
	}
	defer bus.Close()
	go changebus.Pump(ctx, st.Drain(), bus)
	go invalidateCacheOnChange(ctx, bus, cacheLocal)

	sched := scheduler.New(st)
	defer sched.Stop()

	evalSink, err := newEvalSink(ctx, cfg.EvalLogDSN)
	if err != nil {
		log.Fatalf("failed to initialize evaluation log sink: %v", err)
	}
	evalLog := evallog.New(evalSink, 1024)
	defer evalLog.Close()

	auditSvc, err := newAuditService(ctx, cfg.StoreType, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to initialize audit service: %v", err)
	}
	if auditSvc != nil {
		defer auditSvc.Close()
	}

	authenticator := auth.New(cfg.AdminAPIKey)

	dispatcher := webhook.NewDispatcher(webhookTargets(cfg.WebhookTargets))
	dispatcher.Start()
	go dispatcher.Subscribe(ctx, bus)
	defer dispatcher.Close()

	apiSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewServer(st, cacheLocal, cacheShared, bus, sched, evalLog, authenticator, auditSvc).Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0, // keep SSE connections alive
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("[server] http server listening on %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)

	metricsSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("[server] metrics/pprof server listening on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[server] shutdown signal received, stopping servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] error during API server shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] error during metrics server shutdown: %v", err)
	}

	log.Println("[server] servers stopped successfully")
}

// newRedisClient builds the shared cache's Redis client, or nil if
// CACHE_URL is unset - cache.Shared treats a nil client as a permanent
// miss, so the shared tier degrades gracefully rather than failing startup.
func newRedisClient(cacheURL string) *redis.Client {
	if cacheURL == "" {
		return nil
	}
	client, err := cache.NewClient(cacheURL)
	if err != nil {
		log.Printf("[server] CACHE_URL set but client construction failed, shared cache disabled: %v", err)
		return nil
	}
	return client
}

func newBus(natsURL string) (changebus.Bus, error) {
	if natsURL == "" {
		return changebus.NewInProcess(), nil
	}
	return changebus.NewNATS(natsURL)
}

func invalidateCacheOnChange(ctx context.Context, bus changebus.Bus, local *cache.Local) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			local.Invalidate(ev.Invalidation.ProjectKey, ev.Invalidation.EnvironmentKey)
		}
	}
}

func newEvalSink(ctx context.Context, dsn string) (evallog.Sink, error) {
	if dsn == "" {
		return nil, nil
	}
	pool, err := mydb.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return evallog.NewPostgresSink(pool), nil
}

// newAuditService persists config-mutation audit events to the same
// Postgres database as the store. In memory-store mode there is no
// durable database to write to, so the audit log is disabled rather
// than connecting to whatever DB_DSN happens to default to.
func newAuditService(ctx context.Context, storeType, dsn string) (*audit.Service, error) {
	if storeType != "postgres" || dsn == "" {
		return nil, nil
	}
	pool, err := mydb.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	sink := audit.NewPostgresSink(pool)
	return audit.NewService(sink, audit.SystemClock{}, audit.UUIDGenerator{}, audit.NewDefaultRedactor(), 256), nil
}

func webhookTargets(urls []string) []webhook.Target {
	targets := make([]webhook.Target, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, webhook.Target{
			URL:            u,
			Events:         []string{webhook.EventFlagCreated, webhook.EventFlagUpdated, webhook.EventFlagDeleted},
			MaxRetries:     3,
			TimeoutSeconds: 10,
		})
	}
	return targets
}
