package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/devrimkaya/flagship/internal/audit"
	"github.com/devrimkaya/flagship/internal/auth"
	"github.com/devrimkaya/flagship/internal/cache"
	"github.com/devrimkaya/flagship/internal/changebus"
	"github.com/devrimkaya/flagship/internal/evallog"
	"github.com/devrimkaya/flagship/internal/scheduler"
	"github.com/devrimkaya/flagship/internal/store"
	"github.com/devrimkaya/flagship/internal/telemetry"
)

// Server wires the decision path, the SDK surface, the change stream,
// and the admin CRUD surface onto one ConfigStore. Adapted from the
// teacher's Server (store + env + adminAPIKey + auth + auditService +
// webhookDispatcher): the flat Store/env pair is replaced by the
// project-scoped ConfigStore, and the webhook dispatcher is no longer a
// Server dependency since it subscribes to the change bus independently
// (see internal/webhook.Dispatcher.Subscribe, wired at startup).
type Server struct {
	store       store.ConfigStore
	cacheLocal  *cache.Local
	cacheShared *cache.Shared
	bus         changebus.Bus
	scheduler   *scheduler.Scheduler
	evalLog     *evallog.Logger
	auth        *auth.Authenticator
	audit       *audit.Service
}

func NewServer(
	s store.ConfigStore,
	cacheLocal *cache.Local,
	cacheShared *cache.Shared,
	bus changebus.Bus,
	sched *scheduler.Scheduler,
	evalLog *evallog.Logger,
	authenticator *auth.Authenticator,
	auditSvc *audit.Service,
) *Server {
	return &Server{
		store:       s,
		cacheLocal:  cacheLocal,
		cacheShared: cacheShared,
		bus:         bus,
		scheduler:   sched,
		evalLog:     evalLog,
		auth:        authenticator,
		audit:       auditSvc,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match", auth.ProjectKeyHeader, auth.SDKKeyHeader},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	// Decision path: project identity comes from X-Project-Key, per
	// spec.md §6's "core assumes an already-authenticated
	// (project_id, actor?) tuple" — credential validation itself is out
	// of scope.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Get("/v1/flags/{key}", s.handleDecision)
		r.Post("/v1/evaluations/bulk", s.handleBulkDecision)
	})

	// SDK surface: same decision logic, gated by X-SDK-Key instead.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Get("/v1/sdk/bootstrap", s.handleSDKBootstrap)
		r.Post("/v1/sdk/evaluate", s.handleSDKEvaluate)
	})

	// Change stream: no timeout, gentle connect-rate limit.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Get("/v1/stream", s.handleStream)
	})

	// Admin CRUD surface, bearer-token gated.
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Use(s.auth.RequireAdmin)

		r.Post("/environments", s.handleUpsertEnvironment)

		r.Route("/flags", func(r chi.Router) {
			r.Post("/", s.handleUpsertFlag)
			r.Get("/", s.handleListFlags)
			r.Get("/{key}", s.handleGetFlag)
			r.Post("/{key}/toggle", s.handleToggleFlag)
			r.Post("/{key}/schedule", s.handleScheduleFlag)
			r.Delete("/{key}/schedule", s.handleClearScheduleFlag)
			r.Post("/{key}/archive", s.handleArchiveFlag)
			r.Put("/{key}/rules/{env}", s.handleUpsertFlagRules)
		})

		r.Route("/segments", func(r chi.Router) {
			r.Post("/", s.handleUpsertSegment)
			r.Delete("/{key}", s.handleDeleteSegment)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// auditLog is a convenience wrapper over audit.NewEventBuilder, kept in
// the same shape as the teacher's Server.auditLog so admin handlers read
// the same way the teacher's did.
func (s *Server) auditLog(r *http.Request, action, resourceType, resourceID, environment string, beforeState, afterState, changes map[string]any, status, errorMsg string) {
	if s.audit == nil {
		return
	}

	builder := audit.NewEventBuilder(r).
		ForResource(resourceType, resourceID).
		WithAction(action).
		WithEnvironment(environment).
		WithBeforeState(beforeState).
		WithAfterState(afterState).
		WithChanges(changes)

	if status == audit.StatusFailure && errorMsg != "" {
		builder = builder.Failure(errorMsg)
	}

	s.audit.Log(builder.Build())
}
