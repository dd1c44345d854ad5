package http

import (
	"context"
	"net/http"
	"time"

	"papelflow/internal/cache"
	"papelflow/internal/core"
	"papelflow/internal/log"
	"papelflow/internal/middleware/ratelimit"
	"papelflow/internal/middleware/security"
	"papelflow/internal/middleware/trace"
	"papelflow/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Services are the application services the API exposes.
type Services struct {
	Ledger    *services.LedgerService
	Scheduler *services.Scheduler
	Reminders *services.ReminderGate
	Insights  *services.InsightsService
}

type Options struct {
	RateLimitPerMinute int
	// Notifications is the permission handed to the reminder gate.
	Notifications services.Permission
}

type Server struct {
	http.Server
	svc      Services
	opts     Options
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger
	caches   *cache.Manager
	now      func() time.Time
}

func NewServer(addr string, svc Services, opts Options) *Server {
	if opts.Notifications == nil {
		opts.Notifications = services.Denied
	}
	detector := security.NewDetector()
	s := &Server{
		svc:      svc,
		opts:     opts,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector: detector,
		tracer:   trace.NewMiddleware(detector.ExtractClientIP),
		logger:   log.Default(log.ComponentHTTP),
		caches:   cache.NewManager(),
		now:      time.Now,
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if svc.Insights != nil {
		s.caches.Register(svc.Insights.Cache())
		s.caches.StartCleanup(time.Minute)
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.detector.Middleware(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusBadRequest, "SUSPICIOUS_REQUEST", "request rejected")
	}))
	r.Use(s.tracer.Middleware)
	r.Use(log.Middleware(s.logger))
	r.Use(log.RequestIDMiddleware(trace.RequestIDFrom))
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded, try again later")
		}))

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.handleCreateAccount)
			r.Get("/", s.handleListAccounts)
			r.Get("/{id}", s.handleGetAccount)
			r.Get("/{id}/verify", s.handleVerifyAccount)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", s.handlePostTransaction)
			r.Get("/", s.handleListTransactions)
			r.Get("/{id}", s.handleGetTransaction)
			r.Delete("/{id}", s.handleDeleteTransaction)
			r.Post("/{id}/repair", s.handleRepairTransaction)
		})

		r.Route("/obligations", func(r chi.Router) {
			r.Post("/", s.handleCreateObligation)
			r.Get("/", s.handleListObligations)
			r.Put("/{id}/active", s.handleSetObligationActive)
			r.Post("/{id}/paid", s.handleMarkPaid)
		})

		r.Post("/scheduler/run", s.handleRunScheduler)
		r.Post("/maintenance/prune", s.handlePrune)
		r.Get("/reminders", s.handleCheckReminders)

		r.Route("/budgets", func(r chi.Router) {
			r.Post("/", s.handleCreateBudget)
			r.Get("/", s.handleListBudgets)
			r.Get("/adherence", s.handleBudgetAdherence)
		})
		r.Route("/goals", func(r chi.Router) {
			r.Post("/", s.handleCreateGoal)
			r.Get("/", s.handleListGoals)
		})

		r.Get("/stats/monthly", s.handleMonthlyStats)
		r.Get("/forecast", s.handleForecast)
		r.Get("/health-score", s.handleHealthScore)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

func (s *Server) today() core.Date {
	return core.DateOf(s.now())
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "HTTP server shutting down", log.FieldOperation, log.OpShutdown)
	s.limiter.Stop()
	s.caches.Stop()
	return s.Server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := s.tracer.GetMetrics()
	lm := s.limiter.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"requests":      m.TotalRequests,
		"writes":        m.Writes,
		"server_errors": m.ServerErrors,
		"avg_micros":    m.AverageResponseTime,
		"rate_limited":  lm.Rejected,
		"suspicious":    s.detector.GetMetrics().SuspiciousRequests,
	})
}
