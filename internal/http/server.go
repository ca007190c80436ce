// Package http serves the browser UI: full pages, htmx partials, the chart
// data endpoint and the health probes.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"accusim/internal/log"
	"accusim/internal/storage"
	"accusim/internal/viewmodel"
	appweb "accusim/web"
)

// FailureLister reads back journaled remote failures.
type FailureLister interface {
	Recent(ctx context.Context, limit int) ([]storage.Entry, error)
}

type Deps struct {
	Views   *viewmodel.Set
	Journal FailureLister
	// Ready reports whether collaborators are usable; nil means always ready.
	Ready             func(ctx context.Context) error
	Logger            *log.Logger
	Location          *time.Location
	PostRatePerMinute int
	// SettleTimeout bounds how long a range change waits for fresh data
	// before rendering.
	SettleTimeout time.Duration
}

type Server struct {
	http.Server
	templates   *template.Template
	views       *viewmodel.Set
	journal     FailureLister
	ready       func(ctx context.Context) error
	logger      *log.Logger
	loc         *time.Location
	settle      time.Duration
	rateLimiter *rateLimiter
	metrics     *securityMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Views == nil {
		return nil, fmt.Errorf("new server: view models are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	settle := deps.SettleTimeout
	if settle <= 0 {
		settle = 7 * time.Second
	}

	s := &Server{
		views:       deps.Views,
		journal:     deps.Journal,
		ready:       deps.Ready,
		logger:      logger,
		loc:         loc,
		settle:      settle,
		rateLimiter: newRateLimiter(deps.PostRatePerMinute),
		metrics:     &securityMetrics{},
	}

	t, err := template.New("").Funcs(s.templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s.templates = t

	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(log.RequestMiddleware(logger, uuid.NewString, extractClientIP))
	r.Use(s.securityHeaders)
	r.Use(s.rateLimitPosts)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(static)))
	r.Get("/static/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
		fileServer.ServeHTTP(w, r)
	})

	r.Get("/", s.handlePage(viewmodel.ViewDashboard))
	r.Get("/income-statement", s.handlePage(viewmodel.ViewIncomeStatement))
	r.Get("/audit", s.handlePage(viewmodel.ViewAudit))

	r.Route("/ui", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/{view}", s.handlePartial)
		r.Post("/{view}/range", s.handleRange)
	})
	r.Post("/transactions", s.handleCreateTransaction)
	r.Get("/api/dashboard/chart", s.handleChart)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Shutdown stops the rate limiter cleanup and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
