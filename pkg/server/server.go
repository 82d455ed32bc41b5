// Package server exposes the job service over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aragossa/tablescrub/pkg/jobs"
)

const defaultTimeout = 60 * time.Second

// Server holds the dependencies of the HTTP API.
type Server struct {
	router      *chi.Mux
	jobs        *jobs.Service
	secret      string
	maxUpload   int64
	corsOrigins []string
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithCORSOrigins sets allowed CORS origins. The default is ["*"].
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer builds a Server around svc. Every /v1 route requires
// "Authorization: Bearer <secret>"; uploads larger than maxUpload bytes are
// rejected with 413.
func NewServer(svc *jobs.Service, secret string, maxUpload int64, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		jobs:        svc,
		secret:      secret,
		maxUpload:   maxUpload,
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.secret))

		// Uploads are scrubbed inside the request; no request timeout.
		r.Post("/v1/jobs", s.handleJobCreate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Get("/v1/jobs/{jobID}", s.handleJobGet)
			r.Get("/v1/jobs/{jobID}/output", s.handleJobOutput)
			r.Delete("/v1/jobs/{jobID}", s.handleJobDelete)
			r.Get("/v1/metrics", s.handleMetrics)
		})
	})

	return r
}
