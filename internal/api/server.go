// Package api provides the HTTP server and routing.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/axonops/kafka-schema-registry/internal/api/handlers"
	"github.com/axonops/kafka-schema-registry/internal/config"
	"github.com/axonops/kafka-schema-registry/internal/metrics"
	"github.com/axonops/kafka-schema-registry/internal/registry"
)

// Server serves the registry REST API on one listener. Mutating routes go
// through the registry's leader-or-forward dispatch, so the same routes are
// mounted on every node.
type Server struct {
	config   *config.Config
	registry *registry.Registry
	router   chi.Router
	server   *http.Server
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewServer builds the server and its route table.
func NewServer(cfg *config.Config, reg *registry.Registry, logger *slog.Logger) *Server {
	s := &Server{
		config:   cfg,
		registry: reg,
		logger:   logger,
		metrics:  metrics.New(),
	}
	s.router = s.routes()
	return s
}

// Metrics exposes the collectors so the wiring layer can record leadership.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) routes() chi.Router {
	h := handlers.New(s.registry)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.loggingMiddleware,
		s.metrics.Middleware,
		middleware.Recoverer,
		middleware.Timeout(30*time.Second),
	)

	r.Get("/", h.HealthCheck)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/contexts", h.GetContexts)
	r.Get("/v1/metadata/version", h.GetServerVersion)

	r.Route("/schemas", func(r chi.Router) {
		r.Get("/", h.ListSchemas)
		r.Get("/types", h.GetSchemaTypes)
		r.Route("/ids/{id}", func(r chi.Router) {
			r.Get("/", h.GetSchemaByID)
			r.Get("/schema", h.GetRawSchemaByID)
			r.Get("/subjects", h.GetSubjectsBySchemaID)
			r.Get("/versions", h.GetVersionsBySchemaID)
		})
	})

	r.Route("/subjects", func(r chi.Router) {
		r.Get("/", h.ListSubjects)
		r.Route("/{subject}", func(r chi.Router) {
			r.Post("/", h.LookupSchema)
			r.Delete("/", h.DeleteSubject)
			r.Get("/versions", h.GetVersions)
			r.Post("/versions", h.RegisterSchema)
			r.Route("/versions/{version}", func(r chi.Router) {
				r.Get("/", h.GetVersion)
				r.Delete("/", h.DeleteVersion)
				r.Get("/schema", h.GetRawSchemaByVersion)
				r.Get("/referencedby", h.GetReferencedBy)
			})
		})
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/", h.GetConfig)
		r.Put("/", h.SetConfig)
		r.Delete("/", h.DeleteConfig)
		r.Get("/{subject}", h.GetConfig)
		r.Put("/{subject}", h.SetConfig)
		r.Delete("/{subject}", h.DeleteConfig)
	})

	r.Route("/mode", func(r chi.Router) {
		r.Get("/", h.GetMode)
		r.Put("/", h.SetMode)
		r.Get("/{subject}", h.GetMode)
		r.Put("/{subject}", h.SetMode)
		r.Delete("/{subject}", h.DeleteMode)
	})

	// An omitted version checks against every version of the subject.
	r.Post("/compatibility/subjects/{subject}/versions", h.CheckCompatibility)
	r.Post("/compatibility/subjects/{subject}/versions/{version}", h.CheckCompatibility)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start blocks serving the API until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	s.logger.Info("starting server", slog.String("address", addr))
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the route table, mountable in tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Address returns the externally reachable base URL of this node.
func (s *Server) Address() string {
	return fmt.Sprintf("%s://%s", s.config.Server.Scheme, s.config.Address())
}
