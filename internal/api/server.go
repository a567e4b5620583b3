package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config holds the listener settings.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the Kestrel HTTP API.
type Server struct {
	router *chi.Mux
	http   *http.Server
}

// NewServer builds the router over deps. Nothing listens until Start.
func NewServer(cfg Config, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(
		CORSMiddleware,
		RecoverMiddleware,
		TracingMiddleware,
		LoggingMiddleware(observer(deps)),
		middleware.RealIP,
		middleware.Compress(5),
	)
	mount(router, NewHandler(deps), deps)

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

func mount(r chi.Router, h *Handler, deps Deps) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Post("/detect", h.Detect)
	r.Post("/detect/batch", h.DetectBatch)
	r.Get("/verdicts/{id}", h.GetVerdict)
	r.Post("/fraud-reports", h.ReportFraud)

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.ListRules)
		r.Post("/", h.CreateRule)
		r.Post("/evaluate", h.EvaluateRules)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetRule)
			r.Put("/", h.UpdateRule)
			r.Delete("/", h.DeleteRule)
		})
	})
}

// observer avoids storing a typed nil in the HTTPObserver interface.
func observer(deps Deps) HTTPObserver {
	if deps.Metrics == nil {
		return nil
	}
	return deps.Metrics
}

// Start blocks serving HTTP until Shutdown; it then returns http.ErrServerClosed.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the handler tree for in-process tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
