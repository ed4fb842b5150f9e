package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/vigilstack/vigil-vmhealth/internal/config"
)

// NewRouter builds the route table for the health API.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogging(h.logger))

	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/vmhealth").Subrouter()
	api.HandleFunc("/status", h.Status).Methods(http.MethodPost)
	api.HandleFunc("/fleet", h.Fleet).Methods(http.MethodPost)
	api.HandleFunc("/completeness", h.Completeness).Methods(http.MethodPost)
	api.HandleFunc("/rules", h.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules/{name}", h.UpdateRule).Methods(http.MethodPatch)
	api.HandleFunc("/alerts", h.Alerts).Methods(http.MethodGet)

	return r
}

// Server wraps the HTTP listener serving the health API.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
}

// NewServer assembles the CORS-wrapped HTTP server from configuration.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	corsWrapper := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      corsWrapper.Handler(handler),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves requests until Shutdown is invoked. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Address exposes the configured listen address.
func (s *Server) Address() string {
	return s.cfg.Address
}

// GracefulTimeout exposes the configured shutdown grace period.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}

func requestLogging(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			logger.Info("request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}
