// Package httpapi exposes the file lifecycle engine over a JSON HTTP API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/logging"
	"github.com/cipherdrop/cipherdrop/internal/server/auth"
	"github.com/cipherdrop/cipherdrop/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	address        string
	publicBaseURL  string
	maxUploadBytes int64
	adminSecret    []byte

	files   *services.FileService
	logger  logging.Logger
	metrics *Metrics
	mux     *http.ServeMux
}

// New builds the API server. All instruments register against reg, and
// the same registry backs the /metrics endpoint.
func New(address, publicBaseURL string, maxUploadBytes int64, adminSecret []byte, files *services.FileService, logger logging.Logger, reg *prometheus.Registry) *Server {
	s := &Server{
		address:        address,
		publicBaseURL:  strings.TrimSuffix(publicBaseURL, "/"),
		maxUploadBytes: maxUploadBytes,
		adminSecret:    adminSecret,
		files:          files,
		logger:         logger.With("module", "httpapi"),
		metrics:        NewMetrics(reg),
		mux:            http.NewServeMux(),
	}
	s.setupRoutes(reg)
	return s
}

func (s *Server) setupRoutes(reg *prometheus.Registry) {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("POST /api/v1/files", s.instrument("upload", s.handleUpload))
	s.mux.HandleFunc("POST /api/v1/files/{ref}/download", s.instrument("download", s.handleDownload))
	s.mux.HandleFunc("GET /api/v1/files/{ref}", s.instrument("info", s.handleInfo))
	s.mux.HandleFunc("DELETE /api/v1/files/{id}", s.instrument("admin_delete", s.withAdminAuth(s.handleAdminDelete)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.address,
		Handler: s.mux,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// instrument wraps a handler with latency observation and request logging.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next(w, r)
		elapsed := time.Since(started)
		if s.metrics != nil {
			s.metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
		s.logger.Debug(r.Context(), "request handled",
			"route", route, "method", r.Method, "duration", elapsed)
	}
}

// withAdminAuth guards a handler behind a Bearer admin token.
func (s *Server) withAdminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.writeError(w, common.ErrInvalidToken)
			return
		}
		operator, err := auth.VerifyAdminToken(parts[1], s.adminSecret)
		if err != nil {
			s.writeError(w, common.ErrInvalidToken)
			return
		}
		s.logger.Info(r.Context(), "admin request", "operator", operator, "path", r.URL.Path)
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
