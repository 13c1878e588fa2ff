package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loanflow/internal/platform/health"
)

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// OpsRouter mounts the health probes and the Prometheus scrape endpoint.
func OpsRouter(h *health.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	h.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	return r
}
