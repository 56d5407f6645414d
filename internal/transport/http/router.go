// Package httptransport is the thin HTTP layer. Handlers decode requests,
// delegate to domain services, and translate errors; no business logic lives
// here.
package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"siraj/internal/platform/metrics"
	dErrors "siraj/pkg/domain-errors"
	"siraj/pkg/platform/httputil"
	request "siraj/pkg/platform/middleware/request"
	"siraj/pkg/platform/middleware/requesttime"
	"siraj/pkg/platform/sentinel"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Registrar mounts a group of routes.
type Registrar interface {
	Register(r chi.Router)
}

// RouterConfig carries what the router needs beyond the route handlers.
type RouterConfig struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Health checks keyed by dependency name, run by /healthz.
	Health map[string]HealthCheck
	// RequestTimeout bounds every handler; zero disables it.
	RequestTimeout time.Duration
}

// NewRouter builds the chi router with the shared middleware chain and mounts
// every registrar under it.
func NewRouter(cfg RouterConfig, registrars ...Registrar) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(cfg.Metrics.Middleware)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", healthHandler(logger, cfg.Health))
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}
	for _, reg := range registrars {
		reg.Register(r)
	}
	return r
}

func healthHandler(logger *slog.Logger, checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
				body[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			body[name] = "ok"
		}
		if status == http.StatusOK {
			body["status"] = "ok"
		} else {
			body["status"] = "degraded"
		}
		httputil.WriteJSON(w, status, body)
	}
}

// writeServiceError logs and writes err. Store outages surface as 503;
// anything without a domain code is logged as an internal failure.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	ctx := r.Context()
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		if de.Code == dErrors.CodeInternal || de.Code == dErrors.CodeUnavailable {
			logger.ErrorContext(ctx, msg, "error", err, "request_id", request.GetRequestID(ctx))
		}
	case errors.Is(err, sentinel.ErrUnavailable):
		logger.ErrorContext(ctx, msg, "error", err, "request_id", request.GetRequestID(ctx))
		err = dErrors.Wrap(err, dErrors.CodeUnavailable, "storage temporarily unavailable")
	default:
		logger.ErrorContext(ctx, msg, "error", err, "request_id", request.GetRequestID(ctx))
	}
	httputil.WriteError(w, err)
}
