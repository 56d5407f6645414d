package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"siraj/internal/inspiration"
	"siraj/pkg/platform/httputil"
	"siraj/pkg/platform/middleware/admin"
	"siraj/pkg/platform/middleware/auth"
)

type DailyService interface {
	ApplyFacet(ctx context.Context, date string, kind inspiration.FacetKind, facet inspiration.Facet) (*inspiration.MergeOutcome, error)
	Get(ctx context.Context, date string) (*inspiration.DailyAggregate, error)
}

type RotationService interface {
	Today(ctx context.Context) (inspiration.Candidate, bool, error)
}

// DailyHandler serves the daily aggregate and the rotation pick.
type DailyHandler struct {
	logger       *slog.Logger
	daily        DailyService
	rotation     RotationService
	jwtValidator auth.JWTValidator
}

func NewDailyHandler(daily DailyService, rotation RotationService, jwtValidator auth.JWTValidator, logger *slog.Logger) *DailyHandler {
	return &DailyHandler{
		logger:       logger,
		daily:        daily,
		rotation:     rotation,
		jwtValidator: jwtValidator,
	}
}

func (h *DailyHandler) Register(r chi.Router) {
	r.Get("/v1/daily/{date}", h.handleGetDaily)
	r.Get("/v1/inspiration/today", h.handleToday)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
		r.Use(admin.RequireAdmin(h.logger))
		r.Put("/v1/daily/{date}/{facet}", h.handlePutFacet)
	})
}

func (h *DailyHandler) handlePutFacet(w http.ResponseWriter, r *http.Request) {
	kind, err := inspiration.ParseFacetKind(chi.URLParam(r, "facet"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var facet inspiration.Facet
	if err := httputil.DecodeJSON(r, &facet); err != nil {
		httputil.WriteError(w, err)
		return
	}

	outcome, err := h.daily.ApplyFacet(r.Context(), chi.URLParam(r, "date"), kind, facet)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to apply daily facet", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, outcome)
}

func (h *DailyHandler) handleGetDaily(w http.ResponseWriter, r *http.Request) {
	agg, err := h.daily.Get(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to load daily aggregate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agg)
}

func (h *DailyHandler) handleToday(w http.ResponseWriter, r *http.Request) {
	candidate, ok, err := h.rotation.Today(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to pick today's inspiration", err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, candidate)
}
