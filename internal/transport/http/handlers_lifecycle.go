package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"siraj/internal/lifecycle"
	"siraj/pkg/platform/httputil"
	"siraj/pkg/platform/middleware/admin"
	"siraj/pkg/platform/middleware/auth"
)

//go:generate mockgen -source=handlers_lifecycle.go -destination=mocks/lifecycle-mocks.go -package=mocks OrderService,EnrollmentService,QuestionService

type OrderService interface {
	UpdateStatus(ctx context.Context, orderID string, status lifecycle.OrderStatus) error
}

type EnrollmentService interface {
	UpdateStatus(ctx context.Context, enrollmentID string, status lifecycle.EnrollmentStatus) error
}

type QuestionService interface {
	Answer(ctx context.Context, questionID, answer string) error
}

type statusRequest struct {
	Status string `json:"status"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

// LifecycleHandler exposes the admin-only tracked entity transitions.
type LifecycleHandler struct {
	logger       *slog.Logger
	orders       OrderService
	enrollments  EnrollmentService
	questions    QuestionService
	jwtValidator auth.JWTValidator
}

func NewLifecycleHandler(
	orders OrderService,
	enrollments EnrollmentService,
	questions QuestionService,
	jwtValidator auth.JWTValidator,
	logger *slog.Logger) *LifecycleHandler {
	return &LifecycleHandler{
		logger:       logger,
		orders:       orders,
		enrollments:  enrollments,
		questions:    questions,
		jwtValidator: jwtValidator,
	}
}

func (h *LifecycleHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
		r.Use(admin.RequireAdmin(h.logger))
		r.Patch("/v1/orders/{id}/status", h.handleOrderStatus)
		r.Patch("/v1/enrollments/{id}/status", h.handleEnrollmentStatus)
		r.Post("/v1/questions/{id}/answer", h.handleAnswer)
	})
}

func (h *LifecycleHandler) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.orders.UpdateStatus(r.Context(), id, lifecycle.OrderStatus(req.Status)); err != nil {
		writeServiceError(w, r, h.logger, "failed to update order status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

func (h *LifecycleHandler) handleEnrollmentStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.enrollments.UpdateStatus(r.Context(), id, lifecycle.EnrollmentStatus(req.Status)); err != nil {
		writeServiceError(w, r, h.logger, "failed to update enrollment status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

func (h *LifecycleHandler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.questions.Answer(r.Context(), id, req.Answer); err != nil {
		writeServiceError(w, r, h.logger, "failed to answer question", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
