package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"siraj/internal/notification"
	dErrors "siraj/pkg/domain-errors"
	"siraj/pkg/platform/httputil"
	"siraj/pkg/platform/middleware/auth"
	"siraj/pkg/requestcontext"
)

type NotificationService interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]notification.Record, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type notificationsResponse struct {
	Notifications []notification.Record `json:"notifications"`
	Unread        int                   `json:"unread"`
}

// NotificationHandler serves the caller's notification feed.
type NotificationHandler struct {
	logger        *slog.Logger
	notifications NotificationService
	jwtValidator  auth.JWTValidator
}

func NewNotificationHandler(notifications NotificationService, jwtValidator auth.JWTValidator, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		logger:        logger,
		notifications: notifications,
		jwtValidator:  jwtValidator,
	}
}

func (h *NotificationHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/v1/notifications", h.handleList)
	})
}

func (h *NotificationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)
	if userID == "" {
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware")
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	records, err := h.notifications.ListForUser(ctx, userID, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list notifications", err)
		return
	}
	unread, err := h.notifications.UnreadCount(ctx, userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to count unread notifications", err)
		return
	}
	if records == nil {
		records = []notification.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, notificationsResponse{Notifications: records, Unread: unread})
}
