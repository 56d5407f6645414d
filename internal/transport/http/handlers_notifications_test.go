package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siraj/internal/notification"
	"siraj/pkg/platform/sentinel"
	"siraj/pkg/testutil"
)

type stubNotifications struct {
	records   []notification.Record
	unread    int
	err       error
	gotUser   string
	gotLimit  int
	listCalls int
}

func (s *stubNotifications) ListForUser(_ context.Context, userID string, limit int) ([]notification.Record, error) {
	s.listCalls++
	s.gotUser, s.gotLimit = userID, limit
	return s.records, s.err
}

func (s *stubNotifications) UnreadCount(context.Context, string) (int, error) {
	return s.unread, s.err
}

func TestHandleList(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("missing user in context is an internal error", func(t *testing.T) {
		svc := &stubNotifications{}
		h := NewNotificationHandler(svc, nil, logger)

		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), testutil.NewRequest(t, http.MethodGet, "/v1/notifications"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Zero(t, svc.listCalls)
	})

	t.Run("passes caller and limit through", func(t *testing.T) {
		svc := &stubNotifications{
			records: []notification.Record{{ID: "n-1", UserID: "user-7", Title: "Order shipped"}},
			unread:  1,
		}
		h := NewNotificationHandler(svc, nil, logger)
		req := testutil.WithUserID(testutil.NewRequest(t, http.MethodGet, "/v1/notifications?limit=5"), "user-7")

		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "user-7", svc.gotUser)
		assert.Equal(t, 5, svc.gotLimit)
		var body notificationsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Unread)
		require.Len(t, body.Notifications, 1)
		assert.Equal(t, "n-1", body.Notifications[0].ID)
	})

	t.Run("nil records encode as an empty list", func(t *testing.T) {
		h := NewNotificationHandler(&stubNotifications{}, nil, logger)
		req := testutil.WithUserID(testutil.NewRequest(t, http.MethodGet, "/v1/notifications"), "user-7")

		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), req)

		require.Equal(t, http.StatusOK, rr.Code)
		want := testutil.MustMarshal(t, notificationsResponse{Notifications: []notification.Record{}})
		assert.JSONEq(t, want, rr.Body.String())
		testutil.AssertJSONHasKey(t, rr, "notifications")
	})

	t.Run("negative limit is rejected", func(t *testing.T) {
		svc := &stubNotifications{}
		h := NewNotificationHandler(svc, nil, logger)
		req := testutil.WithUserID(testutil.NewRequest(t, http.MethodGet, "/v1/notifications?limit=-1"), "user-7")

		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), req)

		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		testutil.AssertErrorCode(t, rr, "bad_request")
		assert.Zero(t, svc.listCalls)
	})

	t.Run("unavailable store maps to 503", func(t *testing.T) {
		svc := &stubNotifications{err: fmt.Errorf("query: %w", sentinel.ErrUnavailable)}
		h := NewNotificationHandler(svc, nil, logger)
		req := testutil.WithUserID(testutil.NewRequest(t, http.MethodGet, "/v1/notifications"), "user-7")

		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		errResp := testutil.UnmarshalErrorResponse(t, rr)
		assert.Equal(t, "unavailable", errResp["error"])
		assert.Equal(t, "storage temporarily unavailable", errResp["error_description"])
	})
}
