// Package notification persists in-app notification records.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"siraj/internal/docstore"
	dErrors "siraj/pkg/domain-errors"
	"siraj/pkg/requestcontext"
)

const (
	// Collection holds one document per record, keyed by generated id.
	Collection = "notifications"
	// BroadcastUserID marks records addressed to every user.
	BroadcastUserID = "all"

	defaultListLimit = 50
	maxListLimit     = 200
)

// Kind classifies a record for client rendering.
type Kind string

const (
	KindOrder            Kind = "order"
	KindEnrollment       Kind = "enrollment"
	KindQuestion         Kind = "question"
	KindDailyInspiration Kind = "daily_inspiration"
	KindGeneral          Kind = "general"
)

// Record is an in-app notification. Created unread; acknowledgement happens
// elsewhere and records are never deleted here.
type Record struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Kind            Kind      `json:"type"`
	Read            bool      `json:"read"`
	CreatedAt       time.Time `json:"createdAt"`
	RelatedEntityID string    `json:"relatedEntityId,omitempty"`
}

// IsBroadcast reports whether the record targets every user.
func (r Record) IsBroadcast() bool {
	return r.UserID == BroadcastUserID
}

// Recorder writes and reads notification records.
type Recorder struct {
	store  docstore.Store
	logger *slog.Logger
	now    func(context.Context) time.Time
	newID  func() string
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithClock overrides the request-scoped clock.
func WithClock(now func(context.Context) time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(newID func() string) Option {
	return func(r *Recorder) {
		r.newID = newID
	}
}

func New(store docstore.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.Default(),
		now:    requestcontext.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record creates an unread record with a server-assigned id and timestamp.
// An empty userID addresses the record to every user.
func (r *Recorder) Record(ctx context.Context, userID, title, message string, kind Kind, relatedEntityID string) (*Record, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(message) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "notification needs a title or message")
	}
	if userID == "" {
		userID = BroadcastUserID
	}
	if kind == "" {
		kind = KindGeneral
	}

	rec := &Record{
		ID:              r.newID(),
		UserID:          userID,
		Title:           title,
		Message:         message,
		Kind:            kind,
		Read:            false,
		CreatedAt:       r.now(ctx).UTC(),
		RelatedEntityID: relatedEntityID,
	}

	fields, err := docstore.Encode(rec)
	if err != nil {
		return nil, err
	}
	delete(fields, docstore.FieldID)
	fields["createdAt"] = docstore.Timestamp(rec.CreatedAt)
	if err := r.store.Set(ctx, Collection, rec.ID, fields, false); err != nil {
		r.logger.ErrorContext(ctx, "failed to write notification record",
			"error", err,
			"user_id", userID,
			"related_entity_id", relatedEntityID,
		)
		return nil, fmt.Errorf("record notification: %w", err)
	}
	return rec, nil
}

// ListForUser returns the user's own records together with broadcast records,
// newest first.
func (r *Recorder) ListForUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	q := docstore.Query{OrderBy: "createdAt", Desc: true, Limit: limit}
	own, err := r.query(ctx, userID, q)
	if err != nil {
		return nil, err
	}
	broadcast, err := r.query(ctx, BroadcastUserID, q)
	if err != nil {
		return nil, err
	}
	return mergeNewestFirst(own, broadcast, limit), nil
}

// UnreadCount counts the user's unread records. Broadcast records are not
// counted since their read state is not tracked per user.
func (r *Recorder) UnreadCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	n, err := r.store.Count(ctx, Collection,
		docstore.Where("userId", userID),
		docstore.Where("read", false),
	)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

func (r *Recorder) query(ctx context.Context, userID string, q docstore.Query) ([]Record, error) {
	q.Filters = []docstore.Filter{docstore.Where("userId", userID)}
	docs, err := r.store.Query(ctx, Collection, q)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		var rec Record
		if err := docstore.Decode(doc, &rec); err != nil {
			r.logger.WarnContext(ctx, "skipping malformed notification record",
				"error", err,
				"id", doc.ID(),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// mergeNewestFirst merges two lists already sorted newest first.
func mergeNewestFirst(a, b []Record, limit int) []Record {
	out := make([]Record, 0, min(len(a)+len(b), limit))
	i, j := 0, 0
	for len(out) < limit && (i < len(a) || j < len(b)) {
		switch {
		case j >= len(b) || (i < len(a) && !a[i].CreatedAt.Before(b[j].CreatedAt)):
			out = append(out, a[i])
			i++
		default:
			out = append(out, b[j])
			j++
		}
	}
	return out
}
