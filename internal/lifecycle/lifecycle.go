// Package lifecycle owns the tracked entities whose state transitions notify
// their owner: orders, enrollments and answered questions. Each operation
// stores the new state first and then hands the notification to the fan-out
// dispatcher in the background, so channel outcomes never fail the operation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"siraj/internal/docstore"
	"siraj/internal/fanout"
	dErrors "siraj/pkg/domain-errors"
	"siraj/pkg/platform/sentinel"
	"siraj/pkg/requestcontext"
)

// Document fields shared by every tracked entity.
const (
	fieldUserID    = "userId"
	fieldUserEmail = "userEmail"
	fieldStatus    = "status"
	fieldUpdatedAt = "updatedAt"
)

// Notifier accepts events for background delivery.
type Notifier interface {
	Detach(ctx context.Context, ev fanout.StateChangeEvent)
}

type Option func(*tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *tracker) {
		t.logger = logger
	}
}

func WithClock(now func(context.Context) time.Time) Option {
	return func(t *tracker) {
		t.now = now
	}
}

// tracker holds what the entity services share.
type tracker struct {
	store    docstore.Store
	notifier Notifier
	logger   *slog.Logger
	now      func(context.Context) time.Time
}

func newTracker(store docstore.Store, notifier Notifier, opts []Option) tracker {
	t := tracker{
		store:    store,
		notifier: notifier,
		logger:   slog.Default(),
		now:      requestcontext.Now,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func (t *tracker) load(ctx context.Context, collection, entity, id string) (docstore.Document, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, entity+" id is required")
	}
	doc, err := t.store.Get(ctx, collection, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("%s %s not found", entity, id))
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load "+entity)
	}
	return doc, nil
}

func (t *tracker) save(ctx context.Context, collection, entity, id string, fields map[string]any) error {
	fields[fieldUpdatedAt] = docstore.Timestamp(t.now(ctx))
	if err := t.store.Set(ctx, collection, id, fields, true); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to update "+entity)
	}
	return nil
}

// notify detaches ev for delivery to the document's owner. Documents without
// an owner are logged and skipped rather than broadcast.
func (t *tracker) notify(ctx context.Context, doc docstore.Document, ev fanout.StateChangeEvent, email bool) {
	userID, _ := doc[fieldUserID].(string)
	if userID == "" {
		t.logger.WarnContext(ctx, "tracked entity has no owner, skipping notification",
			"entity_kind", ev.EntityKind,
			"entity_id", ev.EntityID,
		)
		return
	}
	ev.RecipientUserID = userID
	ev.Metadata = map[string]string{}
	if email {
		ev.Metadata[fanout.MetaEmail] = "true"
		if addr, _ := doc[fieldUserEmail].(string); addr != "" {
			ev.Metadata[fanout.MetaRecipientEmail] = addr
		}
	}
	t.notifier.Detach(ctx, ev)
}

func stringField(doc docstore.Document, field string) string {
	s, _ := doc[field].(string)
	return s
}
