package inspiration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"siraj/internal/docstore"
	"siraj/internal/fanout"
	"siraj/internal/inspiration/metrics"
	"siraj/internal/notification"
	dErrors "siraj/pkg/domain-errors"
	"siraj/pkg/platform/sentinel"
	"siraj/pkg/requestcontext"
)

const fieldNotifiedAt = "notifiedAt"

// Status is the result class of one ApplyFacet call.
type Status string

const (
	// StatusIncomplete: the facet is stored and the day still lacks a facet.
	StatusIncomplete Status = "incomplete"
	// StatusDispatched: this call completed the day, won the claim and dispatched.
	StatusDispatched Status = "dispatched"
	// StatusAlreadyNotified: the day became complete while this call ran, but
	// another call won the claim.
	StatusAlreadyNotified Status = "already_notified"
	// StatusIncompleteOverwrite: the day was already notified when this call
	// began; the facet was replaced and nothing was dispatched.
	StatusIncompleteOverwrite Status = "incomplete_overwrite"
)

// MergeOutcome describes what ApplyFacet did.
type MergeOutcome struct {
	Status    Status          `json:"status"`
	Aggregate *DailyAggregate `json:"aggregate"`
	// Overwrote is true when the facet was already present before this call.
	Overwrote bool `json:"overwrote"`
	// FanOut is set only for StatusDispatched.
	FanOut *fanout.Result `json:"-"`
	// DispatchErr is the in-app record failure of the winning dispatch. The
	// claim is not rolled back.
	DispatchErr error `json:"-"`
}

// Dispatched reports whether this call sent the ready notification.
func (o *MergeOutcome) Dispatched() bool {
	return o != nil && o.Status == StatusDispatched
}

// Notifier is the fan-out dispatcher as seen by the merger.
type Notifier interface {
	Dispatch(ctx context.Context, ev fanout.StateChangeEvent) (*fanout.Result, error)
}

// Merger applies facet updates to daily aggregates.
type Merger struct {
	store    docstore.Store
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func(context.Context) time.Time
}

type MergerOption func(*Merger)

func WithLogger(logger *slog.Logger) MergerOption {
	return func(m *Merger) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) MergerOption {
	return func(m *Merger) {
		m.metrics = mt
	}
}

func WithClock(now func(context.Context) time.Time) MergerOption {
	return func(m *Merger) {
		m.now = now
	}
}

func NewMerger(store docstore.Store, notifier Notifier, opts ...MergerOption) *Merger {
	m := &Merger{
		store:    store,
		notifier: notifier,
		logger:   slog.Default(),
		tracer:   otel.Tracer("siraj/internal/inspiration"),
		now:      requestcontext.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ApplyFacet stores one facet for date and, if that completes the day,
// claims and sends the ready notification. Concurrent calls for the same date
// never clobber each other's facets, and across all of them at most one
// returns StatusDispatched. A store failure while merging aborts before any
// side effect.
func (m *Merger) ApplyFacet(ctx context.Context, date string, kind FacetKind, facet Facet) (*MergeOutcome, error) {
	ctx, span := m.tracer.Start(ctx, "inspiration.ApplyFacet", trace.WithAttributes(
		attribute.String("date", date),
		attribute.String("facet", string(kind)),
	))
	defer span.End()

	outcome, err := m.applyFacet(ctx, date, kind, facet)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("status", string(outcome.Status)))
	m.metrics.IncrementOutcome(string(outcome.Status))
	return outcome, nil
}

func (m *Merger) applyFacet(ctx context.Context, date string, kind FacetKind, facet Facet) (*MergeOutcome, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	if _, err := ParseFacetKind(string(kind)); err != nil {
		return nil, err
	}
	if err := facet.validate(); err != nil {
		return nil, err
	}

	// Only used to tell an overwrite of a settled day from a lost race.
	before, err := m.load(ctx, day)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("read daily aggregate %s: %w", day, err)
	}
	overwrote := before.Facet(kind) != nil
	settled := before.Notified()

	facetFields, err := docstore.Encode(facet)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, Collection, day, map[string]any{
		"date":       day,
		string(kind): facetFields,
	}, true); err != nil {
		return nil, fmt.Errorf("merge %s facet into %s: %w", kind, day, err)
	}

	agg, err := m.load(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("re-read daily aggregate %s: %w", day, err)
	}
	outcome := &MergeOutcome{Aggregate: agg, Overwrote: overwrote}

	switch {
	case !agg.Complete():
		outcome.Status = StatusIncomplete
		return outcome, nil
	case agg.Notified():
		outcome.Status = settledStatus(settled)
		return outcome, nil
	}

	now := m.now(ctx).UTC()
	err = m.store.ConditionalSet(ctx, Collection, day,
		map[string]any{fieldNotifiedAt: docstore.Timestamp(now)},
		docstore.Precondition{Absent: []string{fieldNotifiedAt}},
	)
	if errors.Is(err, sentinel.ErrConflict) {
		m.metrics.IncrementClaim(false)
		outcome.Status = settledStatus(settled)
		if fresh, loadErr := m.load(ctx, day); loadErr == nil {
			outcome.Aggregate = fresh
		}
		return outcome, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim notification for %s: %w", day, err)
	}
	m.metrics.IncrementClaim(true)
	agg.NotifiedAt = &now

	// The claim is stored and can never be won again, so the caller going away
	// must not cancel the broadcast.
	outcome.Status = StatusDispatched
	outcome.FanOut, outcome.DispatchErr = m.notifier.Dispatch(context.WithoutCancel(ctx), completionEvent(agg))
	if outcome.DispatchErr != nil {
		m.logger.ErrorContext(ctx, "daily inspiration claimed but in-app broadcast failed",
			"date", day,
			"error", outcome.DispatchErr,
		)
	}
	return outcome, nil
}

func settledStatus(settledBefore bool) Status {
	if settledBefore {
		return StatusIncompleteOverwrite
	}
	return StatusAlreadyNotified
}

// Get returns the aggregate for date.
func (m *Merger) Get(ctx context.Context, date string) (*DailyAggregate, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	agg, err := m.load(ctx, day)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no daily inspiration for %s", day))
	}
	return agg, err
}

func (m *Merger) load(ctx context.Context, day string) (*DailyAggregate, error) {
	doc, err := m.store.Get(ctx, Collection, day)
	if err != nil {
		return nil, err
	}
	var agg DailyAggregate
	if err := docstore.Decode(doc, &agg); err != nil {
		return nil, err
	}
	if agg.Date == "" {
		agg.Date = day
	}
	return &agg, nil
}

// completionEvent is the broadcast sent when a day's three facets are in.
func completionEvent(agg *DailyAggregate) fanout.StateChangeEvent {
	return fanout.StateChangeEvent{
		EntityKind: string(notification.KindDailyInspiration),
		EntityID:   agg.Date,
		NewState:   "complete",
		Title:      "Today's inspiration is ready",
		Body:       fmt.Sprintf("A new quote, hadith and ayah are ready for %s.", agg.Date),
		Metadata: map[string]string{
			"date": agg.Date,
		},
	}
}
