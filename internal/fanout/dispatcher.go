// Package fanout dispatches one state change across the in-app, push and
// email channels concurrently and reports each channel's outcome.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"siraj/internal/fanout/metrics"
	"siraj/internal/gateway/push"
	"siraj/internal/notification"
	"siraj/pkg/platform/sentinel"
)

const defaultChannelTimeout = 10 * time.Second

// Channel names one delivery path.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// Result is the per-channel outcome of one Dispatch. Push and email failures
// live in ChannelErrors and never fail the dispatch; only RecordErr does.
type Result struct {
	Record        *notification.Record
	RecordErr     error
	ChannelErrors map[Channel]error
	Delivered     []Channel
	Skipped       []Channel
}

// OK reports whether the durable in-app record was written.
func (r *Result) OK() bool {
	return r != nil && r.RecordErr == nil && r.Record != nil
}

// Dispatcher fans a StateChangeEvent out to every channel. It holds no state
// between dispatches other than the set of detached dispatches still running.
type Dispatcher struct {
	recorder Recorder
	push     PushSender
	mail     MailSender
	resolver EmailResolver
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	channelTimeout time.Duration

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithEmailResolver enables address lookup for events that do not carry
// MetaRecipientEmail.
func WithEmailResolver(r EmailResolver) Option {
	return func(d *Dispatcher) {
		d.resolver = r
	}
}

// WithChannelTimeout bounds each push and email call.
func WithChannelTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.channelTimeout = timeout
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// New builds a dispatcher. push and mail may be nil, which disables the channel.
func New(recorder Recorder, pushSender PushSender, mailSender MailSender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		recorder:       recorder,
		push:           pushSender,
		mail:           mailSender,
		logger:         slog.Default(),
		tracer:         otel.Tracer("siraj/internal/fanout"),
		channelTimeout: defaultChannelTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch writes the in-app record, sends the push message and, when the
// event is email-eligible, sends the email. The three run concurrently and
// Dispatch waits for all of them. The returned error is the in-app record
// failure, if any; the Result is always non-nil.
func (d *Dispatcher) Dispatch(ctx context.Context, ev StateChangeEvent) (*Result, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "fanout.Dispatch", trace.WithAttributes(
		attribute.String("entity.kind", ev.EntityKind),
		attribute.String("entity.id", ev.EntityID),
		attribute.Bool("broadcast", ev.Broadcast()),
	))
	defer span.End()
	defer func() { d.metrics.ObserveDispatchLatency(time.Since(start)) }()

	res := &Result{ChannelErrors: map[Channel]error{}}
	if err := ev.Validate(); err != nil {
		res.RecordErr = err
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	var (
		record            *notification.Record
		recordErr         error
		pushErr, emailErr error
		pushRan, emailRan bool
	)

	// Every goroutine returns nil so one channel's failure never cancels the others.
	var g errgroup.Group
	g.Go(func() error {
		record, recordErr = d.recorder.Record(ctx, ev.RecipientUserID, ev.Title, ev.Body,
			notification.Kind(ev.EntityKind), ev.EntityID)
		return nil
	})
	g.Go(func() error {
		pushRan, pushErr = d.sendPush(ctx, ev)
		return nil
	})
	g.Go(func() error {
		emailRan, emailErr = d.sendEmail(ctx, ev)
		return nil
	})
	_ = g.Wait()

	res.Record = record
	res.RecordErr = recordErr
	d.collect(ctx, res, ChannelInApp, true, recordErr, ev)
	d.collect(ctx, res, ChannelPush, pushRan, pushErr, ev)
	d.collect(ctx, res, ChannelEmail, emailRan, emailErr, ev)

	if recordErr != nil {
		span.SetStatus(codes.Error, recordErr.Error())
		return res, fmt.Errorf("fan-out in-app record: %w", recordErr)
	}
	return res, nil
}

// collect files one channel's outcome into res, logging failures.
func (d *Dispatcher) collect(ctx context.Context, res *Result, ch Channel, ran bool, err error, ev StateChangeEvent) {
	switch {
	case !ran:
		res.Skipped = append(res.Skipped, ch)
		d.metrics.IncrementOutcome(string(ch), metrics.OutcomeSkipped)
	case err != nil:
		if ch != ChannelInApp {
			res.ChannelErrors[ch] = err
		}
		d.metrics.IncrementOutcome(string(ch), metrics.OutcomeFailed)
		d.logger.WarnContext(ctx, "fan-out channel failed",
			"channel", ch,
			"entity_kind", ev.EntityKind,
			"entity_id", ev.EntityID,
			"error", err,
		)
	default:
		res.Delivered = append(res.Delivered, ch)
		d.metrics.IncrementOutcome(string(ch), metrics.OutcomeDelivered)
	}
}

func (d *Dispatcher) sendPush(ctx context.Context, ev StateChangeEvent) (bool, error) {
	if d.push == nil || !d.push.Enabled() {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	defer cancel()

	msg := push.Message{
		Title:     ev.Title,
		Body:      ev.Body,
		Broadcast: ev.Broadcast(),
		Data: map[string]string{
			"entityKind": ev.EntityKind,
			"entityId":   ev.EntityID,
			"state":      ev.NewState,
		},
	}
	if !msg.Broadcast {
		msg.TargetUserIDs = []string{ev.RecipientUserID}
	}
	return true, d.push.Send(ctx, msg)
}

// sendEmail resolves the recipient inside the channel so a slow lookup never
// delays the other channels. A user without an address skips the channel.
func (d *Dispatcher) sendEmail(ctx context.Context, ev StateChangeEvent) (bool, error) {
	if !ev.EmailEligible() || d.mail == nil || !d.mail.Enabled() {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	defer cancel()

	to := ev.Metadata[MetaRecipientEmail]
	if to == "" {
		if d.resolver == nil {
			return false, nil
		}
		addr, err := d.resolver.ResolveEmail(ctx, ev.RecipientUserID)
		if errors.Is(err, sentinel.ErrNotFound) {
			d.logger.DebugContext(ctx, "no email address for recipient, skipping email",
				"user_id", ev.RecipientUserID,
			)
			return false, nil
		}
		if err != nil {
			return true, err
		}
		to = addr
	}

	html, err := renderEmail(ev)
	if err != nil {
		return true, err
	}
	return true, d.mail.Send(ctx, to, ev.Title, html)
}

// Detach runs Dispatch in the background and returns immediately. The
// dispatch outlives ctx's cancellation but keeps its values. Outcomes are only
// logged; Drain waits for every detached dispatch.
func (d *Dispatcher) Detach(ctx context.Context, ev StateChangeEvent) {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		d.logger.WarnContext(ctx, "dispatcher draining, dispatching inline",
			"entity_kind", ev.EntityKind,
			"entity_id", ev.EntityID,
		)
		d.runDetached(context.WithoutCancel(ctx), ev)
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	d.metrics.IncDetached()
	go func() {
		defer d.inflight.Done()
		defer d.metrics.DecDetached()
		d.runDetached(context.WithoutCancel(ctx), ev)
	}()
}

func (d *Dispatcher) runDetached(ctx context.Context, ev StateChangeEvent) {
	res, err := d.Dispatch(ctx, ev)
	if err != nil {
		d.logger.ErrorContext(ctx, "detached dispatch lost its in-app record",
			"entity_kind", ev.EntityKind,
			"entity_id", ev.EntityID,
			"error", err,
		)
		return
	}
	d.logger.InfoContext(ctx, "detached dispatch finished",
		"entity_kind", ev.EntityKind,
		"entity_id", ev.EntityID,
		"record_id", res.Record.ID,
		"delivered", res.Delivered,
		"skipped", res.Skipped,
		"channel_errors", len(res.ChannelErrors),
	)
}

// Drain stops accepting background dispatches and waits for running ones,
// up to ctx's deadline.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain detached dispatches: %w", ctx.Err())
	}
}
