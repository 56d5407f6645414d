package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"siraj/internal/docstore"
	"siraj/internal/fanout/mocks"
	"siraj/internal/gateway"
	"siraj/internal/gateway/push"
	"siraj/internal/notification"
	dErrors "siraj/pkg/domain-errors"
	"siraj/pkg/platform/sentinel"
)

type DispatcherSuite struct {
	suite.Suite
	ctx      context.Context
	recorder *mocks.MockRecorder
	push     *mocks.MockPushSender
	mail     *mocks.MockMailSender
	resolver *mocks.MockEmailResolver
	d        *Dispatcher
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.ctx = context.Background()
	s.recorder = mocks.NewMockRecorder(ctrl)
	s.push = mocks.NewMockPushSender(ctrl)
	s.mail = mocks.NewMockMailSender(ctrl)
	s.resolver = mocks.NewMockEmailResolver(ctrl)
	s.push.EXPECT().Enabled().Return(true).AnyTimes()
	s.mail.EXPECT().Enabled().Return(true).AnyTimes()
	s.d = New(s.recorder, s.push, s.mail,
		WithEmailResolver(s.resolver),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithChannelTimeout(200*time.Millisecond),
	)
}

func orderShipped() StateChangeEvent {
	return StateChangeEvent{
		EntityKind:      "order",
		EntityID:        "order-9",
		RecipientUserID: "user-1",
		NewState:        "shipped",
		Title:           "Order shipped",
		Body:            "Your order is on its way",
		Metadata:        map[string]string{MetaEmail: "true", MetaRecipientEmail: "amina@example.com"},
	}
}

func record(id, userID string) *notification.Record {
	return &notification.Record{ID: id, UserID: userID, CreatedAt: time.Now()}
}

func (s *DispatcherSuite) TestAllChannelsDelivered() {
	ev := orderShipped()
	s.recorder.EXPECT().
		Record(gomock.Any(), "user-1", "Order shipped", "Your order is on its way", notification.KindOrder, "order-9").
		Return(record("n-1", "user-1"), nil)
	s.push.EXPECT().Send(gomock.Any(), push.Message{
		Title:         "Order shipped",
		Body:          "Your order is on its way",
		TargetUserIDs: []string{"user-1"},
		Data:          map[string]string{"entityKind": "order", "entityId": "order-9", "state": "shipped"},
	}).Return(nil)
	s.mail.EXPECT().Send(gomock.Any(), "amina@example.com", "Order shipped", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, html string) error {
			s.Contains(html, "Your order is on its way")
			s.Contains(html, "shipped")
			return nil
		})

	res, err := s.d.Dispatch(s.ctx, ev)
	s.Require().NoError(err)
	s.True(res.OK())
	s.Equal("n-1", res.Record.ID)
	s.ElementsMatch([]Channel{ChannelInApp, ChannelPush, ChannelEmail}, res.Delivered)
	s.Empty(res.ChannelErrors)
	s.Empty(res.Skipped)
}

func (s *DispatcherSuite) TestDispatchSpan() {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	d := New(s.recorder, s.push, s.mail,
		WithEmailResolver(s.resolver),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTracer(tp.Tracer("test")),
	)
	storeErr := fmt.Errorf("set: %w", sentinel.ErrUnavailable)
	s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, storeErr)
	s.push.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
	s.mail.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	_, err := d.Dispatch(s.ctx, orderShipped())
	s.Require().Error(err)

	spans := sr.Ended()
	s.Require().Len(spans, 1)
	s.Equal("fanout.Dispatch", spans[0].Name())
	s.Contains(spans[0].Attributes(), attribute.String("entity.kind", "order"))
	s.Contains(spans[0].Attributes(), attribute.Bool("broadcast", false))
	s.Equal(otelcodes.Error, spans[0].Status().Code)
}

func (s *DispatcherSuite) TestPushFailureIsIsolated() {
	s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(record("n-1", "user-1"), nil)
	pushErr := gateway.Unreachable("push", errors.New("connection reset"))
	s.push.EXPECT().Send(gomock.Any(), gomock.Any()).Return(pushErr)
	s.mail.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	res, err := s.d.Dispatch(s.ctx, orderShipped())
	s.Require().NoError(err, "push failure must not fail the dispatch")
	s.True(res.OK())
	s.ErrorIs(res.ChannelErrors[ChannelPush], gateway.ErrUnreachable)
	s.ElementsMatch([]Channel{ChannelInApp, ChannelEmail}, res.Delivered)
}

func (s *DispatcherSuite) TestRecordFailureStillAttemptsOtherChannels() {
	storeErr := fmt.Errorf("set: %w", sentinel.ErrUnavailable)
	s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, storeErr)
	s.push.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
	s.mail.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	res, err := s.d.Dispatch(s.ctx, orderShipped())
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.False(res.OK())
	s.ErrorIs(res.RecordErr, sentinel.ErrUnavailable)
	s.ElementsMatch([]Channel{ChannelPush, ChannelEmail}, res.Delivered)
}

func (s *DispatcherSuite) TestChannelsRunConcurrently() {
	recorded := make(chan struct{})
	s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, string, string, notification.Kind, string) (*notification.Record, error) {
			close(recorded)
			return record("n-1", "user-1"), nil
		})
	// Push only succeeds if the record write happens while it is in flight.
	s.push.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ push.Message) error {
			select {
			case <-recorded:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	s.mail.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	res, err := s.d.Dispatch(s.ctx, orderShipped())
	s.Require().NoError(err)
	s.Empty(res.ChannelErrors)
}

func (s *DispatcherSuite) TestGatewayTimeoutIsChannelLocal() {
	s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(record("n-1", "user-1"), nil)
	s.push.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ push.Message) error {
			<-ctx.Done()
			return gateway.Unreachable("push", ctx.Err())
		})
	s.mail.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	start := time.Now()
	res, err := s.d.Dispatch(s.ctx, orderShipped())
	s.Require().NoError(err)
	s.Less(time.Since(start), 2*time.Second)
	s.ErrorIs(res.ChannelErrors[ChannelPush], context.DeadlineExceeded)
}

func (s *DispatcherSuite) TestEmailEligibility() {
	s.Run("ineligible transition skips email", func() {
		ev := orderShipped()
		ev.Metadata = nil
		s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(record("n-1", "user-1"), nil)
		s.push.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

		res, err := s.d.Dispatch(s.ctx, ev)
		s.Require().NoError(err)
		s.Equal([]Channel{ChannelEmail}, res.Skipped)
	})

	s.Run("address resolved from user profile", func() {
		ev := orderShipped()
		delete(ev.Metadata, MetaRecipientEmail)
		s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(record("n-1", "user-1"), nil)
		s.push.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
		s.resolver.EXPECT().ResolveEmail(gomock.Any(), "user-1").Return("omar@example.com", nil)
		s.mail.EXPECT().Send(gomock.Any(), "omar@example.com", gomock.Any(), gomock.Any()).Return(nil)

		res, err := s.d.Dispatch(s.ctx, ev)
		s.Require().NoError(err)
		s.Contains(res.Delivered, ChannelEmail)
	})

	s.Run("unresolvable address skips email", func() {
		ev := orderShipped()
		delete(ev.Metadata, MetaRecipientEmail)
		s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(record("n-1", "user-1"), nil)
		s.push.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
		s.resolver.EXPECT().ResolveEmail(gomock.Any(), "user-1").Return("", sentinel.ErrNotFound)

		res, err := s.d.Dispatch(s.ctx, ev)
		s.Require().NoError(err)
		s.Equal([]Channel{ChannelEmail}, res.Skipped)
	})

	s.Run("resolver outage is a channel error", func() {
		ev := orderShipped()
		delete(ev.Metadata, MetaRecipientEmail)
		s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(record("n-1", "user-1"), nil)
		s.push.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
		s.resolver.EXPECT().ResolveEmail(gomock.Any(), "user-1").Return("", sentinel.ErrUnavailable)

		res, err := s.d.Dispatch(s.ctx, ev)
		s.Require().NoError(err)
		s.ErrorIs(res.ChannelErrors[ChannelEmail], sentinel.ErrUnavailable)
	})
}

func (s *DispatcherSuite) TestBroadcastEvent() {
	ev := StateChangeEvent{
		EntityKind: "daily_inspiration",
		EntityID:   "2025-03-10",
		NewState:   "complete",
		Title:      "Today's inspiration is ready",
		Body:       "A quote, a hadith and an ayah for 2025-03-10",
		Metadata:   map[string]string{MetaEmail: "true"},
	}
	s.recorder.EXPECT().Record(gomock.Any(), "", ev.Title, ev.Body, notification.KindDailyInspiration, "2025-03-10").
		Return(record("n-1", notification.BroadcastUserID), nil)
	s.push.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg push.Message) error {
			s.True(msg.Broadcast)
			s.Empty(msg.TargetUserIDs)
			return nil
		})

	res, err := s.d.Dispatch(s.ctx, ev)
	s.Require().NoError(err)
	s.Equal([]Channel{ChannelEmail}, res.Skipped, "broadcasts never email")
}

func (s *DispatcherSuite) TestDisabledChannelsAreSkipped() {
	d := New(s.recorder, nil, nil, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(record("n-1", "user-1"), nil)

	res, err := d.Dispatch(s.ctx, orderShipped())
	s.Require().NoError(err)
	s.ElementsMatch([]Channel{ChannelPush, ChannelEmail}, res.Skipped)
	s.Equal([]Channel{ChannelInApp}, res.Delivered)
}

func (s *DispatcherSuite) TestInvalidEvent() {
	res, err := s.d.Dispatch(s.ctx, StateChangeEvent{EntityKind: "order"})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	s.False(res.OK())
}

func (s *DispatcherSuite) TestDetachAndDrain() {
	ctx, cancel := context.WithCancel(s.ctx)
	release := make(chan struct{})
	s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _, _ string, _ notification.Kind, _ string) (*notification.Record, error) {
			<-release
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return record("n-1", "user-1"), nil
		}).Times(2)
	s.push.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.mail.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)

	s.d.Detach(ctx, orderShipped())
	// The request that triggered the dispatch finishing must not cancel it.
	cancel()

	short, stop := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer stop()
	s.ErrorIs(s.d.Drain(short), context.DeadlineExceeded)

	close(release)
	s.Require().NoError(s.d.Drain(s.ctx))

	// After draining starts, detached work runs inline.
	s.d.Detach(s.ctx, orderShipped())
}

func TestDocumentEmailResolver(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	resolver := NewDocumentEmailResolver(store)
	if err := store.Set(ctx, UsersCollection, "user-1", map[string]any{"email": "amina@example.com"}, false); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, UsersCollection, "user-2", map[string]any{"name": "Omar"}, false); err != nil {
		t.Fatal(err)
	}

	addr, err := resolver.ResolveEmail(ctx, "user-1")
	if err != nil || addr != "amina@example.com" {
		t.Fatalf("got %q, %v", addr, err)
	}
	if _, err := resolver.ResolveEmail(ctx, "user-2"); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := resolver.ResolveEmail(ctx, "missing"); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRenderEmailEscapesContent(t *testing.T) {
	html, err := renderEmail(StateChangeEvent{Title: "Hi", Body: "<script>alert(1)</script>"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("body was not escaped: %s", html)
	}
}
