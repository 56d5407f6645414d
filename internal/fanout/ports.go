package fanout

import (
	"context"

	"siraj/internal/gateway/push"
	"siraj/internal/notification"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Recorder,PushSender,MailSender,EmailResolver

// Recorder persists the in-app record, the dispatch's durable outcome.
type Recorder interface {
	Record(ctx context.Context, userID, title, message string, kind notification.Kind, relatedEntityID string) (*notification.Record, error)
}

// PushSender is the push gateway.
type PushSender interface {
	Enabled() bool
	Send(ctx context.Context, msg push.Message) error
}

// MailSender is the mail gateway.
type MailSender interface {
	Enabled() bool
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// EmailResolver looks up a user's address. It returns sentinel.ErrNotFound
// when the user has none.
type EmailResolver interface {
	ResolveEmail(ctx context.Context, userID string) (string, error)
}
