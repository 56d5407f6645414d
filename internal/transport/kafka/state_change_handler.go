package kafkatransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"siraj/internal/fanout"
	"siraj/internal/platform/kafka/consumer"
)

// Dispatcher is the fan-out entry point used for consumed events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev fanout.StateChangeEvent) (*fanout.Result, error)
}

// StateChangeHandler dispatches JSON StateChangeEvents emitted by other
// services. Malformed payloads are logged and dropped.
type StateChangeHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewStateChangeHandler(dispatcher Dispatcher, logger *slog.Logger) *StateChangeHandler {
	return &StateChangeHandler{dispatcher: dispatcher, logger: logger}
}

func (h *StateChangeHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	var ev fanout.StateChangeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		h.logger.WarnContext(ctx, "dropping malformed state change",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if err := ev.Validate(); err != nil {
		h.logger.WarnContext(ctx, "dropping invalid state change",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	res, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		return fmt.Errorf("dispatch %s %s: %w", ev.EntityKind, ev.EntityID, err)
	}
	h.logger.DebugContext(ctx, "state change dispatched",
		"entity_kind", ev.EntityKind,
		"entity_id", ev.EntityID,
		"delivered", res.Delivered,
		"channel_errors", len(res.ChannelErrors),
	)
	return nil
}
