package lifecycle

import (
	"context"
	"fmt"

	"siraj/internal/docstore"
	"siraj/internal/fanout"
	"siraj/internal/notification"
	dErrors "siraj/pkg/domain-errors"
)

const OrdersCollection = "orders"

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

var orderMessages = map[OrderStatus]struct {
	title, body string
	email       bool
}{
	OrderPending:    {"Order received", "Your order %s has been received.", false},
	OrderProcessing: {"Order processing", "Your order %s is being prepared.", false},
	OrderShipped:    {"Order shipped", "Your order %s is on its way.", true},
	OrderDelivered:  {"Order delivered", "Your order %s has been delivered.", true},
	OrderCancelled:  {"Order cancelled", "Your order %s has been cancelled.", true},
}

// Orders updates order status and notifies the buyer.
type Orders struct {
	tracker
}

func NewOrders(store docstore.Store, notifier Notifier, opts ...Option) *Orders {
	return &Orders{tracker: newTracker(store, notifier, opts)}
}

// UpdateStatus moves the order to status. Setting the current status again
// succeeds without notifying.
func (o *Orders) UpdateStatus(ctx context.Context, orderID string, status OrderStatus) error {
	msg, ok := orderMessages[status]
	if !ok {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid order status %q", status))
	}
	doc, err := o.load(ctx, OrdersCollection, "order", orderID)
	if err != nil {
		return err
	}
	if OrderStatus(stringField(doc, fieldStatus)) == status {
		return nil
	}
	if err := o.save(ctx, OrdersCollection, "order", orderID, map[string]any{fieldStatus: string(status)}); err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "order status updated",
		"order_id", orderID,
		"status", status,
	)
	o.notify(ctx, doc, fanout.StateChangeEvent{
		EntityKind: string(notification.KindOrder),
		EntityID:   orderID,
		NewState:   string(status),
		Title:      msg.title,
		Body:       fmt.Sprintf(msg.body, orderID),
	}, msg.email)
	return nil
}
