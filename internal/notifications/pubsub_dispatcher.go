package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/services"
)

// Message types published on the notification topic. A downstream worker picks
// these up and turns them into emails and operator alerts.
const (
	TypeOrderConfirmation      = "order.confirmation"
	TypeAdminNewOrder          = "order.admin_alert"
	TypeOrderStatusUpdate      = "order.status_update"
	TypeShippingPaymentLink    = "order.shipping_link"
	TypeShippingPaymentReceipt = "order.shipping_receipt"
)

// Message is the envelope published per notification.
type Message struct {
	Type           string     `json:"type"`
	OrderID        string     `json:"orderId"`
	OrderNumber    string     `json:"orderNumber"`
	UserID         string     `json:"userId"`
	Email          string     `json:"email,omitempty"`
	AdminEmail     string     `json:"adminEmail,omitempty"`
	Status         string     `json:"status,omitempty"`
	PreviousStatus string     `json:"previousStatus,omitempty"`
	PaymentStatus  string     `json:"paymentStatus,omitempty"`
	Total          int64      `json:"total,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	LinkID         string     `json:"linkId,omitempty"`
	LinkURL        string     `json:"linkUrl,omitempty"`
	Amount         int64      `json:"amount,omitempty"`
	AmountPaid     int64      `json:"amountPaid,omitempty"`
	LinkStatus     string     `json:"linkStatus,omitempty"`
	SentAt         time.Time  `json:"sentAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// PubSubDispatcherConfig bundles the dispatcher collaborators.
type PubSubDispatcherConfig struct {
	Topic      *pubsub.Topic
	AdminEmail string
	Logger     *zap.Logger
	Clock      func() time.Time
}

// PubSubDispatcher publishes notification messages to a Pub/Sub topic.
// Delivery is best effort; failures are logged and reported as false, never
// propagated into the order flow.
type PubSubDispatcher struct {
	topic      *pubsub.Topic
	adminEmail string
	logger     *zap.Logger
	clock      func() time.Time
	marshal    func(any) ([]byte, error)
}

var _ services.NotificationDispatcher = (*PubSubDispatcher)(nil)

// NewPubSubDispatcher constructs a Pub/Sub backed notification dispatcher.
func NewPubSubDispatcher(cfg PubSubDispatcherConfig) (*PubSubDispatcher, error) {
	if cfg.Topic == nil {
		return nil, errors.New("notification dispatcher: topic is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PubSubDispatcher{
		topic:      cfg.Topic,
		adminEmail: strings.TrimSpace(cfg.AdminEmail),
		logger:     logger,
		clock: func() time.Time {
			return clock().UTC()
		},
		marshal: json.Marshal,
	}, nil
}

func (d *PubSubDispatcher) SendOrderConfirmation(ctx context.Context, order services.Order, email string) bool {
	msg := d.newMessage(TypeOrderConfirmation, order)
	msg.Email = strings.TrimSpace(email)
	if msg.Email == "" {
		return false
	}
	return d.publish(ctx, msg)
}

func (d *PubSubDispatcher) SendAdminNewOrderAlert(ctx context.Context, order services.Order) bool {
	msg := d.newMessage(TypeAdminNewOrder, order)
	msg.AdminEmail = d.adminEmail
	return d.publish(ctx, msg)
}

func (d *PubSubDispatcher) SendOrderStatusUpdate(ctx context.Context, order services.Order, previous domain.OrderStatus) bool {
	msg := d.newMessage(TypeOrderStatusUpdate, order)
	msg.PreviousStatus = string(previous)
	return d.publish(ctx, msg)
}

func (d *PubSubDispatcher) SendShippingPaymentLink(ctx context.Context, order services.Order, payload services.ShippingPaymentNotification) bool {
	msg := d.newMessage(TypeShippingPaymentLink, order)
	msg.LinkID = payload.LinkID
	msg.LinkURL = payload.ShortURL
	msg.Amount = payload.Amount
	msg.AmountPaid = payload.AmountPaid
	msg.LinkStatus = string(payload.Status)
	if order.ShippingPayment != nil {
		msg.ExpiresAt = order.ShippingPayment.ExpiresAt
	}
	return d.publish(ctx, msg)
}

func (d *PubSubDispatcher) SendShippingPaymentReceipt(ctx context.Context, order services.Order, payload services.ShippingPaymentNotification) bool {
	msg := d.newMessage(TypeShippingPaymentReceipt, order)
	msg.LinkID = payload.LinkID
	msg.LinkURL = payload.ShortURL
	msg.Amount = payload.Amount
	msg.AmountPaid = payload.AmountPaid
	msg.LinkStatus = string(payload.Status)
	return d.publish(ctx, msg)
}

func (d *PubSubDispatcher) newMessage(msgType string, order services.Order) Message {
	return Message{
		Type:          msgType,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Total:         order.Totals.Total,
		Currency:      order.Currency,
		SentAt:        d.clock(),
	}
}

func (d *PubSubDispatcher) publish(ctx context.Context, msg Message) bool {
	if d == nil || d.topic == nil {
		return false
	}

	data, err := d.marshal(msg)
	if err != nil {
		d.logger.Warn("notifications.marshal_failed",
			zap.String("type", msg.Type),
			zap.String("orderId", msg.OrderID),
			zap.Error(fmt.Errorf("marshal notification: %w", err)),
		)
		return false
	}

	attrs := map[string]string{"type": msg.Type}
	if msg.OrderID != "" {
		attrs["orderId"] = msg.OrderID
	}

	result := d.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		d.logger.Warn("notifications.publish_failed",
			zap.String("type", msg.Type),
			zap.String("orderId", msg.OrderID),
			zap.Error(err),
		)
		return false
	}
	return true
}
