package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func testOrder() services.Order {
	return services.Order{
		ID:            "ord_1",
		Number:        "CH-2024-000042",
		UserID:        "user_1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusAwaiting,
		Currency:      "INR",
		Totals:        domain.OrderTotals{Total: 15800},
	}
}

func TestPubSubDispatcherSendOrderConfirmation(t *testing.T) {
	srv, topic := newTestTopic(t)

	sentAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	dispatcher, err := NewPubSubDispatcher(PubSubDispatcherConfig{
		Topic:      topic,
		AdminEmail: "ops@example.com",
		Clock:      func() time.Time { return sentAt },
	})
	if err != nil {
		t.Fatalf("NewPubSubDispatcher: %v", err)
	}

	if ok := dispatcher.SendOrderConfirmation(context.Background(), testOrder(), "buyer@example.com"); !ok {
		t.Fatalf("expected confirmation dispatch to succeed")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload Message
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != TypeOrderConfirmation {
		t.Fatalf("unexpected type %s", payload.Type)
	}
	if payload.OrderID != "ord_1" || payload.OrderNumber != "CH-2024-000042" {
		t.Fatalf("unexpected order fields %#v", payload)
	}
	if payload.Email != "buyer@example.com" {
		t.Fatalf("unexpected email %s", payload.Email)
	}
	if payload.Total != 15800 || payload.Currency != "INR" {
		t.Fatalf("unexpected totals %#v", payload)
	}
	if !payload.SentAt.Equal(sentAt) {
		t.Fatalf("unexpected sentAt %s", payload.SentAt)
	}
	if messages[0].Attributes["type"] != TypeOrderConfirmation {
		t.Fatalf("expected type attribute, got %v", messages[0].Attributes)
	}
	if messages[0].Attributes["orderId"] != "ord_1" {
		t.Fatalf("expected orderId attribute, got %v", messages[0].Attributes)
	}
}

func TestPubSubDispatcherSkipsConfirmationWithoutEmail(t *testing.T) {
	srv, topic := newTestTopic(t)

	dispatcher, err := NewPubSubDispatcher(PubSubDispatcherConfig{Topic: topic})
	if err != nil {
		t.Fatalf("NewPubSubDispatcher: %v", err)
	}

	if ok := dispatcher.SendOrderConfirmation(context.Background(), testOrder(), "  "); ok {
		t.Fatalf("expected dispatch without email to report false")
	}
	if len(srv.Messages()) != 0 {
		t.Fatalf("expected no messages published")
	}
}

func TestPubSubDispatcherStatusUpdateCarriesPreviousStatus(t *testing.T) {
	srv, topic := newTestTopic(t)

	dispatcher, err := NewPubSubDispatcher(PubSubDispatcherConfig{Topic: topic})
	if err != nil {
		t.Fatalf("NewPubSubDispatcher: %v", err)
	}

	order := testOrder()
	order.Status = domain.OrderStatusConfirmed
	if ok := dispatcher.SendOrderStatusUpdate(context.Background(), order, domain.OrderStatusPending); !ok {
		t.Fatalf("expected status update dispatch to succeed")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload Message
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Status != "confirmed" || payload.PreviousStatus != "pending" {
		t.Fatalf("unexpected status fields %#v", payload)
	}
}

func TestPubSubDispatcherShippingLink(t *testing.T) {
	srv, topic := newTestTopic(t)

	dispatcher, err := NewPubSubDispatcher(PubSubDispatcherConfig{Topic: topic})
	if err != nil {
		t.Fatalf("NewPubSubDispatcher: %v", err)
	}

	expires := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	order := testOrder()
	order.ShippingPayment = &domain.ShippingPayment{
		LinkID:    "plink_1",
		ShortURL:  "https://rzp.io/l/abc",
		Amount:    9900,
		Status:    domain.ShippingPaymentPending,
		ExpiresAt: &expires,
	}

	ok := dispatcher.SendShippingPaymentLink(context.Background(), order, services.ShippingPaymentNotification{
		LinkID:   "plink_1",
		ShortURL: "https://rzp.io/l/abc",
		Amount:   9900,
		Status:   domain.ShippingPaymentPending,
	})
	if !ok {
		t.Fatalf("expected shipping link dispatch to succeed")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload Message
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.LinkID != "plink_1" || payload.LinkURL != "https://rzp.io/l/abc" {
		t.Fatalf("unexpected link fields %#v", payload)
	}
	if payload.Amount != 9900 || payload.LinkStatus != "pending" {
		t.Fatalf("unexpected link payload %#v", payload)
	}
	if payload.ExpiresAt == nil || !payload.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry to be carried, got %v", payload.ExpiresAt)
	}
}

func TestNewPubSubDispatcherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubDispatcher(PubSubDispatcherConfig{}); err == nil {
		t.Fatalf("expected error when topic missing")
	}
}
