package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/payments"
)

type stubOrderService struct {
	markCapturedFn  func(ctx context.Context, cmd PaymentCapturedCommand) (Order, error)
	markFailedFn    func(ctx context.Context, cmd PaymentFailedCommand) (Order, error)
	applyShippingFn func(ctx context.Context, cmd ShippingPaymentEventCommand) (Order, error)
}

func (s *stubOrderService) Create(context.Context, CreateOrderCommand) (Order, error) {
	return Order{}, errors.New("not configured")
}

func (s *stubOrderService) Get(context.Context, string) (Order, error) {
	return Order{}, errors.New("not configured")
}

func (s *stubOrderService) List(context.Context, OrderListFilter) (domain.CursorPage[Order], error) {
	return domain.CursorPage[Order]{}, errors.New("not configured")
}

func (s *stubOrderService) TransitionStatus(context.Context, OrderStatusTransitionCommand) (Order, error) {
	return Order{}, errors.New("not configured")
}

func (s *stubOrderService) Cancel(context.Context, CancelOrderCommand) (Order, error) {
	return Order{}, errors.New("not configured")
}

func (s *stubOrderService) VerifyPayment(context.Context, VerifyPaymentCommand) (Order, error) {
	return Order{}, errors.New("not configured")
}

func (s *stubOrderService) RecordPackage(context.Context, RecordPackageCommand) (Order, error) {
	return Order{}, errors.New("not configured")
}

func (s *stubOrderService) CreateShippingPaymentLink(context.Context, CreateShippingLinkCommand) (Order, error) {
	return Order{}, errors.New("not configured")
}

func (s *stubOrderService) MarkPaymentCaptured(ctx context.Context, cmd PaymentCapturedCommand) (Order, error) {
	if s.markCapturedFn == nil {
		return Order{}, errors.New("markCapturedFn not configured")
	}
	return s.markCapturedFn(ctx, cmd)
}

func (s *stubOrderService) MarkPaymentFailed(ctx context.Context, cmd PaymentFailedCommand) (Order, error) {
	if s.markFailedFn == nil {
		return Order{}, errors.New("markFailedFn not configured")
	}
	return s.markFailedFn(ctx, cmd)
}

func (s *stubOrderService) ApplyShippingPaymentEvent(ctx context.Context, cmd ShippingPaymentEventCommand) (Order, error) {
	if s.applyShippingFn == nil {
		return Order{}, errors.New("applyShippingFn not configured")
	}
	return s.applyShippingFn(ctx, cmd)
}

type stubRefundRepo struct {
	upsertFn func(ctx context.Context, refund domain.Refund) (domain.Refund, error)
	findFn   func(ctx context.Context, refundID string) (domain.Refund, error)
}

func (s *stubRefundRepo) Upsert(ctx context.Context, refund domain.Refund) (domain.Refund, error) {
	if s.upsertFn == nil {
		return refund, nil
	}
	return s.upsertFn(ctx, refund)
}

func (s *stubRefundRepo) FindByID(ctx context.Context, refundID string) (domain.Refund, error) {
	if s.findFn == nil {
		return domain.Refund{}, notFoundRepoError{}
	}
	return s.findFn(ctx, refundID)
}

func (s *stubRefundRepo) ListByOrder(context.Context, string) ([]domain.Refund, error) {
	return nil, nil
}

type notFoundRepoError struct{}

func (notFoundRepoError) Error() string       { return "not found" }
func (notFoundRepoError) IsNotFound() bool    { return true }
func (notFoundRepoError) IsConflict() bool    { return false }
func (notFoundRepoError) IsUnavailable() bool { return false }

func newWebhookFixture(t *testing.T, orders *stubOrderService, refunds *stubRefundRepo) WebhookService {
	t.Helper()
	svc, err := NewWebhookService(WebhookServiceDeps{
		Orders:  orders,
		Refunds: refunds,
		Secret:  "hook_secret",
		Clock:   func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewWebhookService returned error: %v", err)
	}
	return svc
}

func TestWebhookServiceVerify(t *testing.T) {
	svc := newWebhookFixture(t, &stubOrderService{}, &stubRefundRepo{})

	body := []byte(`{"event":"payment.captured","payload":{}}`)
	sig := payments.ComputeSignature("hook_secret", string(body))

	if !svc.Verify(body, sig) {
		t.Fatal("expected valid signature to verify")
	}
	if svc.Verify(body, "deadbeef") {
		t.Fatal("expected forged signature to fail")
	}
	if svc.Verify(append(body, '!'), sig) {
		t.Fatal("expected altered body to fail")
	}
}

func TestWebhookServiceProcessPaymentCaptured(t *testing.T) {
	var captured PaymentCapturedCommand
	orders := &stubOrderService{
		markCapturedFn: func(_ context.Context, cmd PaymentCapturedCommand) (Order, error) {
			captured = cmd
			return Order{ID: "ord_1"}, nil
		},
	}
	svc := newWebhookFixture(t, orders, &stubRefundRepo{})

	body := []byte(`{
		"event": "payment.captured",
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_123",
					"order_id": "order_xyz",
					"amount": 5900,
					"currency": "INR",
					"status": "captured"
				}
			}
		}
	}`)

	if err := svc.Process(context.Background(), body); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if captured.IntentID != "order_xyz" || captured.PaymentID != "pay_123" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Amount != 5900 || captured.Currency != "INR" {
		t.Fatalf("unexpected amount fields %+v", captured)
	}
	if captured.Raw == nil {
		t.Fatal("expected raw payload carried")
	}
}

func TestWebhookServiceProcessPaymentFailed(t *testing.T) {
	var failed PaymentFailedCommand
	orders := &stubOrderService{
		markFailedFn: func(_ context.Context, cmd PaymentFailedCommand) (Order, error) {
			failed = cmd
			return Order{ID: "ord_1"}, nil
		},
	}
	svc := newWebhookFixture(t, orders, &stubRefundRepo{})

	body := []byte(`{
		"event": "payment.failed",
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_456",
					"order_id": "order_xyz",
					"status": "failed"
				}
			}
		}
	}`)

	if err := svc.Process(context.Background(), body); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if failed.IntentID != "order_xyz" || failed.PaymentID != "pay_456" {
		t.Fatalf("unexpected command %+v", failed)
	}
	if failed.Reason != "failed" {
		t.Fatalf("expected gateway status carried as reason, got %q", failed.Reason)
	}
}

func TestWebhookServiceProcessOrphanedCaptureDropped(t *testing.T) {
	orders := &stubOrderService{
		markCapturedFn: func(context.Context, PaymentCapturedCommand) (Order, error) {
			return Order{}, fmt.Errorf("%w: no such intent", ErrOrderNotFound)
		},
	}
	svc := newWebhookFixture(t, orders, &stubRefundRepo{})

	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_gone"}}}}`)
	if err := svc.Process(context.Background(), body); err != nil {
		t.Fatalf("expected orphaned event swallowed, got %v", err)
	}
}

func TestWebhookServiceProcessPaymentLinkPaid(t *testing.T) {
	var applied ShippingPaymentEventCommand
	orders := &stubOrderService{
		applyShippingFn: func(_ context.Context, cmd ShippingPaymentEventCommand) (Order, error) {
			applied = cmd
			return Order{ID: "ord_1"}, nil
		},
	}
	svc := newWebhookFixture(t, orders, &stubRefundRepo{})

	body := []byte(`{
		"event": "payment_link.partially_paid",
		"created_at": 1717243200,
		"payload": {
			"payment_link": {"entity": {"id": "plink_001", "amount": 10000, "amount_paid": 4000}},
			"payment": {"entity": {"id": "pay_a", "amount": 4000}}
		}
	}`)

	if err := svc.Process(context.Background(), body); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if applied.LinkID != "plink_001" || applied.Event != domain.ShippingPaymentPartiallyPaid {
		t.Fatalf("unexpected command %+v", applied)
	}
	if applied.PaymentID != "pay_a" || applied.Amount != 4000 {
		t.Fatalf("unexpected settlement fields %+v", applied)
	}
	if applied.OccurredAt.Unix() != 1717243200 {
		t.Fatalf("expected occurred at from created_at, got %v", applied.OccurredAt)
	}
}

func TestWebhookServiceProcessRefundLifecycle(t *testing.T) {
	var upserted domain.Refund
	refunds := &stubRefundRepo{
		findFn: func(context.Context, string) (domain.Refund, error) {
			return domain.Refund{}, notFoundRepoError{}
		},
		upsertFn: func(_ context.Context, refund domain.Refund) (domain.Refund, error) {
			upserted = refund
			return refund, nil
		},
	}
	svc := newWebhookFixture(t, &stubOrderService{}, refunds)

	body := []byte(`{
		"event": "refund.processed",
		"payload": {
			"refund": {
				"entity": {
					"id": "rfnd_1",
					"payment_id": "pay_123",
					"amount": 5900,
					"currency": "INR",
					"status": "processed",
					"notes": {"orderId": "ord_1"}
				}
			}
		}
	}`)

	if err := svc.Process(context.Background(), body); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if upserted.ID != "rfnd_1" || upserted.Status != domain.RefundStatusProcessed {
		t.Fatalf("unexpected refund %+v", upserted)
	}
	if upserted.OrderID != "ord_1" || upserted.PaymentID != "pay_123" {
		t.Fatalf("unexpected refund references %+v", upserted)
	}
	if upserted.ProcessedAt == nil {
		t.Fatal("expected ProcessedAt stamped")
	}
}

func TestWebhookServiceProcessRefundNeverRegresses(t *testing.T) {
	upserts := 0
	refunds := &stubRefundRepo{
		findFn: func(context.Context, string) (domain.Refund, error) {
			return domain.Refund{ID: "rfnd_1", Status: domain.RefundStatusProcessed}, nil
		},
		upsertFn: func(_ context.Context, refund domain.Refund) (domain.Refund, error) {
			upserts++
			return refund, nil
		},
	}
	svc := newWebhookFixture(t, &stubOrderService{}, refunds)

	body := []byte(`{"event":"refund.created","payload":{"refund":{"entity":{"id":"rfnd_1","status":"created"}}}}`)
	if err := svc.Process(context.Background(), body); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if upserts != 0 {
		t.Fatalf("expected late created event ignored, got %d upserts", upserts)
	}
}

func TestWebhookServiceProcessUnknownEventIgnored(t *testing.T) {
	svc := newWebhookFixture(t, &stubOrderService{}, &stubRefundRepo{})

	if err := svc.Process(context.Background(), []byte(`{"event":"invoice.paid","payload":{}}`)); err != nil {
		t.Fatalf("expected unknown event ignored, got %v", err)
	}
}

func TestWebhookServiceProcessMalformedBody(t *testing.T) {
	svc := newWebhookFixture(t, &stubOrderService{}, &stubRefundRepo{})

	if err := svc.Process(context.Background(), []byte(`not json`)); !errors.Is(err, ErrWebhookInvalidPayload) {
		t.Fatalf("expected ErrWebhookInvalidPayload, got %v", err)
	}
	if err := svc.Process(context.Background(), []byte(`{"payload":{}}`)); !errors.Is(err, ErrWebhookInvalidPayload) {
		t.Fatalf("expected ErrWebhookInvalidPayload for missing event, got %v", err)
	}
}
