package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/payments"
	"github.com/meridianware/charaiveti-api/internal/repositories"
)

const (
	webhookEventPaymentCaptured   = "payment.captured"
	webhookEventPaymentFailed     = "payment.failed"
	webhookEventLinkPaid          = "payment_link.paid"
	webhookEventLinkPartiallyPaid = "payment_link.partially_paid"
	webhookEventLinkExpired       = "payment_link.expired"
	webhookEventLinkCancelled     = "payment_link.cancelled"
	webhookEventRefundCreated     = "refund.created"
	webhookEventRefundProcessed   = "refund.processed"
	webhookEventRefundFailed      = "refund.failed"
)

// ErrWebhookInvalidPayload signals the event body could not be parsed.
var ErrWebhookInvalidPayload = errors.New("webhook: invalid payload")

type webhookEnvelope struct {
	Event   string         `json:"event"`
	Payload webhookPayload `json:"payload"`
	Created int64          `json:"created_at"`
}

type webhookPayload struct {
	Payment     webhookEntity[paymentEntity]     `json:"payment"`
	PaymentLink webhookEntity[paymentLinkEntity] `json:"payment_link"`
	Refund      webhookEntity[refundEntity]      `json:"refund"`
}

type webhookEntity[T any] struct {
	Entity T `json:"entity"`
}

type paymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type paymentLinkEntity struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Status     string `json:"status"`
}

type refundEntity struct {
	ID        string            `json:"id"`
	PaymentID string            `json:"payment_id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Status    string            `json:"status"`
	Notes     map[string]string `json:"notes"`
	CreatedAt int64             `json:"created_at"`
}

// WebhookServiceDeps bundles collaborators required to construct the webhook service.
type WebhookServiceDeps struct {
	Orders  OrderService
	Refunds repositories.RefundRepository
	Secret  string
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	orders  OrderService
	refunds repositories.RefundRepository
	secret  string
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewWebhookService wires dependencies into a WebhookService implementation.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order service is required")
	}
	if strings.TrimSpace(deps.Secret) == "" {
		return nil, errors.New("webhook service: signing secret is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		orders:  deps.Orders,
		refunds: deps.Refunds,
		secret:  strings.TrimSpace(deps.Secret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Verify checks the hex HMAC signature against the raw, unparsed bytes. The
// handler drops unverified deliveries without leaking why.
func (s *webhookService) Verify(rawBody []byte, signature string) bool {
	return payments.VerifyRawSignature(s.secret, rawBody, signature)
}

// Process applies one gateway event. Every branch tolerates redelivery: a
// replayed capture or settlement leaves the ledger untouched.
func (s *webhookService) Process(ctx context.Context, rawBody []byte) error {
	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookInvalidPayload, err)
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return fmt.Errorf("%w: missing event name", ErrWebhookInvalidPayload)
	}

	var err error
	switch event {
	case webhookEventPaymentCaptured:
		err = s.applyPaymentCaptured(ctx, envelope.Payload.Payment.Entity, rawBody)
	case webhookEventPaymentFailed:
		err = s.applyPaymentFailed(ctx, envelope.Payload.Payment.Entity, rawBody)
	case webhookEventLinkPaid, webhookEventLinkPartiallyPaid, webhookEventLinkExpired, webhookEventLinkCancelled:
		err = s.applyShippingPaymentEvent(ctx, event, envelope)
	case webhookEventRefundCreated, webhookEventRefundProcessed, webhookEventRefundFailed:
		err = s.applyRefundEvent(ctx, event, envelope.Payload.Refund.Entity)
	default:
		s.logger(ctx, "webhook.event.ignored", map[string]any{"event": event})
		return nil
	}

	if err != nil {
		// Events referencing unknown orders are dropped, not retried; the
		// gateway redelivers and the order may simply not be ours.
		if errors.Is(err, ErrOrderNotFound) {
			s.logger(ctx, "webhook.event.orphaned", map[string]any{
				"event": event,
				"error": err.Error(),
			})
			return nil
		}
		s.logger(ctx, "webhook.event.failed", map[string]any{
			"event": event,
			"error": err.Error(),
		})
		return err
	}

	s.logger(ctx, "webhook.event.applied", map[string]any{"event": event})
	return nil
}

func (s *webhookService) applyPaymentCaptured(ctx context.Context, payment paymentEntity, rawBody []byte) error {
	if strings.TrimSpace(payment.OrderID) == "" || strings.TrimSpace(payment.ID) == "" {
		return fmt.Errorf("%w: payment entity is incomplete", ErrWebhookInvalidPayload)
	}

	raw := map[string]any{}
	_ = json.Unmarshal(rawBody, &raw)

	_, err := s.orders.MarkPaymentCaptured(ctx, PaymentCapturedCommand{
		IntentID:  payment.OrderID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Raw:       raw,
	})
	return err
}

func (s *webhookService) applyPaymentFailed(ctx context.Context, payment paymentEntity, rawBody []byte) error {
	if strings.TrimSpace(payment.OrderID) == "" {
		return fmt.Errorf("%w: payment entity is incomplete", ErrWebhookInvalidPayload)
	}

	raw := map[string]any{}
	_ = json.Unmarshal(rawBody, &raw)

	_, err := s.orders.MarkPaymentFailed(ctx, PaymentFailedCommand{
		IntentID:  payment.OrderID,
		PaymentID: payment.ID,
		Reason:    payment.Status,
		Raw:       raw,
	})
	return err
}

func (s *webhookService) applyShippingPaymentEvent(ctx context.Context, event string, envelope webhookEnvelope) error {
	link := envelope.Payload.PaymentLink.Entity
	if strings.TrimSpace(link.ID) == "" {
		return fmt.Errorf("%w: payment link entity is incomplete", ErrWebhookInvalidPayload)
	}

	var status domain.ShippingPaymentStatus
	switch event {
	case webhookEventLinkPaid:
		status = domain.ShippingPaymentPaid
	case webhookEventLinkPartiallyPaid:
		status = domain.ShippingPaymentPartiallyPaid
	case webhookEventLinkExpired:
		status = domain.ShippingPaymentExpired
	case webhookEventLinkCancelled:
		status = domain.ShippingPaymentCancelled
	}

	occurred := s.clock()
	if envelope.Created > 0 {
		occurred = time.Unix(envelope.Created, 0).UTC()
	}

	payment := envelope.Payload.Payment.Entity
	_, err := s.orders.ApplyShippingPaymentEvent(ctx, ShippingPaymentEventCommand{
		LinkID:     link.ID,
		Event:      status,
		PaymentID:  payment.ID,
		Amount:     payment.Amount,
		OccurredAt: occurred,
	})
	return err
}

// applyRefundEvent upserts the refund keyed by the gateway refund id. A
// replayed or out-of-order created event never regresses a processed refund.
func (s *webhookService) applyRefundEvent(ctx context.Context, event string, entity refundEntity) error {
	if s.refunds == nil {
		s.logger(ctx, "webhook.refund.skipped", map[string]any{"refundId": entity.ID})
		return nil
	}
	refundID := strings.TrimSpace(entity.ID)
	if refundID == "" {
		return fmt.Errorf("%w: refund entity is incomplete", ErrWebhookInvalidPayload)
	}

	var status domain.RefundStatus
	switch event {
	case webhookEventRefundCreated:
		status = domain.RefundStatusCreated
	case webhookEventRefundProcessed:
		status = domain.RefundStatusProcessed
	case webhookEventRefundFailed:
		status = domain.RefundStatusFailed
	}

	now := s.clock()
	refund := domain.Refund{
		ID:        refundID,
		PaymentID: strings.TrimSpace(entity.PaymentID),
		Amount:    entity.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(entity.Currency)),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if entity.CreatedAt > 0 {
		refund.CreatedAt = time.Unix(entity.CreatedAt, 0).UTC()
	}
	if orderID := strings.TrimSpace(entity.Notes["orderId"]); orderID != "" {
		refund.OrderID = orderID
	}
	if status == domain.RefundStatusProcessed {
		refund.ProcessedAt = &now
	}

	existing, err := s.refunds.FindByID(ctx, refundID)
	if err == nil {
		if existing.Status == refund.Status {
			return nil
		}
		if existing.Status == domain.RefundStatusProcessed && status == domain.RefundStatusCreated {
			return nil
		}
		refund.CreatedAt = existing.CreatedAt
		if refund.OrderID == "" {
			refund.OrderID = existing.OrderID
		}
		if existing.ProcessedAt != nil {
			refund.ProcessedAt = existing.ProcessedAt
		}
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return err
		}
	}

	_, err = s.refunds.Upsert(ctx, refund)
	return err
}
