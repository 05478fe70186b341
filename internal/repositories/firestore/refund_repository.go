package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	pfirestore "github.com/meridianware/charaiveti-api/internal/platform/firestore"
)

const refundsCollection = "refunds"

// RefundRepository stores gateway refunds keyed by the gateway refund id.
type RefundRepository struct {
	provider *pfirestore.Provider
	refunds  *pfirestore.BaseRepository[refundDocument]
}

// NewRefundRepository constructs a Firestore-backed refund repository.
func NewRefundRepository(provider *pfirestore.Provider) (*RefundRepository, error) {
	if provider == nil {
		return nil, errors.New("refund repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[refundDocument](provider, refundsCollection)
	return &RefundRepository{provider: provider, refunds: base}, nil
}

// Upsert writes the refund, preserving the original createdAt on replays.
func (r *RefundRepository) Upsert(ctx context.Context, refund domain.Refund) (domain.Refund, error) {
	if r == nil || r.refunds == nil {
		return domain.Refund{}, errors.New("refund repository not initialised")
	}
	id := strings.TrimSpace(refund.ID)
	if id == "" {
		return domain.Refund{}, errors.New("refund upsert: refund id is required")
	}

	now := refund.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	refund.UpdatedAt = now

	existing, err := r.refunds.Get(ctx, id)
	switch {
	case err == nil:
		if !existing.Data.CreatedAt.IsZero() {
			refund.CreatedAt = existing.Data.CreatedAt
		}
	case isNotFoundErr(err):
		// first sighting of this refund
	default:
		return domain.Refund{}, pfirestore.WrapError("refunds.upsert", err)
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = now
	}

	if _, err := r.refunds.Set(ctx, id, newRefundDocument(refund)); err != nil {
		return domain.Refund{}, pfirestore.WrapError("refunds.upsert", err)
	}
	return refund, nil
}

// FindByID loads a single refund by gateway refund id.
func (r *RefundRepository) FindByID(ctx context.Context, refundID string) (domain.Refund, error) {
	if r == nil || r.refunds == nil {
		return domain.Refund{}, errors.New("refund repository not initialised")
	}
	id := strings.TrimSpace(refundID)
	if id == "" {
		return domain.Refund{}, errors.New("refund find: refund id is required")
	}

	doc, err := r.refunds.Get(ctx, id)
	if err != nil {
		return domain.Refund{}, pfirestore.WrapError("refunds.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByOrder returns all refunds recorded against an order, oldest first.
func (r *RefundRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("refund repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("refund list: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("refunds.listByOrder", err)
	}

	iter := client.Collection(refundsCollection).
		Where("orderId", "==", id).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var refunds []domain.Refund
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("refunds.listByOrder", err)
		}
		var doc refundDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode refund %s: %w", snap.Ref.ID, err)
		}
		refunds = append(refunds, doc.toDomain(snap.Ref.ID))
	}
	return refunds, nil
}

type refundDocument struct {
	OrderID     string     `firestore:"orderId"`
	PaymentID   string     `firestore:"paymentId"`
	Amount      int64      `firestore:"amount"`
	Currency    string     `firestore:"currency"`
	Status      string     `firestore:"status"`
	Reason      string     `firestore:"reason,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
	ProcessedAt *time.Time `firestore:"processedAt,omitempty"`
}

func newRefundDocument(refund domain.Refund) refundDocument {
	return refundDocument{
		OrderID:     refund.OrderID,
		PaymentID:   refund.PaymentID,
		Amount:      refund.Amount,
		Currency:    refund.Currency,
		Status:      string(refund.Status),
		Reason:      refund.Reason,
		CreatedAt:   refund.CreatedAt.UTC(),
		UpdatedAt:   refund.UpdatedAt.UTC(),
		ProcessedAt: utcPtr(refund.ProcessedAt),
	}
}

func (d refundDocument) toDomain(id string) domain.Refund {
	return domain.Refund{
		ID:          id,
		OrderID:     d.OrderID,
		PaymentID:   d.PaymentID,
		Amount:      d.Amount,
		Currency:    d.Currency,
		Status:      domain.RefundStatus(d.Status),
		Reason:      d.Reason,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ProcessedAt: d.ProcessedAt,
	}
}
