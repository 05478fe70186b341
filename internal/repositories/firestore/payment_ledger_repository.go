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

const paymentsCollection = "payments"

// PaymentLedgerRepository stores verified gateway payments keyed by the gateway
// payment id so replayed webhooks and verification retries collapse onto one row.
type PaymentLedgerRepository struct {
	provider *pfirestore.Provider
	payments *pfirestore.BaseRepository[paymentLedgerDocument]
}

// NewPaymentLedgerRepository constructs a Firestore-backed payment ledger.
func NewPaymentLedgerRepository(provider *pfirestore.Provider) (*PaymentLedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("payment ledger repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[paymentLedgerDocument](provider, paymentsCollection)
	return &PaymentLedgerRepository{provider: provider, payments: base}, nil
}

// Upsert writes the ledger entry, preserving the original createdAt on replays.
func (r *PaymentLedgerRepository) Upsert(ctx context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, error) {
	if r == nil || r.payments == nil {
		return domain.PaymentLedgerEntry{}, errors.New("payment ledger repository not initialised")
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return domain.PaymentLedgerEntry{}, errors.New("payment ledger upsert: payment id is required")
	}

	now := entry.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	entry.UpdatedAt = now

	existing, err := r.payments.Get(ctx, id)
	switch {
	case err == nil:
		if !existing.Data.CreatedAt.IsZero() {
			entry.CreatedAt = existing.Data.CreatedAt
		}
	case isNotFoundErr(err):
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
	default:
		return domain.PaymentLedgerEntry{}, pfirestore.WrapError("payments.upsert", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	if _, err := r.payments.Set(ctx, id, newPaymentLedgerDocument(entry)); err != nil {
		return domain.PaymentLedgerEntry{}, pfirestore.WrapError("payments.upsert", err)
	}
	return entry, nil
}

// FindByID loads a single ledger entry by gateway payment id.
func (r *PaymentLedgerRepository) FindByID(ctx context.Context, paymentID string) (domain.PaymentLedgerEntry, error) {
	if r == nil || r.payments == nil {
		return domain.PaymentLedgerEntry{}, errors.New("payment ledger repository not initialised")
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return domain.PaymentLedgerEntry{}, errors.New("payment ledger find: payment id is required")
	}

	doc, err := r.payments.Get(ctx, id)
	if err != nil {
		return domain.PaymentLedgerEntry{}, pfirestore.WrapError("payments.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByOrder returns all payments recorded against an order, oldest first.
func (r *PaymentLedgerRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentLedgerEntry, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment ledger repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("payment ledger list: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("payments.listByOrder", err)
	}

	iter := client.Collection(paymentsCollection).
		Where("orderId", "==", id).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var entries []domain.PaymentLedgerEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("payments.listByOrder", err)
		}
		var doc paymentLedgerDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode payment %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID))
	}
	return entries, nil
}

type paymentLedgerDocument struct {
	OrderID    string         `firestore:"orderId"`
	IntentID   string         `firestore:"intentId"`
	Provider   string         `firestore:"provider"`
	Amount     int64          `firestore:"amount"`
	Currency   string         `firestore:"currency"`
	Status     string         `firestore:"status"`
	Captured   bool           `firestore:"captured"`
	VerifiedAt *time.Time     `firestore:"verifiedAt,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
	UpdatedAt  time.Time      `firestore:"updatedAt"`
	Raw        map[string]any `firestore:"raw,omitempty"`
}

func newPaymentLedgerDocument(entry domain.PaymentLedgerEntry) paymentLedgerDocument {
	return paymentLedgerDocument{
		OrderID:    entry.OrderID,
		IntentID:   entry.IntentID,
		Provider:   entry.Provider,
		Amount:     entry.Amount,
		Currency:   entry.Currency,
		Status:     entry.Status,
		Captured:   entry.Captured,
		VerifiedAt: utcPtr(entry.VerifiedAt),
		CreatedAt:  entry.CreatedAt.UTC(),
		UpdatedAt:  entry.UpdatedAt.UTC(),
		Raw:        entry.Raw,
	}
}

func (d paymentLedgerDocument) toDomain(id string) domain.PaymentLedgerEntry {
	return domain.PaymentLedgerEntry{
		ID:         id,
		OrderID:    d.OrderID,
		IntentID:   d.IntentID,
		Provider:   d.Provider,
		Amount:     d.Amount,
		Currency:   d.Currency,
		Status:     d.Status,
		Captured:   d.Captured,
		VerifiedAt: d.VerifiedAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		Raw:        d.Raw,
	}
}

func isNotFoundErr(err error) bool {
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
