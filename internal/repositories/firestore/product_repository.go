package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	pfirestore "github.com/meridianware/charaiveti-api/internal/platform/firestore"
	"github.com/meridianware/charaiveti-api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository implements repositories.ProductRepository backed by Firestore.
// Stock mutations run inside a single transaction so a multi-line order either
// decrements every product or none of them.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection)
	return &ProductRepository{provider: provider, products: base}, nil
}

// FindByID loads a single product snapshot.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product find: product id is required")
	}

	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, wrapStockError("products.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByIDs loads products in bulk. Missing ids are simply absent from the result.
func (r *ProductRepository) ListByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	ids := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, productID := range productIDs {
		id := strings.TrimSpace(productID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapStockError("products.listByIDs", err)
	}

	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = client.Collection(productsCollection).Doc(id)
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, wrapStockError("products.listByIDs", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		result[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return result, nil
}

// DecrementStock atomically decrements stock for every line of an order. The
// order's stockCommitted flag doubles as the idempotency guard so a retried
// commit after a transient failure never decrements twice.
func (r *ProductRepository) DecrementStock(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockDecrementResult{}, errors.New("product repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.StockDecrementResult{}, errors.New("stock decrement: order id is required")
	}
	if len(req.Lines) == 0 {
		return repositories.StockDecrementResult{}, errors.New("stock decrement: at least one line is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.StockDecrementResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}

		orderRef := client.Collection(ordersCollection).Doc(orderID)
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorUnknown, "", fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		committed, err := orderSnap.DataAt("stockCommitted")
		if err == nil {
			if flag, ok := committed.(bool); ok && flag {
				result = repositories.StockDecrementResult{AlreadyCommitted: true}
				return nil
			}
		}

		type pendingWrite struct {
			ref      *firestore.DocumentRef
			newStock int
		}
		writes := make([]pendingWrite, 0, len(req.Lines))
		remaining := make(map[string]int, len(req.Lines))

		// Transactions require every read before the first write, so the
		// availability checks all run up front.
		for _, line := range req.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, "", "stock decrement: product id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, productID, fmt.Sprintf("stock decrement: quantity for %s must be > 0", productID), nil)
			}

			productRef := client.Collection(productsCollection).Doc(productID)
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			if !doc.Active {
				return repositories.NewStockError(repositories.StockErrorProductInactive, productID, fmt.Sprintf("product %s is inactive", productID), nil)
			}
			if doc.Stock < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, productID, fmt.Sprintf("insufficient stock for %s: have %d, want %d", productID, doc.Stock, line.Quantity), nil)
			}

			newStock := doc.Stock - line.Quantity
			writes = append(writes, pendingWrite{ref: productRef, newStock: newStock})
			remaining[productID] = newStock
		}

		for _, write := range writes {
			if err := tx.Update(write.ref, []firestore.Update{
				{Path: "stock", Value: write.newStock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "stockCommitted", Value: true},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}

		result = repositories.StockDecrementResult{Remaining: remaining}
		return nil
	})
	if err != nil {
		return repositories.StockDecrementResult{}, wrapStockError("products.decrementStock", err)
	}
	return result, nil
}

// RestoreStock puts quantities back after a cancellation or a failed order
// creation. Products deleted since the order was placed are skipped.
func (r *ProductRepository) RestoreStock(ctx context.Context, req repositories.StockRestoreRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return errors.New("stock restore: order id is required")
	}
	if len(req.Lines) == 0 {
		return errors.New("stock restore: at least one line is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}

		orderRef := client.Collection(ordersCollection).Doc(orderID)
		orderExists := true
		if _, err := tx.Get(orderRef); err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			orderExists = false
		}

		type pendingWrite struct {
			ref      *firestore.DocumentRef
			newStock int
		}
		writes := make([]pendingWrite, 0, len(req.Lines))

		for _, line := range req.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" || line.Quantity <= 0 {
				continue
			}
			productRef := client.Collection(productsCollection).Doc(productID)
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			writes = append(writes, pendingWrite{ref: productRef, newStock: doc.Stock + line.Quantity})
		}

		for _, write := range writes {
			if err := tx.Update(write.ref, []firestore.Update{
				{Path: "stock", Value: write.newStock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		if orderExists {
			if err := tx.Update(orderRef, []firestore.Update{
				{Path: "stockCommitted", Value: false},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStockError("products.restoreStock", err)
	}
	return nil
}

type productDocument struct {
	SKU         string              `firestore:"sku"`
	Name        string              `firestore:"name"`
	Description string              `firestore:"description,omitempty"`
	ImageURL    string              `firestore:"imageUrl,omitempty"`
	UnitPrice   int64               `firestore:"unitPrice"`
	PriceTiers  []priceTierDocument `firestore:"priceTiers,omitempty"`
	Stock       int                 `firestore:"stock"`
	MOQ         int                 `firestore:"moq"`
	MaxPerOrder int                 `firestore:"maxPerOrder"`
	HSNCode     string              `firestore:"hsnCode,omitempty"`
	Active      bool                `firestore:"active"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
}

type priceTierDocument struct {
	MinQuantity int   `firestore:"minQuantity"`
	UnitPrice   int64 `firestore:"unitPrice"`
}

func (d productDocument) toDomain(id string) domain.Product {
	tiers := make([]domain.PriceTier, len(d.PriceTiers))
	for i, tier := range d.PriceTiers {
		tiers[i] = domain.PriceTier{
			MinQuantity: tier.MinQuantity,
			UnitPrice:   tier.UnitPrice,
		}
	}
	return domain.Product{
		ID:          id,
		SKU:         d.SKU,
		Name:        d.Name,
		Description: d.Description,
		ImageURL:    d.ImageURL,
		UnitPrice:   d.UnitPrice,
		PriceTiers:  tiers,
		Stock:       d.Stock,
		MOQ:         d.MOQ,
		MaxPerOrder: d.MaxPerOrder,
		HSNCode:     d.HSNCode,
		Active:      d.Active,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
