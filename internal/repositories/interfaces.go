package repositories

import (
	"context"
	"time"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates and provides the lookups the
// webhook reconciler depends on.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// Delete removes an order document. Used only to unwind a freshly
	// inserted order whose stock decrement failed.
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByIntentID(ctx context.Context, intentID string) (domain.Order, error)
	FindByShippingLinkID(ctx context.Context, linkID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings for customers and operators.
type OrderListFilter struct {
	UserID        string
	Status        []string
	PaymentStatus []string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

// StockLine pairs a product with the quantity to decrement or restore.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockDecrementRequest asks for an all-or-nothing decrement across every line,
// guarded by the order's stock-committed flag so retries are no-ops.
type StockDecrementRequest struct {
	OrderID string
	Lines   []StockLine
	Now     time.Time
}

// StockDecrementResult reports whether the decrement ran and the stock left per product.
type StockDecrementResult struct {
	AlreadyCommitted bool
	Remaining        map[string]int
}

// StockRestoreRequest puts quantities back after a cancellation.
type StockRestoreRequest struct {
	OrderID string
	Lines   []StockLine
	Now     time.Time
}

// ProductRepository reads product snapshots and owns the transactional stock mutations.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	ListByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	DecrementStock(ctx context.Context, req StockDecrementRequest) (StockDecrementResult, error)
	RestoreStock(ctx context.Context, req StockRestoreRequest) error
}

// PaymentLedgerRepository stores gateway payments keyed by the gateway payment id.
type PaymentLedgerRepository interface {
	Upsert(ctx context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, error)
	FindByID(ctx context.Context, paymentID string) (domain.PaymentLedgerEntry, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentLedgerEntry, error)
}

// RefundRepository stores gateway refunds keyed by the gateway refund id.
type RefundRepository interface {
	Upsert(ctx context.Context, refund domain.Refund) (domain.Refund, error)
	FindByID(ctx context.Context, refundID string) (domain.Refund, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
