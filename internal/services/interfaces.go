package services

import (
	"context"
	"time"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	GSTSnapshot        = domain.GSTSnapshot
	ShippingPayment    = domain.ShippingPayment
	ShippingPackage    = domain.ShippingPackage
	Product            = domain.Product
	PaymentLedgerEntry = domain.PaymentLedgerEntry
	Refund             = domain.Refund
	Address            = domain.Address

	OrderListFilter = repositories.OrderListFilter
)

// ResolveQuantityRequest carries one line's inputs into quantity resolution.
type ResolveQuantityRequest struct {
	Desired     int
	MOQ         int
	Stock       int
	MaxPerOrder int
}

// QuantityResolution reports the resolved quantity for a line. Quantity is zero
// when the line cannot satisfy the MOQ within the hard cap.
type QuantityResolution struct {
	Quantity int
	Snapped  bool
}

// QuantityResolver applies MOQ snapping and cap rules to requested quantities.
type QuantityResolver interface {
	Resolve(req ResolveQuantityRequest) (QuantityResolution, error)
}

// TaxDetails is the single validated tax input resolved once at the boundary.
// Explicit values always win over derived ones.
type TaxDetails struct {
	ExplicitPercent  *float64
	ExplicitAmount   *int64
	TaxID            string
	LegalName        string
	PlaceOfSupply    string
	InvoiceRequested bool
	CapturedAt       *time.Time
}

// PriceLineInput pairs a product snapshot with its resolved quantity.
type PriceLineInput struct {
	Product  Product
	Quantity int
}

// PricedLine reports the tier price applied to one line.
type PricedLine struct {
	ProductID string
	UnitPrice int64
	Subtotal  int64
}

// PriceOrderRequest carries all inputs for a single pricing pass.
type PriceOrderRequest struct {
	Lines    []PriceLineInput
	Currency string
	Tax      TaxDetails
}

// PriceOrderResult freezes the computed amounts and the GST snapshot.
type PriceOrderResult struct {
	Lines  []PricedLine
	Totals OrderTotals
	GST    *GSTSnapshot
}

// PricingEngine computes subtotal, tax, shipping and the immutable GST snapshot.
type PricingEngine interface {
	Price(req PriceOrderRequest) (PriceOrderResult, error)
}

// StockCommitResult reports whether the decrement ran or had already committed.
type StockCommitResult struct {
	AlreadyCommitted bool
	Remaining        map[string]int
}

// StockService guards product stock with conditional, idempotent mutations.
type StockService interface {
	CommitForOrder(ctx context.Context, order Order) (StockCommitResult, error)
	RestoreForOrder(ctx context.Context, order Order) error
}

// CreateOrderLine is one requested cart line.
type CreateOrderLine struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand carries everything needed to place an order.
type CreateOrderCommand struct {
	UserID          string
	Email           string
	Lines           []CreateOrderLine
	ShippingAddress Address
	BillingAddress  *Address
	PaymentMethod   domain.PaymentMethod
	Currency        string
	Tax             TaxDetails
	Metadata        map[string]any
}

// OrderStatusTransitionCommand moves the fulfillment machine forward.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   domain.OrderStatus
	ExpectedStatus *domain.OrderStatus
	ActorID        string
	Reason         string
	Metadata       map[string]any
}

// CancelOrderCommand cancels an order and restores its stock.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

// VerifyPaymentCommand carries a client-submitted payment verification.
type VerifyPaymentCommand struct {
	OrderID   string
	PaymentID string
	Signature string
	ActorID   string
}

// RecordPackageCommand attaches measured parcel data to an order.
type RecordPackageCommand struct {
	OrderID string
	Package ShippingPackage
	ActorID string
}

// CreateShippingLinkCommand issues a gateway payment link for shipping charges.
type CreateShippingLinkCommand struct {
	OrderID string
	Amount  int64
	Note    string
	ActorID string
}

// PaymentCapturedCommand is the reconciler's view of a captured gateway payment.
type PaymentCapturedCommand struct {
	IntentID  string
	PaymentID string
	Amount    int64
	Currency  string
	Raw       map[string]any
}

// PaymentFailedCommand is the reconciler's view of a terminally failed
// gateway payment.
type PaymentFailedCommand struct {
	IntentID  string
	PaymentID string
	Reason    string
	Raw       map[string]any
}

// ShippingPaymentEventCommand applies one payment-link lifecycle event.
type ShippingPaymentEventCommand struct {
	LinkID     string
	Event      domain.ShippingPaymentStatus
	PaymentID  string
	Amount     int64
	OccurredAt time.Time
}

// OrderService owns the order ledger: creation saga, the dual state machines,
// payment verification and the shipping payment sub-entity.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	RecordPackage(ctx context.Context, cmd RecordPackageCommand) (Order, error)
	CreateShippingPaymentLink(ctx context.Context, cmd CreateShippingLinkCommand) (Order, error)
	MarkPaymentCaptured(ctx context.Context, cmd PaymentCapturedCommand) (Order, error)
	MarkPaymentFailed(ctx context.Context, cmd PaymentFailedCommand) (Order, error)
	ApplyShippingPaymentEvent(ctx context.Context, cmd ShippingPaymentEventCommand) (Order, error)
}

// WebhookService verifies and applies inbound gateway events.
type WebhookService interface {
	// Verify checks the hex HMAC signature against the raw, unparsed bytes.
	Verify(rawBody []byte, signature string) bool
	// Process parses and applies one event. Safe to call twice with the same event.
	Process(ctx context.Context, rawBody []byte) error
}

// ShippingPaymentNotification carries link details into customer notifications.
type ShippingPaymentNotification struct {
	LinkID     string
	ShortURL   string
	Amount     int64
	AmountPaid int64
	Status     domain.ShippingPaymentStatus
}

// NotificationDispatcher delivers best-effort customer and operator messages.
// Implementations report success as a bool; callers never treat a failed
// dispatch as an order-flow error.
type NotificationDispatcher interface {
	SendOrderConfirmation(ctx context.Context, order Order, email string) bool
	SendAdminNewOrderAlert(ctx context.Context, order Order) bool
	SendOrderStatusUpdate(ctx context.Context, order Order, previous domain.OrderStatus) bool
	SendShippingPaymentLink(ctx context.Context, order Order, payload ShippingPaymentNotification) bool
	SendShippingPaymentReceipt(ctx context.Context, order Order, payload ShippingPaymentNotification) bool
}

// SystemService aggregates dependency health for the health endpoint.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
}
