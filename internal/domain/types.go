package domain

import "time"

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus tracks fulfillment progress for an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state after the order document is written.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates an operator acknowledged the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared for dispatch.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal; stock has been restored.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus tracks money movement independently of fulfillment.
type PaymentStatus string

const (
	// PaymentStatusAwaiting indicates a prepaid order waiting for gateway capture.
	PaymentStatusAwaiting PaymentStatus = "awaiting_payment"
	// PaymentStatusCODPending indicates a cash-on-delivery order not yet collected.
	PaymentStatusCODPending PaymentStatus = "cod_pending"
	// PaymentStatusPaid indicates the gateway captured the full amount.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the gateway reported a terminal failure.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCODPaid indicates cash was collected on delivery.
	PaymentStatusCODPaid PaymentStatus = "cod_paid"
)

// PaymentMethod selects the payment flow at order creation.
type PaymentMethod string

const (
	// PaymentMethodPrepaid routes through the hosted payment gateway.
	PaymentMethodPrepaid PaymentMethod = "prepaid"
	// PaymentMethodCOD collects cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
)

// ShippingPaymentStatus tracks the post-order shipping payment link lifecycle.
type ShippingPaymentStatus string

const (
	// ShippingPaymentPending means the link was issued and no payment arrived yet.
	ShippingPaymentPending ShippingPaymentStatus = "pending"
	// ShippingPaymentPaid means the link was settled in full.
	ShippingPaymentPaid ShippingPaymentStatus = "paid"
	// ShippingPaymentPartiallyPaid means some but not all of the amount arrived.
	ShippingPaymentPartiallyPaid ShippingPaymentStatus = "partially_paid"
	// ShippingPaymentExpired means the link lapsed before settlement.
	ShippingPaymentExpired ShippingPaymentStatus = "expired"
	// ShippingPaymentCancelled means an operator voided the link.
	ShippingPaymentCancelled ShippingPaymentStatus = "cancelled"
)

// RefundStatus mirrors the gateway refund lifecycle.
type RefundStatus string

const (
	// RefundStatusCreated indicates the gateway accepted the refund request.
	RefundStatusCreated RefundStatus = "created"
	// RefundStatusProcessed indicates the money was returned to the customer.
	RefundStatusProcessed RefundStatus = "processed"
	// RefundStatusFailed indicates the gateway could not complete the refund.
	RefundStatusFailed RefundStatus = "failed"
)

// Address captures a shipping or billing destination.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// PriceTier maps a minimum quantity to the unit price that applies from it.
type PriceTier struct {
	MinQuantity int
	UnitPrice   int64
}

// Product is the sellable unit the stock ledger guards.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Description string
	ImageURL    string
	UnitPrice   int64
	PriceTiers  []PriceTier
	Stock       int
	MOQ         int
	MaxPerOrder int
	HSNCode     string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem is an immutable line snapshot taken at order creation.
type OrderItem struct {
	ProductID    string
	SKU          string
	Name         string
	ImageURL     string
	RequestedQty int
	Quantity     int
	UnitPrice    int64
	Subtotal     int64
	HSNCode      string
}

// OrderTotals freezes the priced amounts in minor currency units.
// Total = Subtotal + Tax + Shipping - Discount.
type OrderTotals struct {
	Subtotal   int64
	Tax        int64
	TaxPercent float64
	Shipping   int64
	Discount   int64
	Total      int64
}

// GSTSnapshot freezes the buyer's tax invoice details at order time.
// Once written it is never recomputed from later order mutations.
type GSTSnapshot struct {
	TaxID            string
	LegalName        string
	PlaceOfSupply    string
	TaxPercent       float64
	TaxBase          int64
	TaxAmount        int64
	InvoiceRequested bool
	CapturedAt       time.Time
}

// GatewayIntent records the payment intent the gateway issued for the order.
type GatewayIntent struct {
	Provider  string
	IntentID  string
	Amount    int64
	Currency  string
	CreatedAt time.Time
}

// ShippingPaymentReceipt records a single settlement against a shipping link.
type ShippingPaymentReceipt struct {
	PaymentID  string
	Amount     int64
	ReceivedAt time.Time
}

// ShippingPayment tracks the separately billed shipping charge for an order.
type ShippingPayment struct {
	LinkID     string
	ShortURL   string
	Amount     int64
	AmountPaid int64
	Status     ShippingPaymentStatus
	Receipts   []ShippingPaymentReceipt
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  *time.Time
}

// ShippingPackage records measured parcel data before dispatch.
type ShippingPackage struct {
	ID          string
	LengthCm    float64
	WidthCm     float64
	HeightCm    float64
	WeightGrams int
	PhotoURLs   []string
	RecordedBy  string
	RecordedAt  time.Time
}

// Order is the aggregate root persisted per purchase.
type Order struct {
	ID              string
	Number          string
	UserID          string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   PaymentMethod
	Currency        string
	Items           []OrderItem
	Totals          OrderTotals
	GST             *GSTSnapshot
	ShippingAddress Address
	BillingAddress  *Address
	Gateway         *GatewayIntent
	StockCommitted  bool
	ShippingPayment *ShippingPayment
	Packages        []ShippingPackage
	CancelReason    *string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// PaymentLedgerEntry stores one gateway payment keyed by the gateway payment id.
type PaymentLedgerEntry struct {
	ID         string
	OrderID    string
	IntentID   string
	Provider   string
	Amount     int64
	Currency   string
	Status     string
	Captured   bool
	VerifiedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Raw        map[string]any
}

// Refund stores one gateway refund keyed by the gateway refund id.
type Refund struct {
	ID          string
	OrderID     string
	PaymentID   string
	Amount      int64
	Currency    string
	Status      RefundStatus
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

// Health status values reported per dependency check.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck captures a single dependency probe result.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
