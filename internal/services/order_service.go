package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/payments"
	"github.com/meridianware/charaiveti-api/internal/repositories"
)

const (
	orderIDPrefix   = "ord_"
	packageIDPrefix = "pkg_"

	orderNumberCounter       = "orders"
	defaultCurrency          = "INR"
	defaultOrderNumberPrefix = "CH"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderTerminalState indicates a mutation was attempted on a delivered or cancelled order.
	ErrOrderTerminalState = errors.New("order: terminal state")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnsatisfiableQuantity indicates a line cannot meet its MOQ within available stock.
	ErrOrderUnsatisfiableQuantity = errors.New("order: quantity unsatisfiable")
	// ErrOrderGatewayFailed indicates the payment gateway rejected or timed out.
	ErrOrderGatewayFailed = errors.New("order: payment gateway failed")
	// ErrOrderPaymentVerificationFailed indicates a client-submitted signature did not verify.
	ErrOrderPaymentVerificationFailed = errors.New("order: payment verification failed")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
}

// PaymentGateway is the slice of the payments manager the order service uses.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	CreatePaymentLink(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentLinkRequest) (payments.PaymentLink, error)
	VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Products      repositories.ProductRepository
	PaymentLedger repositories.PaymentLedgerRepository
	Counters      repositories.CounterRepository
	Quantities    QuantityResolver
	Pricing       PricingEngine
	Stock         StockService
	Gateway       PaymentGateway
	Notifier      NotificationDispatcher
	UnitOfWork    repositories.UnitOfWork
	NumberPrefix  string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	ledger     repositories.PaymentLedgerRepository
	counters   repositories.CounterRepository
	quantities QuantityResolver
	pricing    PricingEngine
	stock      StockService
	gateway    PaymentGateway
	notifier   NotificationDispatcher
	unitOfWork repositories.UnitOfWork
	prefix     string
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Quantities == nil {
		return nil, errors.New("order service: quantity resolver is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	prefix := strings.TrimSpace(deps.NumberPrefix)
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		ledger:     deps.PaymentLedger,
		counters:   deps.Counters,
		quantities: deps.Quantities,
		pricing:    deps.Pricing,
		stock:      deps.Stock,
		gateway:    deps.Gateway,
		notifier:   deps.Notifier,
		unitOfWork: unit,
		prefix:     prefix,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Create runs the order placement saga: resolve quantities, price, persist,
// decrement stock and open the gateway intent. Failures after the insert
// unwind so no half-placed order survives.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddress.Recipient) == "" || strings.TrimSpace(cmd.ShippingAddress.Line1) == "" {
		return Order{}, fmt.Errorf("%w: shipping address is incomplete", ErrOrderInvalidInput)
	}

	method := cmd.PaymentMethod
	if method == "" {
		method = domain.PaymentMethodPrepaid
	}
	if method != domain.PaymentMethodPrepaid && method != domain.PaymentMethodCOD {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	catalog, err := s.loadProducts(ctx, cmd.Lines)
	if err != nil {
		return Order{}, err
	}

	items, priceLines, err := s.resolveLines(cmd.Lines, catalog)
	if err != nil {
		return Order{}, err
	}

	priced, err := s.pricing.Price(PriceOrderRequest{
		Lines:    priceLines,
		Currency: currency,
		Tax:      cmd.Tax,
	})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return Order{}, err
	}
	for i := range items {
		items[i].UnitPrice = priced.Lines[i].UnitPrice
		items[i].Subtotal = priced.Lines[i].Subtotal
	}

	now := s.now()
	order := Order{
		ID:              s.nextOrderID(),
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   initialPaymentStatus(method),
		PaymentMethod:   method,
		Currency:        currency,
		Items:           items,
		Totals:          priced.Totals,
		GST:             priced.GST,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cloneAddress(cmd.BillingAddress),
		Metadata:        cloneMap(cmd.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.Number = number

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if _, err := s.stock.CommitForOrder(ctx, order); err != nil {
		s.unwindOrder(ctx, order, false)
		return Order{}, err
	}
	order.StockCommitted = true

	intent, err := s.openIntent(ctx, order)
	if err != nil {
		s.unwindOrder(ctx, order, true)
		return Order{}, err
	}
	order.Gateway = &domain.GatewayIntent{
		Provider:  intent.Provider,
		IntentID:  intent.IntentID,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		CreatedAt: intent.CreatedAt,
	}
	order.UpdatedAt = s.now()

	if err := s.orders.Update(ctx, order); err != nil {
		s.unwindOrder(ctx, order, true)
		return Order{}, s.mapRepositoryError(err)
	}

	if s.notifier != nil {
		if email := strings.TrimSpace(cmd.Email); email != "" {
			if !s.notifier.SendOrderConfirmation(ctx, order, email) {
				s.logger(ctx, "order.notify.confirmation.failed", map[string]any{"orderId": order.ID})
			}
		}
		if !s.notifier.SendAdminNewOrderAlert(ctx, order) {
			s.logger(ctx, "order.notify.admin.failed", map[string]any{"orderId": order.ID})
		}
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId": order.ID,
		"number":  order.Number,
		"method":  string(method),
		"total":   order.Totals.Total,
	})

	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	now := s.now()
	prev := order.Status
	if err := s.applyStatusTransition(&order, cmd.TargetStatus, now); err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if prev != order.Status && s.notifier != nil {
		if !s.notifier.SendOrderStatusUpdate(ctx, order, prev) {
			s.logger(ctx, "order.notify.status.failed", map[string]any{"orderId": order.ID})
		}
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": order.ID,
		"from":    string(prev),
		"to":      string(order.Status),
		"actor":   strings.TrimSpace(cmd.ActorID),
	})

	return order, nil
}

// Cancel is only allowed before processing begins. Committed stock goes back
// before the order document flips to cancelled.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if isTerminalStatus(order.Status) {
		return Order{}, fmt.Errorf("%w: order is %s", ErrOrderTerminalState, order.Status)
	}
	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	if order.StockCommitted {
		if err := s.stock.RestoreForOrder(ctx, order); err != nil {
			return Order{}, err
		}
		order.StockCommitted = false
	}

	now := s.now()
	prev := order.Status
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = optionalString(strings.TrimSpace(cmd.Reason))
	order.CancelledAt = &now
	order.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if s.notifier != nil {
		if !s.notifier.SendOrderStatusUpdate(ctx, order, prev) {
			s.logger(ctx, "order.notify.status.failed", map[string]any{"orderId": order.ID})
		}
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId": order.ID,
		"reason":  strings.TrimSpace(cmd.Reason),
		"actor":   strings.TrimSpace(cmd.ActorID),
	})

	return order, nil
}

// VerifyPayment checks a client-submitted capture signature and, when it
// verifies, marks the order paid exactly once.
func (s *orderService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Order{}, fmt.Errorf("%w: payment id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Gateway == nil {
		return Order{}, fmt.Errorf("%w: order has no payment intent", ErrOrderInvalidInput)
	}
	if order.PaymentStatus == domain.PaymentStatusPaid || order.PaymentStatus == domain.PaymentStatusCODPaid {
		return order, nil
	}

	details, err := s.gateway.VerifyPayment(ctx, payments.PaymentContext{
		PreferredProvider: order.Gateway.Provider,
		Currency:          order.Currency,
	}, payments.VerifyRequest{
		IntentID:  order.Gateway.IntentID,
		PaymentID: paymentID,
		Signature: cmd.Signature,
	})
	if err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderPaymentVerificationFailed, err)
		}
		if errors.Is(err, payments.ErrGatewayUnavailable) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderGatewayFailed, err)
		}
		return Order{}, err
	}
	if !details.Captured {
		return Order{}, fmt.Errorf("%w: payment not captured", ErrOrderPaymentVerificationFailed)
	}

	if details.Amount == 0 {
		details.Amount = order.Totals.Total
	}
	if details.Currency == "" {
		details.Currency = order.Currency
	}

	return s.markPaid(ctx, order, details)
}

// RecordPackage attaches measured parcel data ahead of dispatch.
func (s *orderService) RecordPackage(ctx context.Context, cmd RecordPackageCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	pkg := cmd.Package
	if pkg.LengthCm <= 0 || pkg.WidthCm <= 0 || pkg.HeightCm <= 0 {
		return Order{}, fmt.Errorf("%w: package dimensions must be positive", ErrOrderInvalidInput)
	}
	if pkg.WeightGrams <= 0 {
		return Order{}, fmt.Errorf("%w: package weight must be positive", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if isTerminalStatus(order.Status) {
		return Order{}, fmt.Errorf("%w: order is %s", ErrOrderTerminalState, order.Status)
	}

	now := s.now()
	pkg.ID = packageIDPrefix + s.newID()
	pkg.RecordedBy = strings.TrimSpace(cmd.ActorID)
	pkg.RecordedAt = now
	order.Packages = append(order.Packages, pkg)
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.package.recorded", map[string]any{
		"orderId":   order.ID,
		"packageId": pkg.ID,
		"weight":    pkg.WeightGrams,
	})

	return order, nil
}

// CreateShippingPaymentLink opens a gateway-hosted link for separately billed
// shipping charges. Only one live link is allowed per order.
func (s *orderService) CreateShippingPaymentLink(ctx context.Context, cmd CreateShippingLinkCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Amount <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if isTerminalStatus(order.Status) {
		return Order{}, fmt.Errorf("%w: order is %s", ErrOrderTerminalState, order.Status)
	}
	if sp := order.ShippingPayment; sp != nil {
		if sp.Status == domain.ShippingPaymentPending || sp.Status == domain.ShippingPaymentPartiallyPaid {
			return Order{}, fmt.Errorf("%w: shipping payment link %s is still open", ErrOrderConflict, sp.LinkID)
		}
	}

	note := strings.TrimSpace(cmd.Note)
	description := note
	if description == "" {
		description = fmt.Sprintf("Shipping charges for order %s", order.Number)
	}

	link, err := s.gateway.CreatePaymentLink(ctx, payments.PaymentContext{Currency: order.Currency}, payments.PaymentLinkRequest{
		Amount:       cmd.Amount,
		Currency:     order.Currency,
		Description:  description,
		CustomerName: order.ShippingAddress.Recipient,
		CustomerPhone: func() string {
			if order.ShippingAddress.Phone != nil {
				return *order.ShippingAddress.Phone
			}
			return ""
		}(),
		ReferenceID: order.ID,
		Notes: map[string]string{
			"orderId": order.ID,
			"purpose": "shipping",
		},
	})
	if err != nil {
		if errors.Is(err, payments.ErrGatewayUnavailable) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderGatewayFailed, err)
		}
		return Order{}, err
	}

	now := s.now()
	order.ShippingPayment = &domain.ShippingPayment{
		LinkID:    link.LinkID,
		ShortURL:  link.ShortURL,
		Amount:    cmd.Amount,
		Status:    domain.ShippingPaymentPending,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: link.ExpiresAt,
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if s.notifier != nil {
		if !s.notifier.SendShippingPaymentLink(ctx, order, ShippingPaymentNotification{
			LinkID:   link.LinkID,
			ShortURL: link.ShortURL,
			Amount:   cmd.Amount,
			Status:   domain.ShippingPaymentPending,
		}) {
			s.logger(ctx, "order.notify.shipping_link.failed", map[string]any{"orderId": order.ID})
		}
	}

	s.logger(ctx, "order.shipping_link.created", map[string]any{
		"orderId": order.ID,
		"linkId":  link.LinkID,
		"amount":  cmd.Amount,
	})

	return order, nil
}

// MarkPaymentCaptured applies a gateway-confirmed capture, typically from the
// webhook reconciler. Replays against an already paid order are no-ops.
func (s *orderService) MarkPaymentCaptured(ctx context.Context, cmd PaymentCapturedCommand) (Order, error) {
	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" {
		return Order{}, fmt.Errorf("%w: intent id is required", ErrOrderInvalidInput)
	}
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Order{}, fmt.Errorf("%w: payment id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByIntentID(ctx, intentID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.PaymentStatus == domain.PaymentStatusPaid || order.PaymentStatus == domain.PaymentStatusCODPaid {
		return order, nil
	}

	provider := ""
	if order.Gateway != nil {
		provider = order.Gateway.Provider
	}
	details := payments.PaymentDetails{
		Provider:  provider,
		PaymentID: paymentID,
		IntentID:  intentID,
		Status:    payments.StatusCaptured,
		Amount:    cmd.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		Captured:  true,
		Raw:       cmd.Raw,
	}
	if details.Amount == 0 {
		details.Amount = order.Totals.Total
	}
	if details.Currency == "" {
		details.Currency = order.Currency
	}

	return s.markPaid(ctx, order, details)
}

// MarkPaymentFailed records a terminal gateway rejection. A capture always
// wins over a failure: once the order is paid, late or replayed failure
// events are no-ops, as are failures against COD orders.
func (s *orderService) MarkPaymentFailed(ctx context.Context, cmd PaymentFailedCommand) (Order, error) {
	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" {
		return Order{}, fmt.Errorf("%w: intent id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByIntentID(ctx, intentID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.PaymentStatus != domain.PaymentStatusAwaiting {
		return order, nil
	}

	now := s.now()
	order.PaymentStatus = domain.PaymentStatusFailed
	order.UpdatedAt = now

	paymentID := strings.TrimSpace(cmd.PaymentID)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if s.ledger != nil && paymentID != "" {
			provider := ""
			if order.Gateway != nil {
				provider = order.Gateway.Provider
			}
			entry := domain.PaymentLedgerEntry{
				ID:        paymentID,
				OrderID:   order.ID,
				IntentID:  intentID,
				Provider:  provider,
				Amount:    order.Totals.Total,
				Currency:  order.Currency,
				Status:    string(payments.StatusFailed),
				Captured:  false,
				CreatedAt: now,
				UpdatedAt: now,
				Raw:       cmd.Raw,
			}
			if _, err := s.ledger.Upsert(txCtx, entry); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.payment.failed", map[string]any{
		"orderId":   order.ID,
		"paymentId": paymentID,
		"reason":    strings.TrimSpace(cmd.Reason),
	})

	return order, nil
}

// ApplyShippingPaymentEvent folds one payment-link lifecycle event into the
// order's shipping payment. Receipts dedupe by gateway payment id so webhook
// redelivery cannot double-count.
func (s *orderService) ApplyShippingPaymentEvent(ctx context.Context, cmd ShippingPaymentEventCommand) (Order, error) {
	linkID := strings.TrimSpace(cmd.LinkID)
	if linkID == "" {
		return Order{}, fmt.Errorf("%w: link id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByShippingLinkID(ctx, linkID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	sp := order.ShippingPayment
	if sp == nil || sp.LinkID != linkID {
		return Order{}, fmt.Errorf("%w: order has no shipping payment link %s", ErrOrderInvalidInput, linkID)
	}

	now := s.now()
	occurred := cmd.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}

	switch cmd.Event {
	case domain.ShippingPaymentPaid, domain.ShippingPaymentPartiallyPaid:
		paymentID := strings.TrimSpace(cmd.PaymentID)
		if paymentID == "" {
			return Order{}, fmt.Errorf("%w: payment id is required for settlement events", ErrOrderInvalidInput)
		}
		for _, receipt := range sp.Receipts {
			if receipt.PaymentID == paymentID {
				return order, nil
			}
		}
		sp.Receipts = append(sp.Receipts, domain.ShippingPaymentReceipt{
			PaymentID:  paymentID,
			Amount:     cmd.Amount,
			ReceivedAt: occurred.UTC(),
		})
		sp.AmountPaid += cmd.Amount
		if cmd.Event == domain.ShippingPaymentPaid || sp.AmountPaid >= sp.Amount {
			sp.Status = domain.ShippingPaymentPaid
		} else {
			sp.Status = domain.ShippingPaymentPartiallyPaid
		}
	case domain.ShippingPaymentExpired, domain.ShippingPaymentCancelled:
		if sp.Status == domain.ShippingPaymentPaid {
			return order, nil
		}
		sp.Status = cmd.Event
	default:
		return Order{}, fmt.Errorf("%w: unknown shipping payment event %q", ErrOrderInvalidInput, cmd.Event)
	}

	sp.UpdatedAt = now
	order.ShippingPayment = sp
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if s.notifier != nil && (cmd.Event == domain.ShippingPaymentPaid || cmd.Event == domain.ShippingPaymentPartiallyPaid) {
		if !s.notifier.SendShippingPaymentReceipt(ctx, order, ShippingPaymentNotification{
			LinkID:     sp.LinkID,
			ShortURL:   sp.ShortURL,
			Amount:     sp.Amount,
			AmountPaid: sp.AmountPaid,
			Status:     sp.Status,
		}) {
			s.logger(ctx, "order.notify.shipping_receipt.failed", map[string]any{"orderId": order.ID})
		}
	}

	s.logger(ctx, "order.shipping_payment.applied", map[string]any{
		"orderId": order.ID,
		"linkId":  linkID,
		"event":   string(cmd.Event),
		"paid":    sp.AmountPaid,
	})

	return order, nil
}

func (s *orderService) loadProducts(ctx context.Context, lines []CreateOrderLine) (map[string]Product, error) {
	ids := make([]string, 0, len(lines))
	seen := map[string]bool{}
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrOrderInvalidInput)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate product %s", ErrOrderInvalidInput, id)
		}
		seen[id] = true
		ids = append(ids, id)
	}

	catalog, err := s.products.ListByIDs(ctx, ids)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	for _, id := range ids {
		product, ok := catalog[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown product %s", ErrOrderInvalidInput, id)
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, id)
		}
	}
	return catalog, nil
}

func (s *orderService) resolveLines(lines []CreateOrderLine, catalog map[string]Product) ([]OrderItem, []PriceLineInput, error) {
	items := make([]OrderItem, 0, len(lines))
	priceLines := make([]PriceLineInput, 0, len(lines))

	for _, line := range lines {
		product := catalog[strings.TrimSpace(line.ProductID)]
		resolution, err := s.quantities.Resolve(ResolveQuantityRequest{
			Desired:     line.Quantity,
			MOQ:         product.MOQ,
			Stock:       product.Stock,
			MaxPerOrder: product.MaxPerOrder,
		})
		if err != nil {
			return nil, nil, err
		}
		if resolution.Quantity == 0 {
			return nil, nil, fmt.Errorf("%w: product %s cannot meet its minimum order quantity", ErrOrderUnsatisfiableQuantity, product.ID)
		}

		items = append(items, OrderItem{
			ProductID:    product.ID,
			SKU:          product.SKU,
			Name:         product.Name,
			ImageURL:     product.ImageURL,
			RequestedQty: line.Quantity,
			Quantity:     resolution.Quantity,
			HSNCode:      product.HSNCode,
		})
		priceLines = append(priceLines, PriceLineInput{
			Product:  product,
			Quantity: resolution.Quantity,
		})
	}

	return items, priceLines, nil
}

func (s *orderService) openIntent(ctx context.Context, order Order) (payments.Intent, error) {
	paymentCtx := payments.PaymentContext{Currency: order.Currency}
	if order.PaymentMethod == domain.PaymentMethodCOD {
		paymentCtx.PreferredProvider = "cod"
	}

	intent, err := s.gateway.CreateIntent(ctx, paymentCtx, payments.IntentRequest{
		Amount:   order.Totals.Total,
		Currency: order.Currency,
		Receipt:  order.Number,
		Metadata: map[string]string{
			"orderId": order.ID,
		},
	})
	if err != nil {
		return payments.Intent{}, fmt.Errorf("%w: %v", ErrOrderGatewayFailed, err)
	}
	return intent, nil
}

// unwindOrder reverses a partially placed order. Failures here are logged
// rather than returned so the original error reaches the caller.
func (s *orderService) unwindOrder(ctx context.Context, order Order, restoreStock bool) {
	if restoreStock {
		if err := s.stock.RestoreForOrder(ctx, order); err != nil {
			s.logger(ctx, "order.unwind.restore.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		s.logger(ctx, "order.unwind.delete.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

// markPaid flips the payment machine and, for freshly paid orders still
// pending, moves fulfillment straight to processing. Confirmation stays a
// human decision.
func (s *orderService) markPaid(ctx context.Context, order Order, details payments.PaymentDetails) (Order, error) {
	now := s.now()
	prev := order.Status

	if order.PaymentMethod == domain.PaymentMethodCOD {
		order.PaymentStatus = domain.PaymentStatusCODPaid
	} else {
		order.PaymentStatus = domain.PaymentStatusPaid
	}
	order.PaidAt = &now
	order.UpdatedAt = now
	if order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusProcessing
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if s.ledger != nil {
			entry := domain.PaymentLedgerEntry{
				ID:         details.PaymentID,
				OrderID:    order.ID,
				IntentID:   details.IntentID,
				Provider:   details.Provider,
				Amount:     details.Amount,
				Currency:   details.Currency,
				Status:     string(details.Status),
				Captured:   details.Captured,
				VerifiedAt: &now,
				CreatedAt:  now,
				UpdatedAt:  now,
				Raw:        details.Raw,
			}
			if _, err := s.ledger.Upsert(txCtx, entry); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if prev != order.Status && s.notifier != nil {
		if !s.notifier.SendOrderStatusUpdate(ctx, order, prev) {
			s.logger(ctx, "order.notify.status.failed", map[string]any{"orderId": order.ID})
		}
	}

	s.logger(ctx, "order.payment.captured", map[string]any{
		"orderId":   order.ID,
		"paymentId": details.PaymentID,
		"amount":    details.Amount,
	})

	return order, nil
}

func (s *orderService) applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status
	if current == target {
		order.UpdatedAt = now
		return nil
	}
	if isTerminalStatus(current) {
		return fmt.Errorf("%w: order is %s", ErrOrderTerminalState, current)
	}
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	s.updateTimestamps(order, target, now)
	return nil
}

func (s *orderService) updateTimestamps(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%06d", s.prefix, now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func initialPaymentStatus(method domain.PaymentMethod) domain.PaymentStatus {
	if method == domain.PaymentMethodCOD {
		return domain.PaymentStatusCODPending
	}
	return domain.PaymentStatusAwaiting
}

func isTerminalStatus(status domain.OrderStatus) bool {
	return status == domain.OrderStatusDelivered || status == domain.OrderStatusCancelled
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
