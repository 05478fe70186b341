package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/payments"
	"github.com/meridianware/charaiveti-api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn             func(ctx context.Context, order domain.Order) error
	updateFn             func(ctx context.Context, order domain.Order) error
	deleteFn             func(ctx context.Context, orderID string) error
	findFn               func(ctx context.Context, orderID string) (domain.Order, error)
	findByIntentFn       func(ctx context.Context, intentID string) (domain.Order, error)
	findByShippingLinkFn func(ctx context.Context, linkID string) (domain.Order, error)
	listFn               func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn == nil {
		return errors.New("insertFn not configured")
	}
	return s.insertFn(ctx, order)
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn == nil {
		return errors.New("updateFn not configured")
	}
	return s.updateFn(ctx, order)
}

func (s *stubOrderRepo) Delete(ctx context.Context, orderID string) error {
	if s.deleteFn == nil {
		return errors.New("deleteFn not configured")
	}
	return s.deleteFn(ctx, orderID)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn == nil {
		return domain.Order{}, errors.New("findFn not configured")
	}
	return s.findFn(ctx, orderID)
}

func (s *stubOrderRepo) FindByIntentID(ctx context.Context, intentID string) (domain.Order, error) {
	if s.findByIntentFn == nil {
		return domain.Order{}, errors.New("findByIntentFn not configured")
	}
	return s.findByIntentFn(ctx, intentID)
}

func (s *stubOrderRepo) FindByShippingLinkID(ctx context.Context, linkID string) (domain.Order, error) {
	if s.findByShippingLinkFn == nil {
		return domain.Order{}, errors.New("findByShippingLinkFn not configured")
	}
	return s.findByShippingLinkFn(ctx, linkID)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("listFn not configured")
	}
	return s.listFn(ctx, filter)
}

type stubCounterRepo struct {
	nextFn func(ctx context.Context, counterID string, step int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn == nil {
		return 0, errors.New("nextFn not configured")
	}
	return s.nextFn(ctx, counterID, step)
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubLedgerRepo struct {
	upsertFn func(ctx context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, error)
}

func (s *stubLedgerRepo) Upsert(ctx context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, error) {
	if s.upsertFn == nil {
		return entry, nil
	}
	return s.upsertFn(ctx, entry)
}

func (s *stubLedgerRepo) FindByID(context.Context, string) (domain.PaymentLedgerEntry, error) {
	return domain.PaymentLedgerEntry{}, errors.New("not configured")
}

func (s *stubLedgerRepo) ListByOrder(context.Context, string) ([]domain.PaymentLedgerEntry, error) {
	return nil, nil
}

type stubGateway struct {
	createIntentFn func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	createLinkFn   func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentLinkRequest) (payments.PaymentLink, error)
	verifyFn       func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error)
}

func (s *stubGateway) CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
	if s.createIntentFn == nil {
		return payments.Intent{Provider: "razorpay", IntentID: "order_test"}, nil
	}
	return s.createIntentFn(ctx, paymentCtx, req)
}

func (s *stubGateway) CreatePaymentLink(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentLinkRequest) (payments.PaymentLink, error) {
	if s.createLinkFn == nil {
		return payments.PaymentLink{}, errors.New("createLinkFn not configured")
	}
	return s.createLinkFn(ctx, paymentCtx, req)
}

func (s *stubGateway) VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error) {
	if s.verifyFn == nil {
		return payments.PaymentDetails{}, errors.New("verifyFn not configured")
	}
	return s.verifyFn(ctx, paymentCtx, req)
}

type stubNotifier struct {
	confirmations    int
	adminAlerts      int
	statusUpdates    int
	shippingLinks    int
	shippingReceipts int
}

func (s *stubNotifier) SendOrderConfirmation(context.Context, Order, string) bool {
	s.confirmations++
	return true
}

func (s *stubNotifier) SendAdminNewOrderAlert(context.Context, Order) bool {
	s.adminAlerts++
	return true
}

func (s *stubNotifier) SendOrderStatusUpdate(context.Context, Order, domain.OrderStatus) bool {
	s.statusUpdates++
	return true
}

func (s *stubNotifier) SendShippingPaymentLink(context.Context, Order, ShippingPaymentNotification) bool {
	s.shippingLinks++
	return true
}

func (s *stubNotifier) SendShippingPaymentReceipt(context.Context, Order, ShippingPaymentNotification) bool {
	s.shippingReceipts++
	return true
}

type orderServiceFixture struct {
	orders   *stubOrderRepo
	products *stubProductRepo
	ledger   *stubLedgerRepo
	counters *stubCounterRepo
	gateway  *stubGateway
	notifier *stubNotifier
	service  OrderService
}

func newOrderServiceFixture(t *testing.T) *orderServiceFixture {
	t.Helper()

	fixture := &orderServiceFixture{
		orders:   &stubOrderRepo{},
		products: &stubProductRepo{},
		ledger:   &stubLedgerRepo{},
		counters: &stubCounterRepo{nextFn: func(context.Context, string, int64) (int64, error) { return 42, nil }},
		gateway:  &stubGateway{},
		notifier: &stubNotifier{},
	}

	resolver, err := NewQuantityResolver(QuantityResolverDeps{})
	if err != nil {
		t.Fatalf("NewQuantityResolver returned error: %v", err)
	}
	pricing, err := NewPricingEngine(PricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewPricingEngine returned error: %v", err)
	}
	stock, err := NewStockService(StockServiceDeps{Products: fixture.products})
	if err != nil {
		t.Fatalf("NewStockService returned error: %v", err)
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        fixture.orders,
		Products:      fixture.products,
		PaymentLedger: fixture.ledger,
		Counters:      fixture.counters,
		Quantities:    resolver,
		Pricing:       pricing,
		Stock:         stock,
		Gateway:       fixture.gateway,
		Notifier:      fixture.notifier,
		Clock:         func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator:   func() string { return "01HX0000000000000000000000" },
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	fixture.service = svc
	return fixture
}

func testCatalog() map[string]domain.Product {
	return map[string]domain.Product{
		"prod_a": {
			ID:        "prod_a",
			SKU:       "SKU-A",
			Name:      "Widget A",
			UnitPrice: 500,
			Stock:     100,
			MOQ:       10,
			Active:    true,
		},
	}
}

func TestOrderServiceCreatePlacesOrder(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	var inserted, updated domain.Order
	fixture.orders.insertFn = func(_ context.Context, order domain.Order) error {
		inserted = order
		return nil
	}
	fixture.orders.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}
	fixture.products.listFn = func(_ context.Context, ids []string) (map[string]domain.Product, error) {
		return testCatalog(), nil
	}
	fixture.products.decrementFn = func(_ context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
		return repositories.StockDecrementResult{Remaining: map[string]int{"prod_a": 90}}, nil
	}
	fixture.gateway.createIntentFn = func(_ context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
		if req.Amount != inserted.Totals.Total {
			t.Fatalf("expected intent amount %d, got %d", inserted.Totals.Total, req.Amount)
		}
		return payments.Intent{Provider: "razorpay", IntentID: "order_xyz", Amount: req.Amount, Currency: req.Currency}, nil
	}

	order, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		UserID: "user_1",
		Email:  "buyer@example.com",
		Lines:  []CreateOrderLine{{ProductID: "prod_a", Quantity: 7}},
		ShippingAddress: Address{
			Recipient:  "Buyer",
			Line1:      "1 Test Lane",
			City:       "Pune",
			PostalCode: "411001",
			Country:    "IN",
		},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusAwaiting {
		t.Fatalf("expected awaiting_payment, got %s", order.PaymentStatus)
	}
	if order.Number != "CH-2024-000042" {
		t.Fatalf("unexpected order number %q", order.Number)
	}
	if len(order.Items) != 1 || order.Items[0].Quantity != 10 {
		t.Fatalf("expected quantity snapped to 10, got %+v", order.Items)
	}
	if order.Items[0].RequestedQty != 7 {
		t.Fatalf("expected requested quantity preserved, got %d", order.Items[0].RequestedQty)
	}
	// 10 x 500 subtotal with 18% tax and flat shipping below the free threshold.
	if order.Totals.Subtotal != 5000 || order.Totals.Tax != 900 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if !order.StockCommitted {
		t.Fatal("expected stock committed")
	}
	if order.Gateway == nil || order.Gateway.IntentID != "order_xyz" {
		t.Fatalf("expected gateway intent recorded, got %+v", order.Gateway)
	}
	if updated.Gateway == nil {
		t.Fatal("expected persisted order to carry the gateway intent")
	}
	if fixture.notifier.confirmations != 1 || fixture.notifier.adminAlerts != 1 {
		t.Fatalf("expected confirmation and admin alert, got %+v", fixture.notifier)
	}
}

func TestOrderServiceCreateUnsatisfiableQuantity(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	catalog := testCatalog()
	product := catalog["prod_a"]
	product.Stock = 8
	catalog["prod_a"] = product

	fixture.products.listFn = func(context.Context, []string) (map[string]domain.Product, error) {
		return catalog, nil
	}

	_, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		UserID:          "user_1",
		Lines:           []CreateOrderLine{{ProductID: "prod_a", Quantity: 5}},
		ShippingAddress: Address{Recipient: "Buyer", Line1: "1 Test Lane"},
	})
	if !errors.Is(err, ErrOrderUnsatisfiableQuantity) {
		t.Fatalf("expected ErrOrderUnsatisfiableQuantity, got %v", err)
	}
}

func TestOrderServiceCreateManualChannel(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	catalog := testCatalog()
	product := catalog["prod_a"]
	product.Stock = 2000
	catalog["prod_a"] = product

	fixture.products.listFn = func(context.Context, []string) (map[string]domain.Product, error) {
		return catalog, nil
	}

	_, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		UserID:          "user_1",
		Lines:           []CreateOrderLine{{ProductID: "prod_a", Quantity: 600}},
		ShippingAddress: Address{Recipient: "Buyer", Line1: "1 Test Lane"},
	})
	if !errors.Is(err, ErrManualChannelRequired) {
		t.Fatalf("expected ErrManualChannelRequired, got %v", err)
	}
}

func TestOrderServiceCreateUnwindsOnStockConflict(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	var deleted string
	fixture.orders.insertFn = func(context.Context, domain.Order) error { return nil }
	fixture.orders.deleteFn = func(_ context.Context, orderID string) error {
		deleted = orderID
		return nil
	}
	fixture.products.listFn = func(context.Context, []string) (map[string]domain.Product, error) {
		return testCatalog(), nil
	}
	fixture.products.decrementFn = func(context.Context, repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
		return repositories.StockDecrementResult{}, repositories.NewStockError(repositories.StockErrorInsufficient, "prod_a", "stock changed underfoot", nil)
	}

	_, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		UserID:          "user_1",
		Lines:           []CreateOrderLine{{ProductID: "prod_a", Quantity: 10}},
		ShippingAddress: Address{Recipient: "Buyer", Line1: "1 Test Lane"},
	})
	if !errors.Is(err, ErrStockConflict) {
		t.Fatalf("expected ErrStockConflict, got %v", err)
	}
	if deleted == "" {
		t.Fatal("expected freshly inserted order to be deleted")
	}
}

func TestOrderServiceCreateUnwindsOnGatewayFailure(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	var deleted string
	var restored bool
	fixture.orders.insertFn = func(context.Context, domain.Order) error { return nil }
	fixture.orders.deleteFn = func(_ context.Context, orderID string) error {
		deleted = orderID
		return nil
	}
	fixture.products.listFn = func(context.Context, []string) (map[string]domain.Product, error) {
		return testCatalog(), nil
	}
	fixture.products.decrementFn = func(context.Context, repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
		return repositories.StockDecrementResult{}, nil
	}
	fixture.products.restoreFn = func(context.Context, repositories.StockRestoreRequest) error {
		restored = true
		return nil
	}
	fixture.gateway.createIntentFn = func(context.Context, payments.PaymentContext, payments.IntentRequest) (payments.Intent, error) {
		return payments.Intent{}, payments.ErrGatewayUnavailable
	}

	_, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		UserID:          "user_1",
		Lines:           []CreateOrderLine{{ProductID: "prod_a", Quantity: 10}},
		ShippingAddress: Address{Recipient: "Buyer", Line1: "1 Test Lane"},
	})
	if !errors.Is(err, ErrOrderGatewayFailed) {
		t.Fatalf("expected ErrOrderGatewayFailed, got %v", err)
	}
	if !restored {
		t.Fatal("expected committed stock to be restored")
	}
	if deleted == "" {
		t.Fatal("expected order document to be deleted")
	}
}

func TestOrderServiceCreateCODRoutesToCODProvider(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.insertFn = func(context.Context, domain.Order) error { return nil }
	fixture.orders.updateFn = func(context.Context, domain.Order) error { return nil }
	fixture.products.listFn = func(context.Context, []string) (map[string]domain.Product, error) {
		return testCatalog(), nil
	}
	fixture.products.decrementFn = func(context.Context, repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
		return repositories.StockDecrementResult{}, nil
	}

	var routedProvider string
	fixture.gateway.createIntentFn = func(_ context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
		routedProvider = paymentCtx.PreferredProvider
		return payments.Intent{Provider: "cod", IntentID: "cod_local"}, nil
	}

	order, err := fixture.service.Create(context.Background(), CreateOrderCommand{
		UserID:          "user_1",
		Lines:           []CreateOrderLine{{ProductID: "prod_a", Quantity: 10}},
		ShippingAddress: Address{Recipient: "Buyer", Line1: "1 Test Lane"},
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if routedProvider != "cod" {
		t.Fatalf("expected cod provider preference, got %q", routedProvider)
	}
	if order.PaymentStatus != domain.PaymentStatusCODPending {
		t.Fatalf("expected cod_pending, got %s", order.PaymentStatus)
	}
}

func TestOrderServiceTransitionStatus(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	stored := domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}
	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return stored, nil
	}
	var updated domain.Order
	fixture.orders.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}

	order, err := fixture.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusConfirmed,
		ActorID:      "admin_1",
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", order.Status)
	}
	if order.ConfirmedAt == nil {
		t.Fatal("expected ConfirmedAt stamped")
	}
	if updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected persisted status confirmed, got %s", updated.Status)
	}
	if fixture.notifier.statusUpdates != 1 {
		t.Fatalf("expected one status notification, got %d", fixture.notifier.statusUpdates)
	}
}

func TestOrderServiceTransitionStatusRejectsInvalidJump(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}, nil
	}

	_, err := fixture.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusShipped,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestOrderServiceTransitionStatusRejectsTerminalMutation(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{ID: "ord_1", Status: domain.OrderStatusDelivered}, nil
	}

	_, err := fixture.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusProcessing,
	})
	if !errors.Is(err, ErrOrderTerminalState) {
		t.Fatalf("expected ErrOrderTerminalState, got %v", err)
	}
}

func TestOrderServiceCancelRestoresStock(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	stored := domain.Order{
		ID:             "ord_1",
		Status:         domain.OrderStatusConfirmed,
		StockCommitted: true,
		Items:          []domain.OrderItem{{ProductID: "prod_a", Quantity: 10}},
	}
	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return stored, nil
	}
	var updated domain.Order
	fixture.orders.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}
	var restored bool
	fixture.products.restoreFn = func(context.Context, repositories.StockRestoreRequest) error {
		restored = true
		return nil
	}

	order, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Reason:  "customer request",
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	if !restored {
		t.Fatal("expected stock restored")
	}
	if updated.StockCommitted {
		t.Fatal("expected stock committed flag cleared")
	}
	if order.CancelReason == nil || *order.CancelReason != "customer request" {
		t.Fatalf("expected cancel reason preserved, got %v", order.CancelReason)
	}
}

func TestOrderServiceCancelRejectsProcessing(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{ID: "ord_1", Status: domain.OrderStatusProcessing}, nil
	}

	_, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestOrderServiceVerifyPaymentMarksPaid(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	stored := domain.Order{
		ID:            "ord_1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusAwaiting,
		PaymentMethod: domain.PaymentMethodPrepaid,
		Currency:      "INR",
		Totals:        domain.OrderTotals{Total: 5900},
		Gateway:       &domain.GatewayIntent{Provider: "razorpay", IntentID: "order_xyz"},
	}
	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return stored, nil
	}
	var updated domain.Order
	fixture.orders.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}
	var ledgerEntry domain.PaymentLedgerEntry
	fixture.ledger.upsertFn = func(_ context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, error) {
		ledgerEntry = entry
		return entry, nil
	}
	fixture.gateway.verifyFn = func(_ context.Context, _ payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{
			Provider:  "razorpay",
			PaymentID: req.PaymentID,
			IntentID:  req.IntentID,
			Status:    payments.StatusCaptured,
			Amount:    5900,
			Currency:  "INR",
			Captured:  true,
		}, nil
	}

	order, err := fixture.service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:   "ord_1",
		PaymentID: "pay_123",
		Signature: "ignored-by-stub",
	})
	if err != nil {
		t.Fatalf("VerifyPayment returned error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", order.PaymentStatus)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected pending order bumped to processing, got %s", order.Status)
	}
	if order.PaidAt == nil {
		t.Fatal("expected PaidAt stamped")
	}
	if ledgerEntry.ID != "pay_123" || ledgerEntry.OrderID != "ord_1" {
		t.Fatalf("unexpected ledger entry %+v", ledgerEntry)
	}
	if updated.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected persisted payment status paid, got %s", updated.PaymentStatus)
	}
}

func TestOrderServiceVerifyPaymentNeverAutoConfirms(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	stored := domain.Order{
		ID:            "ord_1",
		Status:        domain.OrderStatusConfirmed,
		PaymentStatus: domain.PaymentStatusAwaiting,
		PaymentMethod: domain.PaymentMethodPrepaid,
		Gateway:       &domain.GatewayIntent{Provider: "razorpay", IntentID: "order_xyz"},
	}
	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return stored, nil
	}
	fixture.orders.updateFn = func(context.Context, domain.Order) error { return nil }
	fixture.gateway.verifyFn = func(context.Context, payments.PaymentContext, payments.VerifyRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{Status: payments.StatusCaptured, Captured: true}, nil
	}

	order, err := fixture.service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:   "ord_1",
		PaymentID: "pay_123",
	})
	if err != nil {
		t.Fatalf("VerifyPayment returned error: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected status untouched, got %s", order.Status)
	}
}

func TestOrderServiceVerifyPaymentSignatureMismatch(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{
			ID:            "ord_1",
			PaymentStatus: domain.PaymentStatusAwaiting,
			Gateway:       &domain.GatewayIntent{Provider: "razorpay", IntentID: "order_xyz"},
		}, nil
	}
	fixture.gateway.verifyFn = func(context.Context, payments.PaymentContext, payments.VerifyRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{}, payments.ErrSignatureMismatch
	}

	_, err := fixture.service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:   "ord_1",
		PaymentID: "pay_123",
		Signature: "bad",
	})
	if !errors.Is(err, ErrOrderPaymentVerificationFailed) {
		t.Fatalf("expected ErrOrderPaymentVerificationFailed, got %v", err)
	}
}

func TestOrderServiceVerifyPaymentIdempotent(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	paidAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{
			ID:            "ord_1",
			PaymentStatus: domain.PaymentStatusPaid,
			PaidAt:        &paidAt,
			Gateway:       &domain.GatewayIntent{Provider: "razorpay", IntentID: "order_xyz"},
		}, nil
	}

	order, err := fixture.service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:   "ord_1",
		PaymentID: "pay_123",
	})
	if err != nil {
		t.Fatalf("VerifyPayment returned error: %v", err)
	}
	if order.PaidAt == nil || !order.PaidAt.Equal(paidAt) {
		t.Fatalf("expected original PaidAt preserved, got %v", order.PaidAt)
	}
}

func TestOrderServiceRecordPackage(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{ID: "ord_1", Status: domain.OrderStatusProcessing}, nil
	}
	var updated domain.Order
	fixture.orders.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}

	order, err := fixture.service.RecordPackage(context.Background(), RecordPackageCommand{
		OrderID: "ord_1",
		Package: domain.ShippingPackage{
			LengthCm:    30,
			WidthCm:     20,
			HeightCm:    10,
			WeightGrams: 1200,
		},
		ActorID: "admin_1",
	})
	if err != nil {
		t.Fatalf("RecordPackage returned error: %v", err)
	}
	if len(order.Packages) != 1 {
		t.Fatalf("expected one package, got %d", len(order.Packages))
	}
	if order.Packages[0].ID == "" || order.Packages[0].RecordedBy != "admin_1" {
		t.Fatalf("unexpected package %+v", order.Packages[0])
	}
	if len(updated.Packages) != 1 {
		t.Fatal("expected package persisted")
	}
}

func TestOrderServiceCreateShippingPaymentLink(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{
			ID:       "ord_1",
			Number:   "CH-2024-000042",
			Status:   domain.OrderStatusProcessing,
			Currency: "INR",
			ShippingAddress: domain.Address{
				Recipient: "Buyer",
				Line1:     "1 Test Lane",
			},
		}, nil
	}
	var updated domain.Order
	fixture.orders.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}
	fixture.gateway.createLinkFn = func(_ context.Context, _ payments.PaymentContext, req payments.PaymentLinkRequest) (payments.PaymentLink, error) {
		if req.Notes["orderId"] != "ord_1" {
			t.Fatalf("expected orderId note, got %v", req.Notes)
		}
		return payments.PaymentLink{
			Provider: "razorpay",
			LinkID:   "plink_001",
			ShortURL: "https://rzp.io/l/abc",
			Amount:   req.Amount,
			Currency: req.Currency,
		}, nil
	}

	order, err := fixture.service.CreateShippingPaymentLink(context.Background(), CreateShippingLinkCommand{
		OrderID: "ord_1",
		Amount:  9900,
		ActorID: "admin_1",
	})
	if err != nil {
		t.Fatalf("CreateShippingPaymentLink returned error: %v", err)
	}
	sp := order.ShippingPayment
	if sp == nil || sp.LinkID != "plink_001" || sp.Status != domain.ShippingPaymentPending {
		t.Fatalf("unexpected shipping payment %+v", sp)
	}
	if updated.ShippingPayment == nil {
		t.Fatal("expected shipping payment persisted")
	}
	if fixture.notifier.shippingLinks != 1 {
		t.Fatalf("expected link notification, got %d", fixture.notifier.shippingLinks)
	}
}

func TestOrderServiceCreateShippingPaymentLinkRejectsOpenLink(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{
			ID:     "ord_1",
			Status: domain.OrderStatusProcessing,
			ShippingPayment: &domain.ShippingPayment{
				LinkID: "plink_000",
				Status: domain.ShippingPaymentPending,
			},
		}, nil
	}

	_, err := fixture.service.CreateShippingPaymentLink(context.Background(), CreateShippingLinkCommand{
		OrderID: "ord_1",
		Amount:  9900,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestOrderServiceMarkPaymentCapturedIdempotent(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findByIntentFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{
			ID:            "ord_1",
			PaymentStatus: domain.PaymentStatusPaid,
		}, nil
	}

	order, err := fixture.service.MarkPaymentCaptured(context.Background(), PaymentCapturedCommand{
		IntentID:  "order_xyz",
		PaymentID: "pay_123",
	})
	if err != nil {
		t.Fatalf("MarkPaymentCaptured returned error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid preserved, got %s", order.PaymentStatus)
	}
}

func TestOrderServiceMarkPaymentCaptured(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findByIntentFn = func(_ context.Context, intentID string) (domain.Order, error) {
		if intentID != "order_xyz" {
			t.Fatalf("unexpected intent lookup %q", intentID)
		}
		return domain.Order{
			ID:            "ord_1",
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusAwaiting,
			PaymentMethod: domain.PaymentMethodPrepaid,
			Currency:      "INR",
			Totals:        domain.OrderTotals{Total: 5900},
			Gateway:       &domain.GatewayIntent{Provider: "razorpay", IntentID: "order_xyz"},
		}, nil
	}
	fixture.orders.updateFn = func(context.Context, domain.Order) error { return nil }
	var ledgerEntry domain.PaymentLedgerEntry
	fixture.ledger.upsertFn = func(_ context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, error) {
		ledgerEntry = entry
		return entry, nil
	}

	order, err := fixture.service.MarkPaymentCaptured(context.Background(), PaymentCapturedCommand{
		IntentID:  "order_xyz",
		PaymentID: "pay_123",
		Amount:    5900,
		Currency:  "INR",
	})
	if err != nil {
		t.Fatalf("MarkPaymentCaptured returned error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", order.PaymentStatus)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", order.Status)
	}
	if ledgerEntry.IntentID != "order_xyz" {
		t.Fatalf("unexpected ledger entry %+v", ledgerEntry)
	}
}

func TestOrderServiceMarkPaymentFailed(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findByIntentFn = func(_ context.Context, intentID string) (domain.Order, error) {
		if intentID != "order_xyz" {
			t.Fatalf("unexpected intent lookup %q", intentID)
		}
		return domain.Order{
			ID:            "ord_1",
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusAwaiting,
			PaymentMethod: domain.PaymentMethodPrepaid,
			Currency:      "INR",
			Totals:        domain.OrderTotals{Total: 5900},
			Gateway:       &domain.GatewayIntent{Provider: "razorpay", IntentID: "order_xyz"},
		}, nil
	}
	var updated domain.Order
	fixture.orders.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}
	var ledgerEntry domain.PaymentLedgerEntry
	fixture.ledger.upsertFn = func(_ context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, error) {
		ledgerEntry = entry
		return entry, nil
	}

	order, err := fixture.service.MarkPaymentFailed(context.Background(), PaymentFailedCommand{
		IntentID:  "order_xyz",
		PaymentID: "pay_123",
		Reason:    "failed",
	})
	if err != nil {
		t.Fatalf("MarkPaymentFailed returned error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", order.PaymentStatus)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected fulfillment untouched, got %s", order.Status)
	}
	if updated.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed status persisted, got %s", updated.PaymentStatus)
	}
	if ledgerEntry.Status != string(payments.StatusFailed) || ledgerEntry.Captured {
		t.Fatalf("unexpected ledger entry %+v", ledgerEntry)
	}
}

func TestOrderServiceMarkPaymentFailedAfterCapture(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findByIntentFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{
			ID:            "ord_1",
			PaymentStatus: domain.PaymentStatusPaid,
		}, nil
	}
	fixture.orders.updateFn = func(context.Context, domain.Order) error {
		t.Fatal("capture must win over a late failure event")
		return nil
	}

	order, err := fixture.service.MarkPaymentFailed(context.Background(), PaymentFailedCommand{
		IntentID:  "order_xyz",
		PaymentID: "pay_123",
	})
	if err != nil {
		t.Fatalf("MarkPaymentFailed returned error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid preserved, got %s", order.PaymentStatus)
	}
}

func TestOrderServiceMarkPaymentFailedReplay(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findByIntentFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{
			ID:            "ord_1",
			PaymentStatus: domain.PaymentStatusFailed,
		}, nil
	}
	fixture.orders.updateFn = func(context.Context, domain.Order) error {
		t.Fatal("replayed failure event must not rewrite the order")
		return nil
	}

	order, err := fixture.service.MarkPaymentFailed(context.Background(), PaymentFailedCommand{
		IntentID: "order_xyz",
	})
	if err != nil {
		t.Fatalf("MarkPaymentFailed returned error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed preserved, got %s", order.PaymentStatus)
	}
}

func TestOrderServiceApplyShippingPaymentEventAccumulates(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	stored := domain.Order{
		ID: "ord_1",
		ShippingPayment: &domain.ShippingPayment{
			LinkID: "plink_001",
			Amount: 10000,
			Status: domain.ShippingPaymentPending,
		},
	}
	fixture.orders.findByShippingLinkFn = func(context.Context, string) (domain.Order, error) {
		return stored, nil
	}
	fixture.orders.updateFn = func(context.Context, domain.Order) error { return nil }

	order, err := fixture.service.ApplyShippingPaymentEvent(context.Background(), ShippingPaymentEventCommand{
		LinkID:    "plink_001",
		Event:     domain.ShippingPaymentPartiallyPaid,
		PaymentID: "pay_a",
		Amount:    4000,
	})
	if err != nil {
		t.Fatalf("ApplyShippingPaymentEvent returned error: %v", err)
	}
	sp := order.ShippingPayment
	if sp.AmountPaid != 4000 || sp.Status != domain.ShippingPaymentPartiallyPaid {
		t.Fatalf("unexpected shipping payment %+v", sp)
	}
	if len(sp.Receipts) != 1 || sp.Receipts[0].PaymentID != "pay_a" {
		t.Fatalf("unexpected receipts %+v", sp.Receipts)
	}

	// Second settlement crosses the full amount.
	stored.ShippingPayment = sp
	order, err = fixture.service.ApplyShippingPaymentEvent(context.Background(), ShippingPaymentEventCommand{
		LinkID:    "plink_001",
		Event:     domain.ShippingPaymentPartiallyPaid,
		PaymentID: "pay_b",
		Amount:    6000,
	})
	if err != nil {
		t.Fatalf("ApplyShippingPaymentEvent returned error: %v", err)
	}
	if order.ShippingPayment.AmountPaid != 10000 || order.ShippingPayment.Status != domain.ShippingPaymentPaid {
		t.Fatalf("expected fully paid, got %+v", order.ShippingPayment)
	}
	if fixture.notifier.shippingReceipts != 2 {
		t.Fatalf("expected two receipt notifications, got %d", fixture.notifier.shippingReceipts)
	}
}

func TestOrderServiceApplyShippingPaymentEventDedupes(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findByShippingLinkFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{
			ID: "ord_1",
			ShippingPayment: &domain.ShippingPayment{
				LinkID:     "plink_001",
				Amount:     10000,
				AmountPaid: 4000,
				Status:     domain.ShippingPaymentPartiallyPaid,
				Receipts: []domain.ShippingPaymentReceipt{
					{PaymentID: "pay_a", Amount: 4000},
				},
			},
		}, nil
	}

	order, err := fixture.service.ApplyShippingPaymentEvent(context.Background(), ShippingPaymentEventCommand{
		LinkID:    "plink_001",
		Event:     domain.ShippingPaymentPartiallyPaid,
		PaymentID: "pay_a",
		Amount:    4000,
	})
	if err != nil {
		t.Fatalf("ApplyShippingPaymentEvent returned error: %v", err)
	}
	if order.ShippingPayment.AmountPaid != 4000 {
		t.Fatalf("expected replay ignored, got %+v", order.ShippingPayment)
	}
}

func TestOrderServiceApplyShippingPaymentEventExpiry(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	fixture.orders.findByShippingLinkFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{
			ID: "ord_1",
			ShippingPayment: &domain.ShippingPayment{
				LinkID: "plink_001",
				Amount: 10000,
				Status: domain.ShippingPaymentPending,
			},
		}, nil
	}
	fixture.orders.updateFn = func(context.Context, domain.Order) error { return nil }

	order, err := fixture.service.ApplyShippingPaymentEvent(context.Background(), ShippingPaymentEventCommand{
		LinkID: "plink_001",
		Event:  domain.ShippingPaymentExpired,
	})
	if err != nil {
		t.Fatalf("ApplyShippingPaymentEvent returned error: %v", err)
	}
	if order.ShippingPayment.Status != domain.ShippingPaymentExpired {
		t.Fatalf("expected expired, got %s", order.ShippingPayment.Status)
	}
}
