package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/platform/auth"
	"github.com/meridianware/charaiveti-api/internal/services"
)

type stubOrderService struct {
	createFn       func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn          func(context.Context, string) (services.Order, error)
	listFn         func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn   func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn       func(context.Context, services.CancelOrderCommand) (services.Order, error)
	verifyFn       func(context.Context, services.VerifyPaymentCommand) (services.Order, error)
	packageFn      func(context.Context, services.RecordPackageCommand) (services.Order, error)
	shippingLinkFn func(context.Context, services.CreateShippingLinkCommand) (services.Order, error)
	capturedFn     func(context.Context, services.PaymentCapturedCommand) (services.Order, error)
	linkEventFn    func(context.Context, services.ShippingPaymentEventCommand) (services.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Get(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) List(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) RecordPackage(ctx context.Context, cmd services.RecordPackageCommand) (services.Order, error) {
	if s.packageFn != nil {
		return s.packageFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) CreateShippingPaymentLink(ctx context.Context, cmd services.CreateShippingLinkCommand) (services.Order, error) {
	if s.shippingLinkFn != nil {
		return s.shippingLinkFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) MarkPaymentCaptured(ctx context.Context, cmd services.PaymentCapturedCommand) (services.Order, error) {
	if s.capturedFn != nil {
		return s.capturedFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) MarkPaymentFailed(ctx context.Context, cmd services.PaymentFailedCommand) (services.Order, error) {
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ApplyShippingPaymentEvent(ctx context.Context, cmd services.ShippingPaymentEventCommand) (services.Order, error) {
	if s.linkEventFn != nil {
		return s.linkEventFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

var _ services.OrderService = (*stubOrderService)(nil)

func sampleOrder(userID string) services.Order {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	return services.Order{
		ID:            "ord_123",
		Number:        "CH-2024-000123",
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusAwaiting,
		PaymentMethod: domain.PaymentMethodPrepaid,
		Currency:      "inr",
		Items: []services.OrderItem{
			{
				ProductID:    "prod_1",
				SKU:          "SKU-1",
				Name:         "Widget",
				RequestedQty: 3,
				Quantity:     5,
				UnitPrice:    1000,
				Subtotal:     5000,
			},
		},
		Totals: services.OrderTotals{
			Subtotal:   5000,
			Tax:        900,
			TaxPercent: 18,
			Shipping:   0,
			Total:      5900,
		},
		ShippingAddress: services.Address{
			Recipient:  "A Customer",
			Line1:      "12 Market Road",
			City:       "Pune",
			PostalCode: "411001",
			Country:    "IN",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder("user-1"), nil
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{
		"email": "buyer@example.com",
		"items": [{"product_id": "prod_1", "quantity": 3}],
		"shipping_address": {
			"recipient": "A Customer",
			"line1": "12 Market Road",
			"city": "Pune",
			"postal_code": "411001",
			"country": "in"
		},
		"payment_method": "Prepaid",
		"currency": "inr",
		"tax": {"percent": 18, "tax_id": "27AAAAA0000A1Z5", "invoice_requested": true},
		"metadata": {"channel": "web"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.UserID != "user-1" {
		t.Fatalf("expected command user user-1, got %s", captured.UserID)
	}
	if captured.Email != "buyer@example.com" {
		t.Fatalf("unexpected email %s", captured.Email)
	}
	if len(captured.Lines) != 1 || captured.Lines[0].ProductID != "prod_1" || captured.Lines[0].Quantity != 3 {
		t.Fatalf("unexpected lines %#v", captured.Lines)
	}
	if captured.PaymentMethod != domain.PaymentMethodPrepaid {
		t.Fatalf("expected payment method normalised, got %s", captured.PaymentMethod)
	}
	if captured.Currency != "INR" {
		t.Fatalf("expected currency uppercased, got %s", captured.Currency)
	}
	if captured.ShippingAddress.Country != "IN" {
		t.Fatalf("expected country uppercased, got %s", captured.ShippingAddress.Country)
	}
	if captured.Tax.ExplicitPercent == nil || *captured.Tax.ExplicitPercent != 18 {
		t.Fatalf("expected explicit tax percent, got %#v", captured.Tax.ExplicitPercent)
	}
	if !captured.Tax.InvoiceRequested {
		t.Fatalf("expected invoice requested flag")
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "ord_123" || resp.Order.OrderNumber != "CH-2024-000123" {
		t.Fatalf("unexpected order payload: %#v", resp.Order)
	}
	if resp.Order.Currency != "INR" {
		t.Fatalf("expected currency uppercased in payload, got %s", resp.Order.Currency)
	}
	if len(resp.Order.Items) != 1 || resp.Order.Items[0].RequestedQty != 3 || resp.Order.Items[0].Quantity != 5 {
		t.Fatalf("expected snapped quantity carried, got %#v", resp.Order.Items)
	}
}

func TestOrderHandlersCreateOrderRequiresItems(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{"items": []}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderUnsatisfiableQuantity(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderUnsatisfiableQuantity
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{"items": [{"product_id": "prod_1", "quantity": 1}], "shipping_address": {"recipient": "A", "line1": "B", "city": "C", "postal_code": "1", "country": "IN"}}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderManualChannelRequired(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrManualChannelRequired
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{"items": [{"product_id": "prod_1", "quantity": 900}], "shipping_address": {"recipient": "A", "line1": "B", "city": "C", "postal_code": "1", "country": "IN"}}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersAppliesFilters(t *testing.T) {
	fromExpected := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	toExpected := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	var capturedFilter services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			capturedFilter = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("user-1")},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders?status=pending,confirmed&payment_status=paid&page_size=10&page_token=tok123&created_after=2024-03-01T00:00:00Z&created_before=2024-04-01T00:00:00Z", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if capturedFilter.UserID != "user-1" {
		t.Fatalf("expected filter user user-1, got %s", capturedFilter.UserID)
	}
	if len(capturedFilter.Status) != 2 {
		t.Fatalf("expected 2 status filters, got %v", capturedFilter.Status)
	}
	if len(capturedFilter.PaymentStatus) != 1 || capturedFilter.PaymentStatus[0] != "paid" {
		t.Fatalf("expected payment status filter, got %v", capturedFilter.PaymentStatus)
	}
	if capturedFilter.Pagination.PageSize != 10 || capturedFilter.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination %#v", capturedFilter.Pagination)
	}
	if capturedFilter.DateRange.From == nil || !capturedFilter.DateRange.From.Equal(fromExpected) {
		t.Fatalf("expected range from %s, got %#v", fromExpected, capturedFilter.DateRange.From)
	}
	if capturedFilter.DateRange.To == nil || !capturedFilter.DateRange.To.Equal(toExpected) {
		t.Fatalf("expected range to %s, got %#v", toExpected, capturedFilter.DateRange.To)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != "CH-2024-000123" {
		t.Fatalf("unexpected items %#v", resp.Items)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersInvalidPageSize(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders?page_size=abc", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderHidesForeignOrders(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return sampleOrder("someone-else"), nil
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderUnauthenticated(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusCancelled
			reason := cmd.Reason
			order.CancelReason = &reason
			return order, nil
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", bytes.NewBufferString(`{"reason": "changed my mind"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.Reason != "changed my mind" || captured.ActorID != "user-1" {
		t.Fatalf("unexpected cancel command %#v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("expected cancelled status, got %s", resp.Order.Status)
	}
}

func TestOrderHandlersCancelOrderWithoutBody(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrderTerminalState(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersVerifyPayment(t *testing.T) {
	var captured services.VerifyPaymentCommand
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder("user-1")
			order.PaymentStatus = domain.PaymentStatusPaid
			return order, nil
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/payment:verify", bytes.NewBufferString(`{"payment_id": "pay_9", "signature": "deadbeef"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.PaymentID != "pay_9" || captured.Signature != "deadbeef" {
		t.Fatalf("unexpected verify command %#v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.PaymentStatus != string(domain.PaymentStatusPaid) {
		t.Fatalf("expected paid status, got %s", resp.Order.PaymentStatus)
	}
}

func TestOrderHandlersVerifyPaymentSignatureMismatch(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderPaymentVerificationFailed
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/payment:verify", bytes.NewBufferString(`{"payment_id": "pay_9", "signature": "bad"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersVerifyPaymentGatewayDown(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderGatewayFailed
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/payment:verify", bytes.NewBufferString(`{"payment_id": "pay_9"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}
