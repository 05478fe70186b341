package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/platform/auth"
	"github.com/meridianware/charaiveti-api/internal/platform/httpx"
	"github.com/meridianware/charaiveti-api/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCreateBodySize = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
	maxOrderVerifyBodySize = 4 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusConfirmed:  {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

type createOrderItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type taxDetailsInput struct {
	Percent          *float64 `json:"percent"`
	Amount           *int64   `json:"amount"`
	TaxID            string   `json:"tax_id"`
	LegalName        string   `json:"legal_name"`
	PlaceOfSupply    string   `json:"place_of_supply"`
	InvoiceRequested bool     `json:"invoice_requested"`
}

type createOrderRequest struct {
	Email           string                 `json:"email"`
	Items           []createOrderItemInput `json:"items"`
	ShippingAddress *addressInput          `json:"shipping_address"`
	BillingAddress  *addressInput          `json:"billing_address"`
	PaymentMethod   string                 `json:"payment_method"`
	Currency        string                 `json:"currency"`
	Tax             *taxDetailsInput       `json:"tax"`
	Metadata        map[string]any         `json:"metadata"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type verifyPaymentRequest struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// OrderHandlers exposes order endpoints for authenticated customers.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}/payment:verify", h.verifyPayment)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderCreateBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one item is required", http.StatusBadRequest))
		return
	}
	if req.ShippingAddress == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipping_address is required", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:          strings.TrimSpace(identity.UID),
		Email:           strings.TrimSpace(req.Email),
		ShippingAddress: req.ShippingAddress.toAddress(),
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Metadata:        cloneMap(req.Metadata),
	}
	if cmd.Email == "" {
		cmd.Email = strings.TrimSpace(identity.Email)
	}
	for _, item := range req.Items {
		cmd.Lines = append(cmd.Lines, services.CreateOrderLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toAddress()
		cmd.BillingAddress = &billing
	}
	if req.Tax != nil {
		cmd.Tax = services.TaxDetails{
			ExplicitPercent:  req.Tax.Percent,
			ExplicitAmount:   req.Tax.Amount,
			TaxID:            strings.TrimSpace(req.Tax.TaxID),
			LegalName:        strings.TrimSpace(req.Tax.LegalName),
			PlaceOfSupply:    strings.TrimSpace(req.Tax.PlaceOfSupply),
			InvoiceRequested: req.Tax.InvoiceRequested,
		}
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	filter, ok := parseOrderListQuery(ctx, w, r)
	if !ok {
		return
	}
	filter.UserID = strings.TrimSpace(identity.UID)

	page, err := h.orders.List(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.loadOwnedOrder(ctx, w, r, identity)
	if !ok {
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.loadOwnedOrder(ctx, w, r, identity)
	if !ok {
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	cancelled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: order.ID,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.loadOwnedOrder(ctx, w, r, identity)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderVerifyBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req verifyPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_id is required", http.StatusBadRequest))
		return
	}

	verified, err := h.orders.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID:   order.ID,
		PaymentID: strings.TrimSpace(req.PaymentID),
		Signature: strings.TrimSpace(req.Signature),
		ActorID:   strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(verified)})
}

func (h *OrderHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// loadOwnedOrder resolves the order in the URL and hides orders belonging to
// other users behind a not-found response.
func (h *OrderHandlers) loadOwnedOrder(ctx context.Context, w http.ResponseWriter, r *http.Request, identity *auth.Identity) (services.Order, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return services.Order{}, false
	}

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return services.Order{}, false
	}

	if !strings.EqualFold(strings.TrimSpace(order.UserID), strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}
	return order, true
}

func parseOrderListQuery(ctx context.Context, w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	query := r.URL.Query()

	var filter services.OrderListFilter
	filter.Status = parseFilterValues(query["status"])
	filter.PaymentStatus = parseFilterValues(query["payment_status"])

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return filter, false
		}
		filter.DateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return filter, false
		}
		filter.DateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return filter, false
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}
	return filter, true
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                  `json:"id"`
	OrderNumber     string                  `json:"order_number"`
	UserID          string                  `json:"user_id"`
	Status          string                  `json:"status"`
	PaymentStatus   string                  `json:"payment_status"`
	PaymentMethod   string                  `json:"payment_method"`
	Currency        string                  `json:"currency"`
	Items           []orderItemPayload      `json:"items"`
	Totals          orderTotalsPayload      `json:"totals"`
	GST             *gstSnapshotPayload     `json:"gst,omitempty"`
	ShippingAddress addressPayload          `json:"shipping_address"`
	BillingAddress  *addressPayload         `json:"billing_address,omitempty"`
	Gateway         *gatewayIntentPayload   `json:"gateway,omitempty"`
	ShippingPayment *shippingPaymentPayload `json:"shipping_payment,omitempty"`
	Packages        []packagePayload        `json:"packages,omitempty"`
	CancelReason    *string                 `json:"cancel_reason,omitempty"`
	Metadata        map[string]any          `json:"metadata,omitempty"`
	CreatedAt       string                  `json:"created_at"`
	UpdatedAt       string                  `json:"updated_at,omitempty"`
	PaidAt          string                  `json:"paid_at,omitempty"`
	ConfirmedAt     string                  `json:"confirmed_at,omitempty"`
	ShippedAt       string                  `json:"shipped_at,omitempty"`
	DeliveredAt     string                  `json:"delivered_at,omitempty"`
	CancelledAt     string                  `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	RequestedQty int    `json:"requested_quantity"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
	Subtotal     int64  `json:"subtotal"`
	HSNCode      string `json:"hsn_code,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal   int64   `json:"subtotal"`
	Tax        int64   `json:"tax"`
	TaxPercent float64 `json:"tax_percent"`
	Shipping   int64   `json:"shipping"`
	Discount   int64   `json:"discount"`
	Total      int64   `json:"total"`
}

type gstSnapshotPayload struct {
	TaxID            string  `json:"tax_id,omitempty"`
	LegalName        string  `json:"legal_name,omitempty"`
	PlaceOfSupply    string  `json:"place_of_supply,omitempty"`
	TaxPercent       float64 `json:"tax_percent"`
	TaxBase          int64   `json:"tax_base"`
	TaxAmount        int64   `json:"tax_amount"`
	InvoiceRequested bool    `json:"invoice_requested"`
	CapturedAt       string  `json:"captured_at,omitempty"`
}

type gatewayIntentPayload struct {
	Provider  string `json:"provider"`
	IntentID  string `json:"intent_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at,omitempty"`
}

type shippingPaymentPayload struct {
	LinkID     string                   `json:"link_id"`
	ShortURL   string                   `json:"short_url,omitempty"`
	Amount     int64                    `json:"amount"`
	AmountPaid int64                    `json:"amount_paid"`
	Status     string                   `json:"status"`
	Receipts   []shippingReceiptPayload `json:"receipts,omitempty"`
	Note       string                   `json:"note,omitempty"`
	CreatedAt  string                   `json:"created_at,omitempty"`
	UpdatedAt  string                   `json:"updated_at,omitempty"`
	ExpiresAt  string                   `json:"expires_at,omitempty"`
}

type shippingReceiptPayload struct {
	PaymentID  string `json:"payment_id"`
	Amount     int64  `json:"amount"`
	ReceivedAt string `json:"received_at,omitempty"`
}

type packagePayload struct {
	ID          string   `json:"id"`
	LengthCm    float64  `json:"length_cm"`
	WidthCm     float64  `json:"width_cm"`
	HeightCm    float64  `json:"height_cm"`
	WeightGrams int      `json:"weight_grams"`
	PhotoURLs   []string `json:"photo_urls,omitempty"`
	RecordedBy  string   `json:"recorded_by,omitempty"`
	RecordedAt  string   `json:"recorded_at,omitempty"`
}

func buildOrderListResponse(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.Number),
		Status:        strings.TrimSpace(string(order.Status)),
		PaymentStatus: strings.TrimSpace(string(order.PaymentStatus)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:         order.Totals.Total,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.Number),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        strings.TrimSpace(string(order.Status)),
		PaymentStatus: strings.TrimSpace(string(order.PaymentStatus)),
		PaymentMethod: strings.TrimSpace(string(order.PaymentMethod)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			Subtotal:   order.Totals.Subtotal,
			Tax:        order.Totals.Tax,
			TaxPercent: order.Totals.TaxPercent,
			Shipping:   order.Totals.Shipping,
			Discount:   order.Totals.Discount,
			Total:      order.Totals.Total,
		},
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		CancelReason:    cloneStringPointer(order.CancelReason),
		Metadata:        cloneMap(order.Metadata),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		PaidAt:          formatTime(pointerTime(order.PaidAt)),
		ConfirmedAt:     formatTime(pointerTime(order.ConfirmedAt)),
		ShippedAt:       formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:     formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:     formatTime(pointerTime(order.CancelledAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:    strings.TrimSpace(item.ProductID),
			SKU:          strings.TrimSpace(item.SKU),
			Name:         strings.TrimSpace(item.Name),
			ImageURL:     strings.TrimSpace(item.ImageURL),
			RequestedQty: item.RequestedQty,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Subtotal:     item.Subtotal,
			HSNCode:      strings.TrimSpace(item.HSNCode),
		})
	}

	if order.GST != nil {
		payload.GST = &gstSnapshotPayload{
			TaxID:            strings.TrimSpace(order.GST.TaxID),
			LegalName:        strings.TrimSpace(order.GST.LegalName),
			PlaceOfSupply:    strings.TrimSpace(order.GST.PlaceOfSupply),
			TaxPercent:       order.GST.TaxPercent,
			TaxBase:          order.GST.TaxBase,
			TaxAmount:        order.GST.TaxAmount,
			InvoiceRequested: order.GST.InvoiceRequested,
			CapturedAt:       formatTime(order.GST.CapturedAt),
		}
	}

	if order.BillingAddress != nil {
		addr := buildAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &addr
	}

	if order.Gateway != nil {
		payload.Gateway = &gatewayIntentPayload{
			Provider:  strings.TrimSpace(order.Gateway.Provider),
			IntentID:  strings.TrimSpace(order.Gateway.IntentID),
			Amount:    order.Gateway.Amount,
			Currency:  strings.ToUpper(strings.TrimSpace(order.Gateway.Currency)),
			CreatedAt: formatTime(order.Gateway.CreatedAt),
		}
	}

	if order.ShippingPayment != nil {
		payload.ShippingPayment = buildShippingPaymentPayload(order.ShippingPayment)
	}

	for _, pkg := range order.Packages {
		payload.Packages = append(payload.Packages, buildPackagePayload(pkg))
	}

	return payload
}

func buildShippingPaymentPayload(sp *services.ShippingPayment) *shippingPaymentPayload {
	payload := &shippingPaymentPayload{
		LinkID:     strings.TrimSpace(sp.LinkID),
		ShortURL:   strings.TrimSpace(sp.ShortURL),
		Amount:     sp.Amount,
		AmountPaid: sp.AmountPaid,
		Status:     strings.TrimSpace(string(sp.Status)),
		Note:       strings.TrimSpace(sp.Note),
		CreatedAt:  formatTime(sp.CreatedAt),
		UpdatedAt:  formatTime(sp.UpdatedAt),
		ExpiresAt:  formatTime(pointerTime(sp.ExpiresAt)),
	}
	for _, receipt := range sp.Receipts {
		payload.Receipts = append(payload.Receipts, shippingReceiptPayload{
			PaymentID:  strings.TrimSpace(receipt.PaymentID),
			Amount:     receipt.Amount,
			ReceivedAt: formatTime(receipt.ReceivedAt),
		})
	}
	return payload
}

func buildPackagePayload(pkg services.ShippingPackage) packagePayload {
	var photos []string
	if len(pkg.PhotoURLs) > 0 {
		photos = append(photos, pkg.PhotoURLs...)
	}
	return packagePayload{
		ID:          strings.TrimSpace(pkg.ID),
		LengthCm:    pkg.LengthCm,
		WidthCm:     pkg.WidthCm,
		HeightCm:    pkg.HeightCm,
		WeightGrams: pkg.WeightGrams,
		PhotoURLs:   photos,
		RecordedBy:  strings.TrimSpace(pkg.RecordedBy),
		RecordedAt:  formatTime(pkg.RecordedAt),
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderUnsatisfiableQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("quantity_unsatisfiable", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrManualChannelRequired):
		httpx.WriteError(ctx, w, httpx.NewError("manual_channel_required", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrQuantityInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderTerminalState):
		httpx.WriteError(ctx, w, httpx.NewError("order_terminal_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderGatewayFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_failed", "payment gateway unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrStockProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrStockConflict):
		httpx.WriteError(ctx, w, httpx.NewError("stock_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}
