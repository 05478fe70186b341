package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	"github.com/meridianware/charaiveti-api/internal/platform/auth"
	"github.com/meridianware/charaiveti-api/internal/platform/httpx"
	"github.com/meridianware/charaiveti-api/internal/services"
)

const (
	maxAdminTransitionBodySize   = 16 * 1024
	maxAdminPackageBodySize      = 32 * 1024
	maxAdminShippingLinkBodySize = 8 * 1024
)

type transitionOrderRequest struct {
	TargetStatus   string         `json:"target_status"`
	ExpectedStatus string         `json:"expected_status"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata"`
}

type recordPackageRequest struct {
	LengthCm    float64  `json:"length_cm"`
	WidthCm     float64  `json:"width_cm"`
	HeightCm    float64  `json:"height_cm"`
	WeightGrams int      `json:"weight_grams"`
	PhotoURLs   []string `json:"photo_urls"`
}

type createShippingLinkRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

// AdminOrderHandlers exposes operator endpoints for the order ledger.
type AdminOrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	adminRole string
}

// AdminOrderOption customises AdminOrderHandlers behaviour.
type AdminOrderOption func(*AdminOrderHandlers)

// WithAdminRole overrides the role required for the operator surface.
func WithAdminRole(role string) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		if trimmed := strings.TrimSpace(role); trimmed != "" {
			h.adminRole = trimmed
		}
	}
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...AdminOrderOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{
		authn:     authn,
		orders:    orders,
		adminRole: auth.RoleAdmin,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin order endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(h.adminRole))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Post("/orders/{orderID}/packages", h.recordPackage)
	r.Post("/orders/{orderID}/shipping-link", h.createShippingLink)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireAdmin(ctx, w); !ok {
		return
	}

	filter, ok := parseOrderListQuery(ctx, w, r)
	if !ok {
		return
	}
	// Admins may scope to a specific customer; unlike the customer surface the
	// user filter is optional here.
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))

	page, err := h.orders.List(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireAdmin(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminTransitionBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target, ok := parseOrderStatus(req.TargetStatus)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status must be a valid order status", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		ActorID:      strings.TrimSpace(identity.UID),
		Reason:       strings.TrimSpace(req.Reason),
		Metadata:     cloneMap(req.Metadata),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) recordPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminPackageBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req recordPackageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.RecordPackage(ctx, services.RecordPackageCommand{
		OrderID: orderID,
		Package: domain.ShippingPackage{
			LengthCm:    req.LengthCm,
			WidthCm:     req.WidthCm,
			HeightCm:    req.HeightCm,
			WeightGrams: req.WeightGrams,
			PhotoURLs:   req.PhotoURLs,
		},
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) createShippingLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminShippingLinkBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createShippingLinkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	if req.Amount <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be positive", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateShippingPaymentLink(ctx, services.CreateShippingLinkCommand{
		OrderID: orderID,
		Amount:  req.Amount,
		Note:    strings.TrimSpace(req.Note),
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) requireAdmin(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	if !identity.HasRole(h.adminRole) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}
