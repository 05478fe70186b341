package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// RazorpayLogger defines the logging contract for Razorpay provider operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPaymentLinkAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPaymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayClients struct {
	orders   razorpayOrderAPI
	links    razorpayPaymentLinkAPI
	payments razorpayPaymentAPI
}

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID     string
	KeySecret string
	Logger    RazorpayLogger
	Clock     func() time.Time
	Clients   *razorpayClients
}

// RazorpayProvider implements the Provider interface against the Razorpay APIs.
type RazorpayProvider struct {
	api       razorpayClients
	keySecret string
	clock     func() time.Time
	logger    RazorpayLogger
}

// NewRazorpayProvider constructs a Razorpay Provider using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keySecret == "" {
		return nil, errors.New("razorpay: key secret is required")
	}

	var clients razorpayClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		keyID := strings.TrimSpace(cfg.KeyID)
		if keyID == "" {
			return nil, errors.New("razorpay: key id is required")
		}
		rc := razorpay.NewClient(keyID, keySecret)
		clients = razorpayClients{
			orders:   rc.Order,
			links:    rc.PaymentLink,
			payments: rc.Payment,
		}
	}

	if clients.orders == nil || clients.links == nil || clients.payments == nil {
		return nil, errors.New("razorpay: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayProvider{
		api:       clients,
		keySecret: keySecret,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent opens a Razorpay order for the requested amount.
func (p *RazorpayProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return Intent{}, errors.New("razorpay: amount must be positive")
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		data["receipt"] = receipt
	}
	if len(req.Metadata) > 0 {
		notes := make(map[string]interface{}, len(req.Metadata))
		for k, v := range req.Metadata {
			notes[k] = v
		}
		data["notes"] = notes
	}

	body, err := p.api.orders.Create(data, nil)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: create order: %v", ErrGatewayUnavailable, err)
	}

	intentID := stringField(body, "id")
	if intentID == "" {
		return Intent{}, fmt.Errorf("%w: create order: missing id in response", ErrGatewayUnavailable)
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"intentId": intentID,
		"amount":   req.Amount,
		"currency": data["currency"],
	})

	return Intent{
		Provider:  "razorpay",
		IntentID:  intentID,
		Amount:    req.Amount,
		Currency:  stringField(body, "currency"),
		CreatedAt: p.clock(),
		Raw:       body,
	}, nil
}

// CreatePaymentLink issues a hosted payment link, typically for shipping charges.
func (p *RazorpayProvider) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (PaymentLink, error) {
	if p == nil {
		return PaymentLink{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return PaymentLink{}, errors.New("razorpay: amount must be positive")
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		data["description"] = desc
	}
	customer := map[string]interface{}{}
	if name := strings.TrimSpace(req.CustomerName); name != "" {
		customer["name"] = name
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		customer["email"] = email
	}
	if phone := strings.TrimSpace(req.CustomerPhone); phone != "" {
		customer["contact"] = phone
	}
	if len(customer) > 0 {
		data["customer"] = customer
	}
	notes := make(map[string]interface{}, len(req.Notes)+1)
	for k, v := range req.Notes {
		notes[k] = v
	}
	if ref := strings.TrimSpace(req.ReferenceID); ref != "" {
		notes["orderId"] = ref
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	body, err := p.api.links.Create(data, nil)
	if err != nil {
		return PaymentLink{}, fmt.Errorf("%w: create payment link: %v", ErrGatewayUnavailable, err)
	}

	linkID := stringField(body, "id")
	if linkID == "" {
		return PaymentLink{}, fmt.Errorf("%w: create payment link: missing id in response", ErrGatewayUnavailable)
	}

	link := PaymentLink{
		Provider:  "razorpay",
		LinkID:    linkID,
		ShortURL:  stringField(body, "short_url"),
		Amount:    req.Amount,
		Currency:  stringField(body, "currency"),
		CreatedAt: p.clock(),
	}
	if expireBy := int64Field(body, "expire_by"); expireBy > 0 {
		expiresAt := time.Unix(expireBy, 0).UTC()
		link.ExpiresAt = &expiresAt
	}

	p.logger(ctx, "payments.razorpay.link.created", map[string]any{
		"linkId": linkID,
		"amount": req.Amount,
	})

	return link, nil
}

// VerifyPayment checks the client-submitted signature in constant time. The
// payment fetch only enriches the result; a valid signature alone proves the
// capture came from the gateway.
func (p *RazorpayProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}

	message := VerificationMessage(req.IntentID, req.PaymentID)
	if !VerifySignature(p.keySecret, message, req.Signature) {
		return PaymentDetails{}, ErrSignatureMismatch
	}

	details := PaymentDetails{
		Provider:  "razorpay",
		PaymentID: strings.TrimSpace(req.PaymentID),
		IntentID:  strings.TrimSpace(req.IntentID),
		Status:    StatusCaptured,
		Captured:  true,
	}

	body, err := p.api.payments.Fetch(details.PaymentID, nil, nil)
	if err != nil {
		p.logger(ctx, "payments.razorpay.payment.fetch.failed", map[string]any{
			"paymentId": details.PaymentID,
			"error":     err.Error(),
		})
		return details, nil
	}

	details.Amount = int64Field(body, "amount")
	details.Currency = stringField(body, "currency")
	details.Raw = body
	if status := stringField(body, "status"); status != "" && status != "captured" && status != "authorized" {
		details.Status = StatusPending
		details.Captured = false
	}

	return details, nil
}

func stringField(body map[string]interface{}, key string) string {
	if body == nil {
		return ""
	}
	if v, ok := body[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func int64Field(body map[string]interface{}, key string) int64 {
	if body == nil {
		return 0
	}
	switch v := body[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
