package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusCaptured indicates the gateway reports the payment as captured.
	StatusCaptured Status = "captured"
	// StatusFailed indicates the gateway reports a terminal failure.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrSignatureMismatch indicates a client-submitted signature failed verification.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrGatewayUnavailable wraps upstream gateway failures.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

const receiptMaxLength = 40

// IntentRequest captures the payload required to open a payment intent.
type IntentRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Metadata map[string]string
}

// Intent represents the gateway order opened for an order's primary payment.
type Intent struct {
	Provider  string
	IntentID  string
	Amount    int64
	Currency  string
	CreatedAt time.Time
	Raw       map[string]any
}

// PaymentLinkRequest captures the payload for a secondary payment link.
type PaymentLinkRequest struct {
	Amount        int64
	Currency      string
	Description   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ReferenceID   string
	Notes         map[string]string
}

// PaymentLink is the gateway-hosted link returned to operators and customers.
type PaymentLink struct {
	Provider  string
	LinkID    string
	ShortURL  string
	Amount    int64
	Currency  string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// VerifyRequest carries a client-submitted payment verification.
type VerifyRequest struct {
	IntentID  string
	PaymentID string
	Signature string
}

// PaymentDetails normalises gateway specific fields for storage.
type PaymentDetails struct {
	Provider  string
	PaymentID string
	IntentID  string
	Status    Status
	Amount    int64
	Currency  string
	Captured  bool
	Raw       map[string]any
}

// Provider defines the contract gateway adapters implement.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (PaymentLink, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["razorpay"]; ok {
		m.defaultProvider = "razorpay"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent delegates to the resolved provider.
func (m *Manager) CreateIntent(ctx context.Context, paymentCtx PaymentContext, req IntentRequest) (Intent, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Intent{}, err
	}
	req.Receipt = truncateReceipt(req.Receipt)
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// CreatePaymentLink delegates to the resolved provider.
func (m *Manager) CreatePaymentLink(ctx context.Context, paymentCtx PaymentContext, req PaymentLinkRequest) (PaymentLink, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentLink{}, err
	}
	link, err := provider.CreatePaymentLink(ctx, req)
	if err != nil {
		return PaymentLink{}, err
	}
	link.Provider = key
	return link, nil
}

// VerifyPayment delegates to the resolved provider.
func (m *Manager) VerifyPayment(ctx context.Context, paymentCtx PaymentContext, req VerifyRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.VerifyPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.Provider == "" {
		details.Provider = key
	}
	return details, nil
}

func truncateReceipt(receipt string) string {
	receipt = strings.TrimSpace(receipt)
	if len(receipt) > receiptMaxLength {
		return receipt[:receiptMaxLength]
	}
	return receipt
}
