package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeClients struct {
	intents  stripePaymentIntentAPI
	sessions stripeSessionAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	AccountID     string
	SigningSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements the Provider interface using Stripe APIs. It backs
// card currencies routed away from the primary hosted gateway.
type StripeProvider struct {
	api           stripeClients
	account       string
	signingSecret string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	signingSecret := strings.TrimSpace(cfg.SigningSecret)
	if signingSecret == "" {
		return nil, errors.New("stripe: signing secret is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents:  sc.PaymentIntents,
			sessions: sc.CheckoutSessions,
		}
	}

	if clients.intents == nil || clients.sessions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		signingSecret: signingSecret,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent opens a Stripe Payment Intent for the requested amount.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return Intent{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
	}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		params.SetIdempotencyKey(receipt)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: create payment intent: %v", ErrGatewayUnavailable, err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
	})

	return Intent{
		Provider:  "stripe",
		IntentID:  intent.ID,
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		CreatedAt: p.clock(),
		Raw:       rawJSON(intent),
	}, nil
}

// CreatePaymentLink creates a Checkout session with a dynamic price and returns
// its hosted URL as the payable link.
func (p *StripeProvider) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (PaymentLink, error) {
	if p == nil {
		return PaymentLink{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return PaymentLink{}, errors.New("stripe: amount must be positive")
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Shipping charges"
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
			},
		},
	}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	metadata := make(map[string]string, len(req.Notes)+1)
	for k, v := range req.Notes {
		metadata[k] = v
	}
	if ref := strings.TrimSpace(req.ReferenceID); ref != "" {
		metadata["orderId"] = ref
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return PaymentLink{}, fmt.Errorf("%w: create checkout session: %v", ErrGatewayUnavailable, err)
	}

	p.logger(ctx, "payments.stripe.link.created", map[string]any{
		"sessionId": session.ID,
		"amount":    req.Amount,
	})

	link := PaymentLink{
		Provider:  "stripe",
		LinkID:    session.ID,
		ShortURL:  session.URL,
		Amount:    req.Amount,
		Currency:  strings.ToUpper(string(session.Currency)),
		CreatedAt: p.clock(),
	}
	if session.ExpiresAt != 0 {
		expiresAt := time.Unix(session.ExpiresAt, 0).UTC()
		link.ExpiresAt = &expiresAt
	}
	return link, nil
}

// VerifyPayment checks the submitted signature and confirms capture with a lookup.
func (p *StripeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}

	message := VerificationMessage(req.IntentID, req.PaymentID)
	if !VerifySignature(p.signingSecret, message, req.Signature) {
		return PaymentDetails{}, ErrSignatureMismatch
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(strings.TrimSpace(req.IntentID), params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: lookup payment intent: %v", ErrGatewayUnavailable, err)
	}

	status := StatusPending
	captured := false
	if intent.Status == stripe.PaymentIntentStatusSucceeded {
		status = StatusCaptured
		captured = true
	} else if intent.Status == stripe.PaymentIntentStatusCanceled {
		status = StatusFailed
	}

	return PaymentDetails{
		Provider:  "stripe",
		PaymentID: strings.TrimSpace(req.PaymentID),
		IntentID:  intent.ID,
		Status:    status,
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		Captured:  captured,
		Raw:       rawJSON(intent),
	}, nil
}

func rawJSON(value any) map[string]any {
	raw := map[string]any{}
	if data, err := json.Marshal(value); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	return raw
}
