package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const codIntentPrefix = "cod_"

// CODProviderConfig configures the cash-on-delivery pseudo provider.
type CODProviderConfig struct {
	Clock       func() time.Time
	IDGenerator func() string
}

// CODProvider synthesises local pseudo-intents for cash-on-delivery orders.
// No external gateway is involved; verification always succeeds.
type CODProvider struct {
	clock func() time.Time
	newID func() string
}

// NewCODProvider constructs a CODProvider.
func NewCODProvider(cfg CODProviderConfig) *CODProvider {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.IDGenerator
	if newID == nil {
		newID = func() string {
			return ulid.Make().String()
		}
	}
	return &CODProvider{
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: newID,
	}
}

// CreateIntent returns a locally generated pseudo-intent without any gateway call.
func (p *CODProvider) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("cod: provider is nil")
	}
	return Intent{
		Provider:  "cod",
		IntentID:  codIntentPrefix + p.newID(),
		Amount:    req.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
		CreatedAt: p.clock(),
	}, nil
}

// CreatePaymentLink is not available for cash-on-delivery.
func (p *CODProvider) CreatePaymentLink(context.Context, PaymentLinkRequest) (PaymentLink, error) {
	return PaymentLink{}, errors.New("cod: payment links are not supported")
}

// VerifyPayment always succeeds; cash is reconciled on delivery.
func (p *CODProvider) VerifyPayment(_ context.Context, req VerifyRequest) (PaymentDetails, error) {
	return PaymentDetails{
		Provider:  "cod",
		PaymentID: strings.TrimSpace(req.PaymentID),
		IntentID:  strings.TrimSpace(req.IntentID),
		Status:    StatusCaptured,
		Captured:  true,
	}, nil
}
