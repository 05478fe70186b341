package services

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	defaultTaxPercent            = 18.0
	defaultShippingFee           = int64(9900)
	defaultFreeShippingThreshold = int64(50000)

	taxIDMaxLength = 15
)

var (
	// ErrPricingInvalidInput signals the caller provided unpriceable inputs.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingOverflow indicates a computed amount exceeded the int64 range.
	ErrPricingOverflow = errors.New("pricing: amount overflow")
)

// PricingEngineDeps configures rates, fees and the clock used for GST capture.
type PricingEngineDeps struct {
	TaxPercent            float64
	ShippingFee           int64
	FreeShippingThreshold int64
	Clock                 func() time.Time
}

type pricingEngine struct {
	taxPercent        float64
	shippingFee       int64
	shippingWaiveOver int64
	clock             func() time.Time
}

// NewPricingEngine wires configuration into a PricingEngine implementation.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	taxPercent := deps.TaxPercent
	if taxPercent < 0 {
		return nil, fmt.Errorf("%w: tax percent must not be negative", ErrPricingInvalidInput)
	}
	if taxPercent == 0 {
		taxPercent = defaultTaxPercent
	}

	fee := deps.ShippingFee
	if fee < 0 {
		return nil, fmt.Errorf("%w: shipping fee must not be negative", ErrPricingInvalidInput)
	}
	if fee == 0 {
		fee = defaultShippingFee
	}

	threshold := deps.FreeShippingThreshold
	if threshold <= 0 {
		threshold = defaultFreeShippingThreshold
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &pricingEngine{
		taxPercent:        taxPercent,
		shippingFee:       fee,
		shippingWaiveOver: threshold,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (e *pricingEngine) Price(req PriceOrderRequest) (PriceOrderResult, error) {
	if len(req.Lines) == 0 {
		return PriceOrderResult{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}

	lines := make([]PricedLine, 0, len(req.Lines))
	var subtotal int64
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return PriceOrderResult{}, fmt.Errorf("%w: quantity must be positive for product %s", ErrPricingInvalidInput, line.Product.ID)
		}
		unit := unitPriceFor(line.Product, line.Quantity)
		if unit < 0 {
			return PriceOrderResult{}, fmt.Errorf("%w: unit price must not be negative for product %s", ErrPricingInvalidInput, line.Product.ID)
		}
		lineTotal := unit * int64(line.Quantity)
		if unit != 0 && lineTotal/unit != int64(line.Quantity) {
			return PriceOrderResult{}, fmt.Errorf("%w: line total for product %s", ErrPricingOverflow, line.Product.ID)
		}
		next := subtotal + lineTotal
		if next < subtotal {
			return PriceOrderResult{}, fmt.Errorf("%w: subtotal", ErrPricingOverflow)
		}
		subtotal = next
		lines = append(lines, PricedLine{
			ProductID: line.Product.ID,
			UnitPrice: unit,
			Subtotal:  lineTotal,
		})
	}

	tax, taxPercent, err := e.computeTax(subtotal, req.Tax)
	if err != nil {
		return PriceOrderResult{}, err
	}

	shipping := e.shippingFee
	if subtotal > e.shippingWaiveOver {
		shipping = 0
	}

	totals := OrderTotals{
		Subtotal:   subtotal,
		Tax:        tax,
		TaxPercent: taxPercent,
		Shipping:   shipping,
		Total:      subtotal + tax + shipping,
	}

	return PriceOrderResult{
		Lines:  lines,
		Totals: totals,
		GST:    e.buildGSTSnapshot(req.Tax, subtotal, tax, taxPercent),
	}, nil
}

func (e *pricingEngine) computeTax(subtotal int64, details TaxDetails) (int64, float64, error) {
	if details.ExplicitAmount != nil {
		amount := *details.ExplicitAmount
		if amount < 0 {
			return 0, 0, fmt.Errorf("%w: tax amount must not be negative", ErrPricingInvalidInput)
		}
		return amount, derivePercent(amount, subtotal), nil
	}

	percent := e.taxPercent
	if details.ExplicitPercent != nil {
		if *details.ExplicitPercent < 0 {
			return 0, 0, fmt.Errorf("%w: tax percent must not be negative", ErrPricingInvalidInput)
		}
		percent = *details.ExplicitPercent
	}

	tax := int64(math.Round(float64(subtotal) * percent / 100))
	return tax, percent, nil
}

// buildGSTSnapshot freezes the invoice block exactly once. Explicit inputs win
// over derived values; supplying a tax id implies the invoice is wanted.
func (e *pricingEngine) buildGSTSnapshot(details TaxDetails, subtotal, tax int64, percent float64) *GSTSnapshot {
	taxID := sanitizeTaxID(details.TaxID)
	invoiceRequested := details.InvoiceRequested || taxID != ""
	if !invoiceRequested {
		return nil
	}

	capturedAt := e.clock()
	if details.CapturedAt != nil && !details.CapturedAt.IsZero() {
		capturedAt = details.CapturedAt.UTC()
	}

	snapshotPercent := percent
	if details.ExplicitPercent == nil {
		snapshotPercent = derivePercent(tax, subtotal)
	}

	return &GSTSnapshot{
		TaxID:            taxID,
		LegalName:        strings.TrimSpace(details.LegalName),
		PlaceOfSupply:    strings.TrimSpace(details.PlaceOfSupply),
		TaxPercent:       snapshotPercent,
		TaxBase:          subtotal,
		TaxAmount:        tax,
		InvoiceRequested: true,
		CapturedAt:       capturedAt,
	}
}

func unitPriceFor(product Product, quantity int) int64 {
	price := product.UnitPrice
	bestMin := 0
	for _, tier := range product.PriceTiers {
		if tier.MinQuantity <= quantity && tier.MinQuantity >= bestMin {
			bestMin = tier.MinQuantity
			price = tier.UnitPrice
		}
	}
	return price
}

func derivePercent(tax, subtotal int64) float64 {
	if subtotal <= 0 {
		return 0
	}
	return math.Round(float64(tax) / float64(subtotal) * 100)
}

// sanitizeTaxID keeps only ASCII alphanumerics, uppercased. GSTINs are plain
// ASCII, so anything multibyte is noise rather than part of the id.
func sanitizeTaxID(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		default:
			continue
		}
		if b.Len() >= taxIDMaxLength {
			break
		}
	}
	return b.String()
}
