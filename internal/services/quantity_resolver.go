package services

import (
	"errors"
	"fmt"
)

const (
	defaultGlobalMaxQuantity    = 1000
	defaultManualSalesThreshold = 500
	defaultMinimumOrderQuantity = 1
)

var (
	// ErrQuantityInvalidInput signals the caller provided invalid quantity inputs.
	ErrQuantityInvalidInput = errors.New("quantity: invalid input")
	// ErrManualChannelRequired indicates the requested quantity exceeds the
	// auto-checkout threshold and must go through the sales team instead.
	ErrManualChannelRequired = errors.New("quantity: manual sales channel required")
)

// QuantityResolverDeps configures the resolver's caps and thresholds.
type QuantityResolverDeps struct {
	GlobalMax            int
	ManualSalesThreshold int
	DefaultMOQ           int
}

type quantityResolver struct {
	globalMax       int
	manualThreshold int
	defaultMOQ      int
}

// NewQuantityResolver wires configuration into a QuantityResolver implementation.
func NewQuantityResolver(deps QuantityResolverDeps) (QuantityResolver, error) {
	globalMax := deps.GlobalMax
	if globalMax <= 0 {
		globalMax = defaultGlobalMaxQuantity
	}
	threshold := deps.ManualSalesThreshold
	if threshold <= 0 {
		threshold = defaultManualSalesThreshold
	}
	moq := deps.DefaultMOQ
	if moq <= 0 {
		moq = defaultMinimumOrderQuantity
	}
	if threshold > globalMax {
		return nil, fmt.Errorf("%w: manual sales threshold %d exceeds global max %d", ErrQuantityInvalidInput, threshold, globalMax)
	}
	return &quantityResolver{
		globalMax:       globalMax,
		manualThreshold: threshold,
		defaultMOQ:      moq,
	}, nil
}

// Resolve snaps the desired quantity onto the MOQ grid within the hard cap.
// The manual-channel guard fires on the desired quantity before any snapping,
// so oversized requests are rejected rather than silently clamped.
func (r *quantityResolver) Resolve(req ResolveQuantityRequest) (QuantityResolution, error) {
	if req.Stock < 0 {
		return QuantityResolution{}, fmt.Errorf("%w: stock must not be negative", ErrQuantityInvalidInput)
	}

	desired := req.Desired
	if desired < 1 {
		desired = 1
	}

	if desired > r.manualThreshold {
		return QuantityResolution{}, fmt.Errorf("%w: requested %d exceeds threshold %d", ErrManualChannelRequired, desired, r.manualThreshold)
	}

	moq := req.MOQ
	if moq <= 0 {
		moq = r.defaultMOQ
	}

	hardCap := req.Stock
	if r.globalMax < hardCap {
		hardCap = r.globalMax
	}
	if req.MaxPerOrder > 0 && req.MaxPerOrder < hardCap {
		hardCap = req.MaxPerOrder
	}

	if hardCap < moq {
		return QuantityResolution{}, nil
	}

	snapped := ((desired + moq - 1) / moq) * moq
	if snapped > hardCap {
		snapped = (hardCap / moq) * moq
	}
	if snapped < moq {
		return QuantityResolution{}, nil
	}

	return QuantityResolution{
		Quantity: snapped,
		Snapped:  snapped != req.Desired,
	}, nil
}
