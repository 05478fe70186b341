package services

import (
	"errors"
	"testing"
)

func newTestResolver(t *testing.T, deps QuantityResolverDeps) QuantityResolver {
	t.Helper()
	resolver, err := NewQuantityResolver(deps)
	if err != nil {
		t.Fatalf("NewQuantityResolver returned error: %v", err)
	}
	return resolver
}

func TestQuantityResolverSnapsUpToMOQ(t *testing.T) {
	resolver := newTestResolver(t, QuantityResolverDeps{})

	res, err := resolver.Resolve(ResolveQuantityRequest{Desired: 7, MOQ: 10, Stock: 100})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Quantity != 10 {
		t.Fatalf("expected quantity 10, got %d", res.Quantity)
	}
	if !res.Snapped {
		t.Fatalf("expected snapped flag")
	}
}

func TestQuantityResolverSnapsDownToCap(t *testing.T) {
	resolver := newTestResolver(t, QuantityResolverDeps{})

	res, err := resolver.Resolve(ResolveQuantityRequest{Desired: 25, MOQ: 10, Stock: 15})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Quantity != 10 {
		t.Fatalf("expected quantity 10, got %d", res.Quantity)
	}
}

func TestQuantityResolverUnsatisfiableLine(t *testing.T) {
	resolver := newTestResolver(t, QuantityResolverDeps{})

	res, err := resolver.Resolve(ResolveQuantityRequest{Desired: 5, MOQ: 10, Stock: 8})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", res.Quantity)
	}
}

func TestQuantityResolverManualChannelGuard(t *testing.T) {
	resolver := newTestResolver(t, QuantityResolverDeps{ManualSalesThreshold: 50})

	_, err := resolver.Resolve(ResolveQuantityRequest{Desired: 51, MOQ: 1, Stock: 100})
	if !errors.Is(err, ErrManualChannelRequired) {
		t.Fatalf("expected ErrManualChannelRequired, got %v", err)
	}
}

func TestQuantityResolverHonoursPerProductCap(t *testing.T) {
	resolver := newTestResolver(t, QuantityResolverDeps{})

	res, err := resolver.Resolve(ResolveQuantityRequest{Desired: 30, MOQ: 5, Stock: 100, MaxPerOrder: 12})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Quantity != 10 {
		t.Fatalf("expected quantity 10, got %d", res.Quantity)
	}
}

func TestQuantityResolverAlwaysMultipleOfMOQ(t *testing.T) {
	resolver := newTestResolver(t, QuantityResolverDeps{ManualSalesThreshold: 1000, GlobalMax: 1000})

	for desired := 1; desired <= 60; desired++ {
		for _, moq := range []int{1, 3, 7, 10} {
			for _, stock := range []int{0, 5, 20, 100} {
				res, err := resolver.Resolve(ResolveQuantityRequest{Desired: desired, MOQ: moq, Stock: stock})
				if err != nil {
					t.Fatalf("Resolve(%d,%d,%d) returned error: %v", desired, moq, stock, err)
				}
				if res.Quantity == 0 {
					continue
				}
				if res.Quantity%moq != 0 {
					t.Fatalf("Resolve(%d,%d,%d) = %d, not a multiple of %d", desired, moq, stock, res.Quantity, moq)
				}
				if res.Quantity > stock {
					t.Fatalf("Resolve(%d,%d,%d) = %d exceeds stock", desired, moq, stock, res.Quantity)
				}
			}
		}
	}
}

func TestQuantityResolverNegativeStockRejected(t *testing.T) {
	resolver := newTestResolver(t, QuantityResolverDeps{})

	_, err := resolver.Resolve(ResolveQuantityRequest{Desired: 1, MOQ: 1, Stock: -1})
	if !errors.Is(err, ErrQuantityInvalidInput) {
		t.Fatalf("expected ErrQuantityInvalidInput, got %v", err)
	}
}
