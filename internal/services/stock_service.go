package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridianware/charaiveti-api/internal/repositories"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid stock inputs.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockConflict indicates a conditional decrement lost the race; the
	// caller must retry with a fresh product read.
	ErrStockConflict = errors.New("stock: conflict")
	// ErrStockProductNotFound indicates a line references a missing product.
	ErrStockProductNotFound = errors.New("stock: product not found")
)

// StockServiceDeps enumerates collaborators required to construct the stock service.
type StockServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewStockService wires dependencies into a StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Products == nil {
		return nil, errors.New("stock service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockService{
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CommitForOrder decrements stock for every line in one all-or-nothing pass.
// A retry against an order whose decrement already committed is a no-op.
func (s *stockService) CommitForOrder(ctx context.Context, order Order) (StockCommitResult, error) {
	lines, err := stockLinesFromOrder(order)
	if err != nil {
		return StockCommitResult{}, err
	}

	result, err := s.products.DecrementStock(ctx, repositories.StockDecrementRequest{
		OrderID: order.ID,
		Lines:   lines,
		Now:     s.clock(),
	})
	if err != nil {
		return StockCommitResult{}, s.mapRepositoryError(err)
	}

	if result.AlreadyCommitted {
		s.logger(ctx, "stock.commit.skipped", map[string]any{
			"orderId": order.ID,
		})
	} else {
		s.logger(ctx, "stock.commit.applied", map[string]any{
			"orderId": order.ID,
			"lines":   len(lines),
		})
	}

	return StockCommitResult{
		AlreadyCommitted: result.AlreadyCommitted,
		Remaining:        result.Remaining,
	}, nil
}

// RestoreForOrder unconditionally puts every line's quantity back.
func (s *stockService) RestoreForOrder(ctx context.Context, order Order) error {
	lines, err := stockLinesFromOrder(order)
	if err != nil {
		return err
	}

	if err := s.products.RestoreStock(ctx, repositories.StockRestoreRequest{
		OrderID: order.ID,
		Lines:   lines,
		Now:     s.clock(),
	}); err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "stock.restore.applied", map[string]any{
		"orderId": order.ID,
		"lines":   len(lines),
	})
	return nil
}

func (s *stockService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrStockConflict, stockErr.Message)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrStockProductNotFound, stockErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrStockProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrStockConflict, err)
		}
	}

	return err
}

func stockLinesFromOrder(order Order) ([]repositories.StockLine, error) {
	if strings.TrimSpace(order.ID) == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrStockInvalidInput)
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrStockInvalidInput)
	}

	lines := make([]repositories.StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, fmt.Errorf("%w: item product id is required", ErrStockInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", ErrStockInvalidInput)
		}
		lines = append(lines, repositories.StockLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return lines, nil
}
