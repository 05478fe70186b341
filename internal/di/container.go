package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianware/charaiveti-api/internal/payments"
	"github.com/meridianware/charaiveti-api/internal/platform/config"
	pfirestore "github.com/meridianware/charaiveti-api/internal/platform/firestore"
	firestoreRepo "github.com/meridianware/charaiveti-api/internal/repositories/firestore"
	"github.com/meridianware/charaiveti-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Stock    services.StockService
	Webhooks services.WebhookService
}

// Dependencies carries runtime collaborators whose lifecycle is owned by the caller.
type Dependencies struct {
	Provider *pfirestore.Provider
	Notifier services.NotificationDispatcher
	Logger   *zap.Logger
}

// Container wires repositories, payment providers, and services for runtime use.
type Container struct {
	Config   config.Config
	Services Services
}

// NewContainer constructs the runtime dependency graph on top of the supplied
// Firestore provider. Repositories share the provider's client and its
// transaction support, so no separate unit-of-work collaborator is needed.
func NewContainer(ctx context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Provider == nil {
		return nil, errors.New("firestore provider is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	productRepo, err := firestoreRepo.NewProductRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	ledgerRepo, err := firestoreRepo.NewPaymentLedgerRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build payment ledger repository: %w", err)
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}
	refundRepo, err := firestoreRepo.NewRefundRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build refund repository: %w", err)
	}

	quantities, err := services.NewQuantityResolver(services.QuantityResolverDeps{
		GlobalMax:            cfg.Orders.GlobalMaxQuantity,
		ManualSalesThreshold: cfg.Orders.ManualChannelLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("build quantity resolver: %w", err)
	}

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		TaxPercent:            cfg.Pricing.TaxPercent,
		ShippingFee:           cfg.Pricing.ShippingFlat,
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		Clock:                 time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build pricing engine: %w", err)
	}

	stock, err := services.NewStockService(services.StockServiceDeps{
		Products: productRepo,
		Clock:    time.Now,
		Logger:   eventLogger(logger.Named("stock")),
	})
	if err != nil {
		return nil, fmt.Errorf("build stock service: %w", err)
	}

	gateway, err := buildPaymentManager(cfg.Gateways, logger.Named("payments"))
	if err != nil {
		return nil, err
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        orderRepo,
		Products:      productRepo,
		PaymentLedger: ledgerRepo,
		Counters:      counterRepo,
		Quantities:    quantities,
		Pricing:       pricing,
		Stock:         stock,
		Gateway:       gateway,
		Notifier:      deps.Notifier,
		NumberPrefix:  cfg.Orders.NumberPrefix,
		Clock:         time.Now,
		Logger:        eventLogger(logger.Named("orders")),
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}

	webhooks, err := services.NewWebhookService(services.WebhookServiceDeps{
		Orders:  orders,
		Refunds: refundRepo,
		Secret:  cfg.Webhooks.SigningSecret,
		Clock:   time.Now,
		Logger:  eventLogger(logger.Named("webhooks")),
	})
	if err != nil {
		return nil, fmt.Errorf("build webhook service: %w", err)
	}

	return &Container{
		Config: cfg,
		Services: Services{
			Orders:   orders,
			Stock:    stock,
			Webhooks: webhooks,
		},
	}, nil
}

func buildPaymentManager(cfg config.GatewayConfig, logger *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 3)

	if strings.TrimSpace(cfg.RazorpayKeySecret) != "" {
		razorpay, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
			KeyID:     cfg.RazorpayKeyID,
			KeySecret: cfg.RazorpayKeySecret,
			Logger:    payments.RazorpayLogger(eventLogger(logger.Named("razorpay"))),
			Clock:     time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build razorpay provider: %w", err)
		}
		providers["razorpay"] = razorpay
	}

	if strings.TrimSpace(cfg.StripeAPIKey) != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.StripeAPIKey,
			AccountID:     cfg.StripeAccountID,
			SigningSecret: cfg.StripeSecret,
			Logger:        payments.StripeLogger(eventLogger(logger.Named("stripe"))),
			Clock:         time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers["stripe"] = stripe
	}

	if cfg.EnableCOD {
		providers["cod"] = payments.NewCODProvider(payments.CODProviderConfig{Clock: time.Now})
	}

	if len(providers) == 0 {
		return nil, errors.New("no payment providers configured")
	}

	var opts []payments.ManagerOption
	if provider := strings.TrimSpace(cfg.DefaultProvider); provider != "" {
		opts = append(opts, payments.WithDefaultProvider(provider))
	}
	if len(cfg.CurrencyRoutes) > 0 {
		opts = append(opts, payments.WithCurrencyRoutes(cfg.CurrencyRoutes))
	}

	manager, err := payments.NewManager(providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}
