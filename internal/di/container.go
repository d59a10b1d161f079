package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/payments"
	"github.com/warungkita/api/internal/platform/config"
	"github.com/warungkita/api/internal/repositories"
	"github.com/warungkita/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout       services.CheckoutService
	Invoices       services.InvoiceService
	Reconciliation services.ReconciliationService
	Orders         services.OrderService
	Products       services.ProductService
	System         services.SystemService
	Notifier       services.Notifier
	Poller         *services.ReconciliationPoller
}

// Dependencies carries the externally constructed collaborators the container
// wires into services. The payment manager and event publisher own network
// clients, so their lifecycle belongs to the caller.
type Dependencies struct {
	Registry  repositories.Registry
	Payments  *payments.Manager
	Publisher services.OrderEventPublisher
	Build     services.BuildInfo
	Logger    *zap.Logger
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment manager is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services
	reg := deps.Registry

	if deps.Publisher != nil {
		notifier, err := services.NewEventNotifier(services.EventNotifierDeps{
			Publisher: deps.Publisher,
			Clock:     time.Now,
			Logger:    eventLogger(deps.Logger, "notifier"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build event notifier: %w", err)
		}
		svc.Notifier = notifier
	}

	pricing, err := services.NewRateCardPricingEngine(services.RateCardPricingEngineDeps{
		Rates: domain.PricingRates{
			TaxBps:      cfg.Pricing.TaxBps,
			DeliveryFee: cfg.Pricing.DeliveryFee,
			AdminFee:    cfg.Pricing.AdminFee,
		},
		Logger: eventLogger(deps.Logger, "pricing"),
		Now:    time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Products: reg.Products(),
		Orders:   reg.Orders(),
		Counters: reg.Counters(),
		Pricing:  pricing,
		Clock:    time.Now,
		Logger:   eventLogger(deps.Logger, "checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	invoices, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Orders:          reg.Orders(),
		PaymentRequests: reg.PaymentRequests(),
		Payments:        deps.Payments,
		Notifier:        svc.Notifier,
		InvoiceDuration: cfg.Provider.InvoiceDuration,
		Clock:           time.Now,
		Logger:          eventLogger(deps.Logger, "invoices"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build invoice service: %w", err)
	}
	svc.Invoices = invoices

	reconciliation, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:               reg.Orders(),
		PaymentRequests:      reg.PaymentRequests(),
		Events:               reg.ReconciliationEvents(),
		Payments:             deps.Payments,
		Notifier:             svc.Notifier,
		StrictUnknownInvoice: cfg.Webhooks.StrictUnknownInvoice,
		Clock:                time.Now,
		Logger:               eventLogger(deps.Logger, "reconciliation"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconciliation = reconciliation

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: reg.Orders(),
		Clock:  time.Now,
		Logger: eventLogger(deps.Logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	products, err := services.NewProductService(services.ProductServiceDeps{
		Products: reg.Products(),
		Clock:    time.Now,
		Logger:   eventLogger(deps.Logger, "products"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build product service: %w", err)
	}
	svc.Products = products

	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Counters:         reg.Counters(),
		Clock:            time.Now,
		Build:            deps.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system

	if cfg.Features.EnablePolling {
		poller, err := services.NewReconciliationPoller(services.ReconciliationPollerDeps{
			Reconciliation: reconciliation,
			Interval:       cfg.Polling.Interval,
			MaxAttempts:    cfg.Polling.MaxAttempts,
			Logger:         eventLogger(deps.Logger, "poller"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build reconciliation poller: %w", err)
		}
		svc.Poller = poller
	}

	return svc, nil
}

// eventLogger adapts the shared zap logger to the structured event callback
// the service layer expects.
func eventLogger(logger *zap.Logger, component string) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scoped := logger.With(zap.String("component", component))
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		scoped.Info(event, zapFields...)
	}
}
