package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/payments"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/config"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
	"github.com/chandanhastantram/artsstore-sub000/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing    services.PricingService
	Coupons    services.CouponService
	Inventory  services.InventoryService
	Orders     services.OrderService
	Checkout   services.CheckoutService
	Newsletter services.NewsletterService
	System     services.SystemService
}

// Publishers carries the optional event publishers wired into services.
type Publishers struct {
	Orders services.OrderEventPublisher
	Stock  services.StockEventPublisher
}

// Container wires repositories, services, and payment infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Payments     *payments.Manager
}

// Options customises container assembly beyond config and repositories.
type Options struct {
	Logger     *zap.Logger
	Publishers Publishers
	Build      services.BuildInfo
	Clock      func() time.Time
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts Options) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := func() string { return ulid.Make().String() }

	manager, err := buildPaymentManager(cfg, clock, idGen)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(cfg, reg, manager, opts, clock, idGen)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Payments:     manager,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildPaymentManager(cfg config.Config, clock func() time.Time, idGen func() string) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)

	if secret := cfg.Payments.GatewaySigningSecret; secret != "" {
		gateway, err := payments.NewSignatureProvider(payments.SignatureProviderDeps{
			Secrets:     payments.StaticSecret(secret),
			Clock:       clock,
			IDGenerator: idGen,
		})
		if err != nil {
			return nil, fmt.Errorf("build gateway provider: %w", err)
		}
		providers[gateway.Name()] = gateway
	}

	if key := cfg.Payments.StripeAPIKey; key != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    key,
			AccountID: cfg.Payments.StripeAccountID,
			Clock:     clock,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers[stripe.Name()] = stripe
	}

	if len(providers) == 0 {
		return nil, nil
	}

	opts := []payments.ManagerOption{
		payments.WithMethodRoute(domain.PaymentMethodGateway, "gateway"),
		payments.WithMethodRoute(domain.PaymentMethodCard, "stripe"),
	}
	manager, err := payments.NewManager(providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func buildServices(
	cfg config.Config,
	reg repositories.Registry,
	manager *payments.Manager,
	opts Options,
	clock func() time.Time,
	idGen func() string,
) (Services, error) {
	var svc Services

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Logger: eventLogger(opts.Logger, "pricing"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	if couponsRepo := reg.Coupons(); couponsRepo != nil {
		couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
			Coupons: couponsRepo,
			Clock:   clock,
			Logger:  eventLogger(opts.Logger, "coupons"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build coupon service: %w", err)
		}
		svc.Coupons = couponSvc
	}

	if stockRepo := reg.Stock(); stockRepo != nil {
		inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
			Stock:       stockRepo,
			Publisher:   opts.Publishers.Stock,
			Clock:       clock,
			IDGenerator: idGen,
			Logger:      eventLogger(opts.Logger, "inventory"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build inventory service: %w", err)
		}
		svc.Inventory = inventorySvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:    ordersRepo,
			Inventory: svc.Inventory,
			Publisher: opts.Publishers.Orders,
			Clock:     clock,
			Logger:    eventLogger(opts.Logger, "orders"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if ordersRepo != nil && svc.Coupons != nil && svc.Inventory != nil {
		var gateway services.PaymentGateway
		if manager != nil {
			gateway = manager
		}
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Pricing:    svc.Pricing,
			Coupons:    svc.Coupons,
			Inventory:  svc.Inventory,
			Orders:     ordersRepo,
			Counters:   reg.Counters(),
			Gateway:    gateway,
			UnitOfWork: reg,
			Publisher:  opts.Publishers.Orders,
			Policy: services.PricingPolicy{
				Currency:              cfg.Pricing.Currency,
				TaxRate:               cfg.Pricing.TaxRate,
				ShippingFlatRate:      cfg.Pricing.ShippingFlatRate,
				FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			},
			PricingTolerance: cfg.Pricing.Tolerance,
			DisableCOD:       !cfg.Payments.EnableCOD,
			Clock:            clock,
			IDGenerator:      idGen,
			Logger:           eventLogger(opts.Logger, "checkout"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if newsletterRepo := reg.Newsletter(); newsletterRepo != nil {
		newsletterSvc, err := services.NewNewsletterService(services.NewsletterServiceDeps{
			Subscribers: newsletterRepo,
			Clock:       clock,
			IDGenerator: idGen,
			Logger:      eventLogger(opts.Logger, "newsletter"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build newsletter service: %w", err)
		}
		svc.Newsletter = newsletterSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := opts.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// eventLogger adapts a named zap logger to the structured event logging
// signature the services expect.
func eventLogger(base *zap.Logger, name string) func(context.Context, string, map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	scoped := base.Named(name)
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		scoped.Debug(name+" log", zFields...)
	}
}
