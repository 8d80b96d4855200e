package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/chandanhastantram/artsstore-sub000/internal/platform/firestore"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

// Registry bundles the Firestore backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider   *pfirestore.Provider
	orders     *OrderRepository
	coupons    *CouponRepository
	stock      *StockRepository
	newsletter *NewsletterRepository
	counters   *CounterRepository
	health     repositories.HealthRepository
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build coupon repository: %w", err)
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build stock repository: %w", err)
	}
	newsletter, err := NewNewsletterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build newsletter repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider:   provider,
		orders:     orders,
		coupons:    coupons,
		stock:      stock,
		newsletter: newsletter,
		counters:   counters,
		health:     health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository           { return r.orders }
func (r *Registry) Coupons() repositories.CouponRepository         { return r.coupons }
func (r *Registry) Stock() repositories.StockRepository            { return r.stock }
func (r *Registry) Newsletter() repositories.NewsletterRepository  { return r.newsletter }
func (r *Registry) Counters() repositories.CounterRepository       { return r.counters }
func (r *Registry) Health() repositories.HealthRepository          { return r.health }

// RunInTx opens a Firestore transaction and threads it through the context so
// repository calls made by fn commit or roll back together.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	if _, ok := pfirestore.TxFromContext(ctx); ok {
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.ContextWithTx(ctx, tx))
	})
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
