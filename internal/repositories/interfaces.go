package repositories

import (
	"context"
	"time"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Coupons() CouponRepository
	Stock() StockRepository
	Newsletter() NewsletterRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// ApplyTransition re-reads the order inside a transaction, hands it to mutate,
	// and persists the returned order. Serialises concurrent transitions per order.
	ApplyTransition(ctx context.Context, orderID string, mutate func(domain.Order) (domain.Order, error)) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings for user and admin surfaces.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CouponRepository reads coupon definitions and owns the redemption counter.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// Redeem increments usedCount inside a transaction, only while the coupon is
	// active, inside its validity window, under its usage cap, and the subtotal
	// meets the minimum purchase. Returns the coupon as redeemed.
	Redeem(ctx context.Context, code string, subtotal int64, now time.Time) (domain.Coupon, error)
	// ReleaseRedemption decrements usedCount as compensation for a failed checkout.
	ReleaseRedemption(ctx context.Context, code string) error
}

// StockRepository manages per-product stock levels with transactional guarantees.
type StockRepository interface {
	// Reserve performs the conditional decrement for every line inside one
	// transaction: each line succeeds only if available stock covers its
	// quantity, and the first failing line aborts the whole set.
	Reserve(ctx context.Context, req StockReserveRequest) (StockReserveResult, error)
	// Release restores previously reserved quantities. Used as compensation
	// when a later checkout step fails, and on cancellation of unshipped orders.
	Release(ctx context.Context, req StockReleaseRequest) (StockReleaseResult, error)
	// Commit converts reserved quantities into a permanent on-hand decrement.
	Commit(ctx context.Context, req StockCommitRequest) error
	GetLevel(ctx context.Context, productID string) (domain.StockLevel, error)
}

// StockLine names one product/quantity pair in a reserve or release request.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockReserveRequest encapsulates an all-or-nothing reservation attempt.
type StockReserveRequest struct {
	Lines []StockLine
	Ref   string
	Now   time.Time
}

// StockReserveResult reports updated stock projections after a reservation.
type StockReserveResult struct {
	Levels      map[string]domain.StockLevel
	Adjustments []domain.StockAdjustment
}

// StockReleaseRequest restores reserved stock back to availability.
type StockReleaseRequest struct {
	Lines  []StockLine
	Ref    string
	Reason string
	Now    time.Time
}

// StockReleaseResult reports stock projections after a release.
type StockReleaseResult struct {
	Levels map[string]domain.StockLevel
}

// StockCommitRequest finalises a reservation once the order ships.
type StockCommitRequest struct {
	Lines []StockLine
	Ref   string
	Now   time.Time
}

// NewsletterRepository persists the subscriber collection.
type NewsletterRepository interface {
	Upsert(ctx context.Context, subscriber domain.NewsletterSubscriber) (domain.NewsletterSubscriber, error)
	FindByEmail(ctx context.Context, email string) (domain.NewsletterSubscriber, error)
	MarkUnsubscribed(ctx context.Context, email string, at time.Time) error
	List(ctx context.Context, filter NewsletterListFilter) (domain.CursorPage[domain.NewsletterSubscriber], error)
}

// NewsletterListFilter narrows subscriber listings.
type NewsletterListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
