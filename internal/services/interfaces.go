package services

import (
	"context"
	"time"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination             = domain.Pagination
	Address                = domain.Address
	CartLine               = domain.CartLine
	CustomizationSelection = domain.CustomizationSelection
	Coupon                 = domain.Coupon
	PricingBreakdown       = domain.PricingBreakdown
	Order                  = domain.Order
	OrderItem              = domain.OrderItem
	OrderStatus            = domain.OrderStatus
	PaymentInfo            = domain.PaymentInfo
	PaymentMethod          = domain.PaymentMethod
	StatusHistoryEntry     = domain.StatusHistoryEntry
	StockLevel             = domain.StockLevel
	NewsletterSubscriber   = domain.NewsletterSubscriber
	SystemHealthReport     = domain.SystemHealthReport
)

// PricingService computes authoritative pricing breakdowns for carts.
type PricingService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (PricingBreakdown, error)
}

// CouponService evaluates coupon eligibility and owns the redemption counter flow.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponQuote, error)
	Redeem(ctx context.Context, cmd RedeemCouponCommand) (Coupon, error)
	ReleaseRedemption(ctx context.Context, code string) error
}

// InventoryService is the stock ledger: all-or-nothing reservation with compensation.
type InventoryService interface {
	Reserve(ctx context.Context, cmd ReserveStockCommand) (StockReservation, error)
	Release(ctx context.Context, cmd ReleaseStockCommand) error
	Commit(ctx context.Context, cmd CommitStockCommand) error
	Level(ctx context.Context, productID string) (StockLevel, error)
}

// OrderService governs order reads and the status lifecycle state machine.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	AssignTracking(ctx context.Context, cmd AssignTrackingCommand) (Order, error)
}

// CheckoutService composes pricing, coupon, stock, and payment checks into the
// single place-order transaction.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// NewsletterService owns the persisted subscriber collection.
type NewsletterService interface {
	Subscribe(ctx context.Context, cmd SubscribeCommand) (NewsletterSubscriber, error)
	Unsubscribe(ctx context.Context, email string) error
	ListSubscribers(ctx context.Context, cmd ListSubscribersCommand) (domain.CursorPage[NewsletterSubscriber], error)
}

// SystemService exposes runtime health and build metadata for operational endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// StockEventPublisher accepts stock movement notifications for downstream processing.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// OrderEvent is the message emitted on order creation and status changes.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	Previous    OrderStatus
	Total       int64
	Currency    string
	OccurredAt  time.Time
}

// StockEvent is the message emitted for every stock movement.
type StockEvent struct {
	Type        string
	Ref         string
	Adjustments []domain.StockAdjustment
	OccurredAt  time.Time
}

// Command and DTO definitions ------------------------------------------------

// PricingPolicy carries the shipping and tax parameters applied by the pricing engine.
type PricingPolicy struct {
	Currency              string
	TaxRate               float64
	ShippingFlatRate      int64
	FreeShippingThreshold int64
}

type QuoteCommand struct {
	Lines    []CartLine
	Discount int64
	Policy   PricingPolicy
}

type ValidateCouponCommand struct {
	Code     string
	Subtotal int64
}

// CouponQuote reports the bounded discount a valid coupon yields for a subtotal.
type CouponQuote struct {
	Code     string
	Discount int64
	Coupon   Coupon
}

type RedeemCouponCommand struct {
	Code     string
	Subtotal int64
}

type ReserveStockCommand struct {
	Lines []StockLine
	Ref   string
}

type ReleaseStockCommand struct {
	Lines  []StockLine
	Ref    string
	Reason string
}

type CommitStockCommand struct {
	Lines []StockLine
	Ref   string
}

// StockLine names one product/quantity pair for ledger operations.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockReservation reports the outcome of a successful all-or-nothing reserve.
type StockReservation struct {
	Ref         string
	Lines       []StockLine
	Levels      map[string]StockLevel
	Adjustments []domain.StockAdjustment
	ReservedAt  time.Time
}

type OrderListFilter = repositories.OrderListFilter

type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	Note         string
	ActorID      string
	// ExpectedStatus rejects the transition when the stored status moved underneath the caller.
	ExpectedStatus *OrderStatus
}

type AssignTrackingCommand struct {
	OrderID        string
	TrackingNumber string
	ActorID        string
}

// PlaceOrderCommand is the client checkout submission. Client-supplied pricing
// is advisory only; the engine recomputes and compares.
type PlaceOrderCommand struct {
	UserID          string
	Lines           []CartLine
	ShippingAddress Address
	CouponCode      string
	PaymentMethod   PaymentMethod
	// Gateway confirmation as returned by the payment gateway callback.
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	// ClientTotal is the total the client displayed; compared against the
	// server-side figure within the configured tolerance.
	ClientTotal int64
}

type SubscribeCommand struct {
	Email  string
	Source string
}

type ListSubscribersCommand struct {
	ActiveOnly bool
	Pagination Pagination
}
