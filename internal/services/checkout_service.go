package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

const (
	checkoutReleaseReasonPaymentFail = "checkout_payment_failed"
	checkoutReleaseReasonCommitFail  = "checkout_commit_failed"

	orderNumberCounter = "orders"
)

// GatewayConfirmation carries the signed payload the payment gateway returned
// after the client completed payment out-of-band.
type GatewayConfirmation struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// PaymentGateway is the payment-side collaborator the checkout consumes.
// VerifyConfirmation must reject any signature that does not match the
// gateway's shared-secret scheme; ConfirmPayment settles card intents.
type PaymentGateway interface {
	VerifyConfirmation(ctx context.Context, confirmation GatewayConfirmation) error
	ConfirmPayment(ctx context.Context, paymentID string, amount int64, currency string) error
}

// CheckoutServiceDeps bundles dependencies for the checkout orchestrator.
type CheckoutServiceDeps struct {
	Pricing    PricingService
	Coupons    CouponService
	Inventory  InventoryService
	Orders     repositories.OrderRepository
	Counters   repositories.CounterRepository
	Gateway    PaymentGateway
	UnitOfWork repositories.UnitOfWork
	Publisher  OrderEventPublisher

	Policy PricingPolicy
	// PricingTolerance is the maximum absolute difference tolerated between the
	// client-displayed total and the server-computed one.
	PricingTolerance int64
	// DisableCOD rejects pay-on-delivery orders at validation time.
	DisableCOD bool

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type checkoutService struct {
	pricing   PricingService
	coupons   CouponService
	inventory InventoryService
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	gateway   PaymentGateway
	uow       repositories.UnitOfWork
	publisher OrderEventPublisher

	policy        PricingPolicy
	tolerance     int64
	disableCOD    bool
	transactional bool

	clock  func() time.Time
	idgen  func() string
	logger func(context.Context, string, map[string]any)
}

// NewCheckoutService wires the place-order orchestrator.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Pricing == nil:
		return nil, errors.New("checkout service: pricing service is required")
	case deps.Coupons == nil:
		return nil, errors.New("checkout service: coupon service is required")
	case deps.Inventory == nil:
		return nil, errors.New("checkout service: inventory service is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Counters == nil:
		return nil, errors.New("checkout service: counter repository is required")
	case deps.Gateway == nil:
		return nil, errors.New("checkout service: payment gateway is required")
	case deps.IDGenerator == nil:
		return nil, errors.New("checkout service: id generator is required")
	}
	if deps.PricingTolerance < 0 {
		return nil, errors.New("checkout service: tolerance must be >= 0")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	return &checkoutService{
		pricing:       deps.Pricing,
		coupons:       deps.Coupons,
		inventory:     deps.Inventory,
		orders:        deps.Orders,
		counters:      deps.Counters,
		gateway:       deps.Gateway,
		uow:           uow,
		publisher:     deps.Publisher,
		policy:        deps.Policy,
		tolerance:     deps.PricingTolerance,
		disableCOD:    deps.DisableCOD,
		transactional: deps.UnitOfWork != nil,
		clock:         func() time.Time { return clock().UTC() },
		idgen:         deps.IDGenerator,
		logger:        logger,
	}, nil
}

// PlaceOrder runs the checkout protocol: server-side repricing, coupon
// revalidation, all-or-nothing stock reservation, payment verification, and a
// single transactional order commit. Any failure after the reservation
// compensates it, so no partial writes survive a failed attempt.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	if err := validatePlaceOrderInput(cmd); err != nil {
		return Order{}, err
	}
	if s.disableCOD && cmd.PaymentMethod == domain.PaymentMethodCOD {
		return Order{}, fmt.Errorf("%w: pay on delivery is not accepted", ErrCheckoutInvalidInput)
	}
	now := s.clock()

	// Step 1: recompute pricing from the submitted cart. The client total is
	// advisory; the server figure is the only one ever persisted.
	subtotal, err := cartSubtotal(cmd.Lines)
	if err != nil {
		return Order{}, err
	}

	// Step 2: re-validate the coupon against the server-computed subtotal.
	var quote CouponQuote
	couponApplied := false
	if strings.TrimSpace(cmd.CouponCode) != "" {
		quote, err = s.coupons.Validate(ctx, ValidateCouponCommand{Code: cmd.CouponCode, Subtotal: subtotal})
		if err != nil {
			return Order{}, err
		}
		couponApplied = true
	}

	pricing, err := s.pricing.Quote(ctx, QuoteCommand{
		Lines:    cmd.Lines,
		Discount: quote.Discount,
		Policy:   s.policy,
	})
	if err != nil {
		return Order{}, err
	}

	if diff := pricing.Total - cmd.ClientTotal; diff > s.tolerance || diff < -s.tolerance {
		s.logger(ctx, "checkout_pricing_mismatch", map[string]any{
			"userId":      cmd.UserID,
			"clientTotal": cmd.ClientTotal,
			"serverTotal": pricing.Total,
		})
		return Order{}, fmt.Errorf("%w: client total %d, server total %d", ErrPricingMismatch, cmd.ClientTotal, pricing.Total)
	}

	orderID := s.idgen()
	ref := orderStockRef(orderID)

	// Step 3: reserve stock for every line, all or nothing.
	reservation, err := s.inventory.Reserve(ctx, ReserveStockCommand{
		Lines: stockLinesFromCart(cmd.Lines),
		Ref:   ref,
	})
	if err != nil {
		return Order{}, err
	}

	// Step 4: verify payment. A forged gateway signature releases the
	// reservation and persists nothing.
	payment, err := s.settlePayment(ctx, cmd, pricing)
	if err != nil {
		s.compensateReservation(ctx, reservation, checkoutReleaseReasonPaymentFail)
		return Order{}, err
	}

	order, err := s.buildOrder(ctx, orderID, cmd, pricing, payment, now)
	if err != nil {
		s.compensateReservation(ctx, reservation, checkoutReleaseReasonCommitFail)
		return Order{}, err
	}

	// Step 5: persist the order and redeem the coupon in one transaction.
	redeemed := false
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if couponApplied {
			if _, redeemErr := s.coupons.Redeem(txCtx, RedeemCouponCommand{Code: quote.Code, Subtotal: subtotal}); redeemErr != nil {
				return redeemErr
			}
			redeemed = true
		}
		return s.orders.Insert(txCtx, order)
	})
	if err != nil {
		// Step 6: no partial writes. A real unit of work rolls the coupon
		// counter back with the transaction; without one the redemption has
		// already committed and must be released. The stock reservation is
		// compensated explicitly either way.
		if redeemed && !s.transactional {
			s.compensateRedemption(ctx, quote.Code)
		}
		s.compensateReservation(ctx, reservation, checkoutReleaseReasonCommitFail)
		return Order{}, s.translateCommitError(err)
	}

	s.logger(ctx, "checkout_order_placed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"total":       order.Pricing.Total,
		"method":      string(order.Payment.Method),
	})
	s.publishOrderCreated(ctx, order, now)
	return order, nil
}

func (s *checkoutService) settlePayment(ctx context.Context, cmd PlaceOrderCommand, pricing PricingBreakdown) (PaymentInfo, error) {
	payment := PaymentInfo{
		Method:           cmd.PaymentMethod,
		GatewayOrderID:   strings.TrimSpace(cmd.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(cmd.GatewayPaymentID),
		Signature:        strings.TrimSpace(cmd.Signature),
		Status:           domain.PaymentStatusPending,
	}

	switch cmd.PaymentMethod {
	case domain.PaymentMethodGateway:
		confirmation := GatewayConfirmation{
			GatewayOrderID:   payment.GatewayOrderID,
			GatewayPaymentID: payment.GatewayPaymentID,
			Signature:        payment.Signature,
		}
		if err := s.gateway.VerifyConfirmation(ctx, confirmation); err != nil {
			s.logger(ctx, "checkout_payment_verification_failed", map[string]any{
				"userId":         cmd.UserID,
				"gatewayOrderId": payment.GatewayOrderID,
			})
			return PaymentInfo{}, fmt.Errorf("%w: %s", ErrPaymentNotVerified, err)
		}
		payment.Status = domain.PaymentStatusCompleted
	case domain.PaymentMethodCard:
		if err := s.gateway.ConfirmPayment(ctx, payment.GatewayPaymentID, pricing.Total, pricing.Currency); err != nil {
			return PaymentInfo{}, fmt.Errorf("%w: %s", ErrPaymentNotVerified, err)
		}
		payment.Status = domain.PaymentStatusCompleted
	case domain.PaymentMethodCOD:
		// Pay-on-delivery commits unverified, marked pending.
	}
	return payment, nil
}

func (s *checkoutService) buildOrder(ctx context.Context, orderID string, cmd PlaceOrderCommand, pricing PricingBreakdown, payment PaymentInfo, now time.Time) (Order, error) {
	items := make([]OrderItem, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		item, err := domain.OrderItemFromLine(line)
		if err != nil {
			return Order{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, err)
		}
		items = append(items, item)
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:              orderID,
		UserID:          cmd.UserID,
		OrderNumber:     number,
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		Payment:         payment,
		Pricing:         pricing,
		Status:          domain.OrderStatusPending,
		StatusHistory: []StatusHistoryEntry{{
			Status:    domain.OrderStatusPending,
			Timestamp: now,
			Note:      "order created",
			Actor:     cmd.UserID,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := order.Validate(); err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, err)
	}
	return order, nil
}

func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", fmt.Errorf("%w: order number allocation failed: %s", ErrCheckoutUnavailable, err)
	}
	return fmt.Sprintf("AS-%04d-%06d", now.Year(), seq), nil
}

func (s *checkoutService) compensateReservation(ctx context.Context, reservation StockReservation, reason string) {
	if err := s.inventory.Release(ctx, ReleaseStockCommand{
		Lines:  reservation.Lines,
		Ref:    reservation.Ref,
		Reason: reason,
	}); err != nil {
		s.logger(ctx, "checkout_compensation_failed", map[string]any{
			"ref":    reservation.Ref,
			"reason": reason,
			"error":  err.Error(),
		})
	}
}

func (s *checkoutService) compensateRedemption(ctx context.Context, code string) {
	if err := s.coupons.ReleaseRedemption(ctx, code); err != nil {
		s.logger(ctx, "checkout_compensation_failed", map[string]any{
			"coupon": code,
			"error":  err.Error(),
		})
	}
}

func (s *checkoutService) translateCommitError(err error) error {
	switch {
	case errors.Is(err, ErrCouponNotFound),
		errors.Is(err, ErrCouponInactive),
		errors.Is(err, ErrCouponNotStarted),
		errors.Is(err, ErrCouponExpired),
		errors.Is(err, ErrCouponExhausted),
		errors.Is(err, ErrCouponMinPurchase):
		return err
	}
	if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %s", ErrCheckoutUnavailable, err)
	}
	return err
}

func (s *checkoutService) publishOrderCreated(ctx context.Context, order Order, now time.Time) {
	if s.publisher == nil {
		return
	}
	event := OrderEvent{
		Type:        "order.created",
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Pricing.Total,
		Currency:    order.Pricing.Currency,
		OccurredAt:  now,
	}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"type":    event.Type,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func validatePlaceOrderInput(cmd PlaceOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrCheckoutInvalidInput)
	}
	for _, line := range cmd.Lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, err)
		}
	}
	if err := cmd.ShippingAddress.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, err)
	}
	if _, err := domain.ParsePaymentMethod(string(cmd.PaymentMethod)); err != nil {
		return fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, err)
	}
	if cmd.PaymentMethod == domain.PaymentMethodGateway {
		if strings.TrimSpace(cmd.GatewayOrderID) == "" ||
			strings.TrimSpace(cmd.GatewayPaymentID) == "" ||
			strings.TrimSpace(cmd.Signature) == "" {
			return fmt.Errorf("%w: gateway confirmation is incomplete", ErrCheckoutInvalidInput)
		}
	}
	if cmd.ClientTotal < 0 {
		return fmt.Errorf("%w: negative client total", ErrCheckoutInvalidInput)
	}
	return nil
}

func cartSubtotal(lines []CartLine) (int64, error) {
	var subtotal int64
	for _, line := range lines {
		if err := line.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, err)
		}
		subtotal += line.UnitPrice * int64(line.Quantity)
	}
	return subtotal, nil
}

func stockLinesFromCart(lines []CartLine) []StockLine {
	out := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return out
}

// noopUnitOfWork executes the callback without a transactional boundary.
type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
