package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrPricingInvalidInput signals bad request data such as missing lines or negative prices.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingPolicyInvalid signals a malformed shipping/tax policy.
	ErrPricingPolicyInvalid = errors.New("pricing: invalid policy")
)

// PricingEngine is the pure cart pricing calculator. It performs no I/O; the
// same computation runs client-side for display, but only this engine's result
// is ever persisted or sent to the payment gateway.
type PricingEngine struct {
	logger func(context.Context, string, map[string]any)
}

// PricingEngineDeps carries optional collaborators for the pricing engine.
type PricingEngineDeps struct {
	Logger func(context.Context, string, map[string]any)
}

// NewPricingEngine constructs the pricing engine.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{logger: logger}, nil
}

var _ PricingService = (*PricingEngine)(nil)

// Quote computes subtotal, shipping, tax, and total for the lines under the
// policy, applying the already-resolved discount. Tax is charged on the
// discounted subtotal and rounded half-up to the currency minor unit.
func (e *PricingEngine) Quote(_ context.Context, cmd QuoteCommand) (PricingBreakdown, error) {
	if err := validatePolicy(cmd.Policy); err != nil {
		return PricingBreakdown{}, err
	}
	if len(cmd.Lines) == 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}
	if cmd.Discount < 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: negative discount", ErrPricingInvalidInput)
	}

	var subtotal int64
	for _, line := range cmd.Lines {
		if err := line.Validate(); err != nil {
			return PricingBreakdown{}, fmt.Errorf("%w: %s", ErrPricingInvalidInput, err)
		}
		quantity := int64(line.Quantity)
		if line.UnitPrice > 0 && line.UnitPrice > math.MaxInt64/quantity {
			return PricingBreakdown{}, fmt.Errorf("%w: line %s subtotal overflow", ErrPricingInvalidInput, line.ProductID)
		}
		lineSubtotal := line.UnitPrice * quantity
		if subtotal > math.MaxInt64-lineSubtotal {
			return PricingBreakdown{}, fmt.Errorf("%w: cart subtotal overflow", ErrPricingInvalidInput)
		}
		subtotal += lineSubtotal
	}

	discount := cmd.Discount
	if discount > subtotal {
		discount = subtotal
	}

	shipping := cmd.Policy.ShippingFlatRate
	if subtotal > cmd.Policy.FreeShippingThreshold {
		shipping = 0
	}

	tax := roundHalfUp(decimal.NewFromInt(subtotal - discount).Mul(decimal.NewFromFloat(cmd.Policy.TaxRate)))

	breakdown := PricingBreakdown{
		Currency: strings.ToUpper(strings.TrimSpace(cmd.Policy.Currency)),
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal - discount + shipping + tax,
	}
	if err := breakdown.Validate(); err != nil {
		return PricingBreakdown{}, err
	}
	return breakdown, nil
}

func validatePolicy(policy PricingPolicy) error {
	switch {
	case strings.TrimSpace(policy.Currency) == "":
		return fmt.Errorf("%w: currency is required", ErrPricingPolicyInvalid)
	case policy.TaxRate < 0 || policy.TaxRate >= 1:
		return fmt.Errorf("%w: tax rate %v out of range", ErrPricingPolicyInvalid, policy.TaxRate)
	case policy.ShippingFlatRate < 0:
		return fmt.Errorf("%w: negative shipping rate", ErrPricingPolicyInvalid)
	case policy.FreeShippingThreshold < 0:
		return fmt.Errorf("%w: negative free shipping threshold", ErrPricingPolicyInvalid)
	}
	return nil
}

// roundHalfUp rounds to the nearest minor unit, ties away from zero.
// Inputs are non-negative, so this matches round-half-up.
func roundHalfUp(value decimal.Decimal) int64 {
	return value.Round(0).IntPart()
}
