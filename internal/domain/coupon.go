package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DiscountType enumerates supported coupon discount calculations.
type DiscountType string

const (
	// DiscountTypePercentage discounts a percentage of the subtotal, optionally capped.
	DiscountTypePercentage DiscountType = "percentage"
	// DiscountTypeFixed discounts a fixed amount, never exceeding the subtotal.
	DiscountTypeFixed DiscountType = "fixed"
)

// Coupon describes a discount code owned by the catalog/admin subsystem.
// The checkout engine reads it and atomically increments UsedCount on redemption.
type Coupon struct {
	ID            string
	Code          string
	DiscountType  DiscountType
	DiscountValue int64
	MinPurchase   int64
	MaxDiscount   *int64
	ValidFrom     time.Time
	ValidUntil    time.Time
	UsageLimit    *int
	UsedCount     int
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NormalizeCouponCode canonicalises a user-supplied coupon code for lookup.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the structural invariants of a coupon definition.
func (c Coupon) Validate() error {
	if NormalizeCouponCode(c.Code) == "" {
		return errors.New("coupon: code is required")
	}
	switch c.DiscountType {
	case DiscountTypePercentage:
		if c.DiscountValue < 0 || c.DiscountValue > 100 {
			return fmt.Errorf("coupon %s: percentage value out of range", c.Code)
		}
	case DiscountTypeFixed:
		if c.DiscountValue < 0 {
			return fmt.Errorf("coupon %s: negative fixed discount", c.Code)
		}
	default:
		return fmt.Errorf("coupon %s: unknown discount type %q", c.Code, c.DiscountType)
	}
	if c.MinPurchase < 0 {
		return fmt.Errorf("coupon %s: negative minimum purchase", c.Code)
	}
	if c.MaxDiscount != nil && *c.MaxDiscount < 0 {
		return fmt.Errorf("coupon %s: negative discount cap", c.Code)
	}
	if c.UsageLimit != nil && c.UsedCount > *c.UsageLimit {
		return fmt.Errorf("coupon %s: used count exceeds usage limit", c.Code)
	}
	if !c.ValidUntil.IsZero() && c.ValidUntil.Before(c.ValidFrom) {
		return fmt.Errorf("coupon %s: validity window ends before it starts", c.Code)
	}
	return nil
}

// WithinWindow reports whether the coupon is temporally valid at the given instant.
func (c Coupon) WithinWindow(now time.Time) bool {
	if now.Before(c.ValidFrom) {
		return false
	}
	if !c.ValidUntil.IsZero() && now.After(c.ValidUntil) {
		return false
	}
	return true
}

// Exhausted reports whether the usage cap has been reached.
func (c Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}
