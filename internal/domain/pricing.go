package domain

import (
	"errors"
	"fmt"
)

// PricingBreakdown captures the aggregated monetary results of pricing a cart.
// All amounts are minor units of Currency.
type PricingBreakdown struct {
	Currency string
	Subtotal int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// Validate enforces the pricing identity and non-negativity of every component.
func (p PricingBreakdown) Validate() error {
	if p.Subtotal < 0 || p.Discount < 0 || p.Shipping < 0 || p.Tax < 0 || p.Total < 0 {
		return errors.New("pricing: components must be non-negative")
	}
	if p.Discount > p.Subtotal {
		return fmt.Errorf("pricing: discount %d exceeds subtotal %d", p.Discount, p.Subtotal)
	}
	if got := p.Subtotal - p.Discount + p.Shipping + p.Tax; got != p.Total {
		return fmt.Errorf("pricing: total %d does not equal subtotal-discount+shipping+tax (%d)", p.Total, got)
	}
	return nil
}
