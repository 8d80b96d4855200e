package repositories

import "fmt"

// CouponErrorCode enumerates repository error causes for coupon redemption.
type CouponErrorCode string

const (
	// CouponErrorUnknown represents an unspecified failure.
	CouponErrorUnknown CouponErrorCode = "coupon_unknown"
	// CouponErrorNotFound indicates the code has no coupon document.
	CouponErrorNotFound CouponErrorCode = "coupon_not_found"
	// CouponErrorInactive indicates the coupon is disabled.
	CouponErrorInactive CouponErrorCode = "coupon_inactive"
	// CouponErrorOutsideWindow indicates the coupon is outside its validity window.
	CouponErrorOutsideWindow CouponErrorCode = "coupon_outside_window"
	// CouponErrorExhausted indicates the usage cap was reached.
	CouponErrorExhausted CouponErrorCode = "coupon_exhausted"
	// CouponErrorMinPurchase indicates the subtotal is below the minimum purchase.
	CouponErrorMinPurchase CouponErrorCode = "coupon_min_purchase"
)

// CouponError wraps coupon-specific failures with machine readable codes.
type CouponError struct {
	Op      string
	Code    CouponErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CouponError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CouponError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCouponError constructs a typed coupon error.
func NewCouponError(code CouponErrorCode, message string, err error) *CouponError {
	if message == "" {
		message = string(code)
	}
	return &CouponError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
