package services

import "errors"

var (
	// ErrCouponRepositoryMissing indicates the coupon repository dependency is absent.
	ErrCouponRepositoryMissing = errors.New("coupon service: repository is not configured")
	// ErrCouponInvalidCode signals the supplied coupon code is missing or malformed.
	ErrCouponInvalidCode = errors.New("coupon service: invalid coupon code")
	// ErrCouponNotFound indicates no coupon exists for the provided code.
	ErrCouponNotFound = errors.New("coupon service: coupon not found")
	// ErrCouponInactive indicates the coupon exists but is disabled.
	ErrCouponInactive = errors.New("coupon service: coupon inactive")
	// ErrCouponNotStarted indicates the coupon validity window has not opened yet.
	ErrCouponNotStarted = errors.New("coupon service: coupon not started")
	// ErrCouponExpired indicates the coupon validity window has closed.
	ErrCouponExpired = errors.New("coupon service: coupon expired")
	// ErrCouponExhausted indicates the usage cap has been reached.
	ErrCouponExhausted = errors.New("coupon service: coupon usage limit reached")
	// ErrCouponMinPurchase indicates the subtotal is below the coupon minimum purchase.
	ErrCouponMinPurchase = errors.New("coupon service: minimum purchase not met")
)
