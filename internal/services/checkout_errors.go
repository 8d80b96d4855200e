package services

import "errors"

var (
	// ErrCheckoutInvalidInput signals a malformed place-order request, rejected
	// before any side effect.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrPricingMismatch indicates the client-submitted total disagrees with the
	// server-side figure beyond the rounding tolerance.
	ErrPricingMismatch = errors.New("checkout: pricing mismatch")
	// ErrPaymentNotVerified indicates the gateway confirmation signature failed
	// verification. No order is persisted.
	ErrPaymentNotVerified = errors.New("checkout: payment not verified")
	// ErrCheckoutUnavailable indicates a downstream dependency failed; the
	// request can be retried with a fresh pricing snapshot.
	ErrCheckoutUnavailable = errors.New("checkout: temporarily unavailable")
)
