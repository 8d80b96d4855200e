package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

// CouponServiceDeps bundles dependencies required to construct a CouponService.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type couponService struct {
	repo   repositories.CouponRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCouponService wires a CouponService backed by the provided repository.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		repo:   deps.Coupons,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Validate evaluates the coupon against the server-computed subtotal. The
// first failing rule wins: lookup, active flag, validity window, usage cap,
// minimum purchase.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponQuote, error) {
	if s == nil || s.repo == nil {
		return CouponQuote{}, ErrCouponRepositoryMissing
	}
	code := domain.NormalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponQuote{}, ErrCouponInvalidCode
	}
	if cmd.Subtotal < 0 {
		return CouponQuote{}, fmt.Errorf("%w: negative subtotal", ErrCouponInvalidCode)
	}

	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return CouponQuote{}, s.translateRepositoryError(err)
	}

	now := s.clock()
	if err := checkCouponRules(coupon, cmd.Subtotal, now); err != nil {
		return CouponQuote{}, err
	}

	return CouponQuote{
		Code:     coupon.Code,
		Discount: couponDiscount(coupon, cmd.Subtotal),
		Coupon:   coupon,
	}, nil
}

// Redeem applies the coupon at order commit: the repository re-checks every
// rule and increments usedCount in one transaction, so two near-simultaneous
// redemptions of a nearly exhausted coupon cannot both succeed.
func (s *couponService) Redeem(ctx context.Context, cmd RedeemCouponCommand) (Coupon, error) {
	if s == nil || s.repo == nil {
		return Coupon{}, ErrCouponRepositoryMissing
	}
	code := domain.NormalizeCouponCode(cmd.Code)
	if code == "" {
		return Coupon{}, ErrCouponInvalidCode
	}

	coupon, err := s.repo.Redeem(ctx, code, cmd.Subtotal, s.clock())
	if err != nil {
		return Coupon{}, s.translateRepositoryError(err)
	}

	s.logger(ctx, "coupon_redeemed", map[string]any{
		"code":      coupon.Code,
		"usedCount": coupon.UsedCount,
	})
	return coupon, nil
}

// ReleaseRedemption undoes a redemption when a later checkout step fails.
func (s *couponService) ReleaseRedemption(ctx context.Context, code string) error {
	if s == nil || s.repo == nil {
		return ErrCouponRepositoryMissing
	}
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return ErrCouponInvalidCode
	}
	if err := s.repo.ReleaseRedemption(ctx, normalized); err != nil {
		return s.translateRepositoryError(err)
	}
	s.logger(ctx, "coupon_redemption_released", map[string]any{"code": normalized})
	return nil
}

func (s *couponService) translateRepositoryError(err error) error {
	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		switch couponErr.Code {
		case repositories.CouponErrorNotFound:
			return ErrCouponNotFound
		case repositories.CouponErrorInactive:
			return ErrCouponInactive
		case repositories.CouponErrorOutsideWindow:
			return ErrCouponExpired
		case repositories.CouponErrorExhausted:
			return ErrCouponExhausted
		case repositories.CouponErrorMinPurchase:
			return ErrCouponMinPurchase
		}
	}
	if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
		return ErrCouponNotFound
	}
	return err
}

// checkCouponRules applies the rejection rules in a fixed order against one
// instant: active flag, validity window, usage cap, minimum purchase.
func checkCouponRules(coupon Coupon, subtotal int64, now time.Time) error {
	if !coupon.Active {
		return ErrCouponInactive
	}
	if now.Before(coupon.ValidFrom) {
		return ErrCouponNotStarted
	}
	if !coupon.ValidUntil.IsZero() && now.After(coupon.ValidUntil) {
		return ErrCouponExpired
	}
	if coupon.Exhausted() {
		return ErrCouponExhausted
	}
	if subtotal < coupon.MinPurchase {
		return ErrCouponMinPurchase
	}
	return nil
}

// couponDiscount computes the bounded discount amount for a valid coupon.
// Percentage discounts round half-up and honour the cap; fixed discounts never
// exceed the subtotal.
func couponDiscount(coupon Coupon, subtotal int64) int64 {
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		discount := decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(coupon.DiscountValue)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
		if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
		}
		if discount > subtotal {
			discount = subtotal
		}
		return discount
	case domain.DiscountTypeFixed:
		if coupon.DiscountValue > subtotal {
			return subtotal
		}
		return coupon.DiscountValue
	}
	return 0
}
