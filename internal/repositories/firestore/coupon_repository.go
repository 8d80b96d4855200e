package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	pfirestore "github.com/chandanhastantram/artsstore-sub000/internal/platform/firestore"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

const couponsCollection = "coupons"

// CouponRepository reads coupon definitions and owns the redemption counter.
// Documents are keyed by the normalised coupon code.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
}

func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	coupons := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil)
	return &CouponRepository{provider: provider, coupons: coupons}, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, "coupon code is required", nil)
	}

	doc, err := r.coupons.Get(ctx, code)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", code), err)
		}
		return domain.Coupon{}, wrapCouponError("coupons.findByCode", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Redeem re-checks every redemption rule and increments usedCount inside one
// transaction, so the usage cap holds under concurrent checkouts.
func (r *CouponRepository) Redeem(ctx context.Context, code string, subtotal int64, now time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, "coupon code is required", nil)
	}
	now = now.UTC()

	var redeemed domain.Coupon
	run := func(ctx context.Context, tx *firestore.Transaction) error {
		doc, docRef, err := r.getCouponTx(ctx, tx, code)
		if err != nil {
			return err
		}
		coupon := doc.toDomain(code)

		if !coupon.Active {
			return repositories.NewCouponError(repositories.CouponErrorInactive, fmt.Sprintf("coupon %s is inactive", code), nil)
		}
		if !coupon.WithinWindow(now) {
			return repositories.NewCouponError(repositories.CouponErrorOutsideWindow, fmt.Sprintf("coupon %s is outside its validity window", code), nil)
		}
		if coupon.Exhausted() {
			return repositories.NewCouponError(repositories.CouponErrorExhausted, fmt.Sprintf("coupon %s usage limit reached", code), nil)
		}
		if subtotal < coupon.MinPurchase {
			return repositories.NewCouponError(repositories.CouponErrorMinPurchase, fmt.Sprintf("coupon %s requires a higher subtotal", code), nil)
		}

		doc.UsedCount++
		doc.UpdatedAt = now
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		redeemed = doc.toDomain(code)
		return nil
	}

	// Join the surrounding unit of work when one is open, so a later failure
	// in the same transaction rolls the increment back.
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		if err := run(ctx, tx); err != nil {
			return domain.Coupon{}, wrapCouponError("coupons.redeem", err)
		}
		return redeemed, nil
	}
	if err := r.provider.RunTransaction(ctx, run); err != nil {
		return domain.Coupon{}, wrapCouponError("coupons.redeem", err)
	}
	return redeemed, nil
}

// ReleaseRedemption decrements usedCount as compensation when a checkout fails
// after the coupon was redeemed.
func (r *CouponRepository) ReleaseRedemption(ctx context.Context, code string) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return repositories.NewCouponError(repositories.CouponErrorNotFound, "coupon code is required", nil)
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, docRef, err := r.getCouponTx(ctx, tx, code)
		if err != nil {
			return err
		}
		if doc.UsedCount <= 0 {
			return nil
		}
		doc.UsedCount--
		doc.UpdatedAt = time.Now().UTC()
		return tx.Set(docRef, doc)
	})
	if err != nil {
		return wrapCouponError("coupons.releaseRedemption", err)
	}
	return nil
}

func (r *CouponRepository) getCouponTx(ctx context.Context, tx *firestore.Transaction, code string) (couponDocument, *firestore.DocumentRef, error) {
	docRef, err := r.coupons.DocumentRef(ctx, code)
	if err != nil {
		return couponDocument{}, nil, err
	}
	snap, err := tx.Get(docRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return couponDocument{}, nil, repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", code), err)
		}
		return couponDocument{}, nil, err
	}
	var doc couponDocument
	if err := snap.DataTo(&doc); err != nil {
		return couponDocument{}, nil, fmt.Errorf("decode coupon %s: %w", code, err)
	}
	return doc, docRef, nil
}

// Helper structures ---------------------------------------------------------

type couponDocument struct {
	Code          string     `firestore:"code"`
	DiscountType  string     `firestore:"discountType"`
	DiscountValue int64      `firestore:"discountValue"`
	MinPurchase   int64      `firestore:"minPurchase"`
	MaxDiscount   *int64     `firestore:"maxDiscount,omitempty"`
	ValidFrom     time.Time  `firestore:"validFrom"`
	ValidUntil    time.Time  `firestore:"validUntil,omitempty"`
	UsageLimit    *int       `firestore:"usageLimit,omitempty"`
	UsedCount     int        `firestore:"usedCount"`
	Active        bool       `firestore:"active"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:            id,
		Code:          domain.NormalizeCouponCode(d.Code),
		DiscountType:  domain.DiscountType(d.DiscountType),
		DiscountValue: d.DiscountValue,
		MinPurchase:   d.MinPurchase,
		MaxDiscount:   d.MaxDiscount,
		ValidFrom:     d.ValidFrom,
		ValidUntil:    d.ValidUntil,
		UsageLimit:    d.UsageLimit,
		UsedCount:     d.UsedCount,
		Active:        d.Active,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func wrapCouponError(op string, err error) error {
	if err == nil {
		return nil
	}
	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		if couponErr.Op == "" {
			couponErr.Op = op
		}
		return couponErr
	}
	return pfirestore.WrapError(op, err)
}
