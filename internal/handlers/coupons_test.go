package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/chandanhastantram/artsstore-sub000/internal/services"
)

type stubCouponService struct {
	validateFn func(context.Context, services.ValidateCouponCommand) (services.CouponQuote, error)
	redeemFn   func(context.Context, services.RedeemCouponCommand) (services.Coupon, error)
	releaseFn  func(context.Context, string) error
}

func (s *stubCouponService) Validate(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponQuote, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, cmd)
	}
	return services.CouponQuote{}, errors.New("not implemented")
}

func (s *stubCouponService) Redeem(ctx context.Context, cmd services.RedeemCouponCommand) (services.Coupon, error) {
	if s.redeemFn != nil {
		return s.redeemFn(ctx, cmd)
	}
	return services.Coupon{}, errors.New("not implemented")
}

func (s *stubCouponService) ReleaseRedemption(ctx context.Context, code string) error {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, code)
	}
	return nil
}

func TestCouponHandlersValidateSuccess(t *testing.T) {
	service := &stubCouponService{
		validateFn: func(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponQuote, error) {
			if cmd.Code != "SAVE10" {
				t.Fatalf("unexpected code %s", cmd.Code)
			}
			if cmd.Subtotal != 2000 {
				t.Fatalf("unexpected subtotal %d", cmd.Subtotal)
			}
			return services.CouponQuote{Code: "SAVE10", Discount: 150}, nil
		},
	}

	handler := NewCouponHandlers(service)
	router := chi.NewRouter()
	router.Route("/coupons", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"SAVE10","subtotal":2000}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp validateCouponResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Valid {
		t.Fatalf("expected valid true")
	}
	if resp.Discount != 150 {
		t.Fatalf("expected discount 150, got %d", resp.Discount)
	}
	if resp.Reason != "" {
		t.Fatalf("expected no reason, got %q", resp.Reason)
	}
}

func TestCouponHandlersValidateUnknownCodeIs404(t *testing.T) {
	service := &stubCouponService{
		validateFn: func(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponQuote, error) {
			return services.CouponQuote{}, services.ErrCouponNotFound
		},
	}

	handler := NewCouponHandlers(service)
	router := chi.NewRouter()
	router.Route("/coupons", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"NOPE","subtotal":500}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	var resp validateCouponResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Valid {
		t.Fatalf("expected valid false")
	}
	if resp.Reason == "" {
		t.Fatalf("expected a reason")
	}
}

func TestCouponHandlersValidateRejectionReasons(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantReason string
	}{
		{"inactive", services.ErrCouponInactive, "coupon is not active"},
		{"not started", services.ErrCouponNotStarted, "coupon is not valid yet"},
		{"expired", services.ErrCouponExpired, "coupon has expired"},
		{"exhausted", services.ErrCouponExhausted, "coupon usage limit reached"},
		{"min purchase", services.ErrCouponMinPurchase, "subtotal below coupon minimum purchase"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCouponService{
				validateFn: func(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponQuote, error) {
					return services.CouponQuote{}, tc.err
				},
			}

			handler := NewCouponHandlers(service)
			router := chi.NewRouter()
			router.Route("/coupons", handler.Routes)

			req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"SAVE10","subtotal":100}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}

			var resp validateCouponResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Valid {
				t.Fatalf("expected valid false")
			}
			if resp.Reason != tc.wantReason {
				t.Fatalf("expected reason %q, got %q", tc.wantReason, resp.Reason)
			}
		})
	}
}

func TestCouponHandlersValidateRejectsMissingCode(t *testing.T) {
	handler := NewCouponHandlers(&stubCouponService{})
	router := chi.NewRouter()
	router.Route("/coupons", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"subtotal":500}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateRejectsNegativeSubtotal(t *testing.T) {
	handler := NewCouponHandlers(&stubCouponService{})
	router := chi.NewRouter()
	router.Route("/coupons", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"SAVE10","subtotal":-1}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
