package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chandanhastantram/artsstore-sub000/internal/platform/httpx"
	"github.com/chandanhastantram/artsstore-sub000/internal/services"
)

// CouponHandlers exposes coupon pre-validation for carts. The endpoint is
// public; redemption itself only happens inside checkout.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs a new CouponHandlers instance.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes registers the /coupons endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/validate", h.validateCoupon)
}

type validateCouponRequest struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

type validateCouponResponse struct {
	Valid    bool   `json:"valid"`
	Code     string `json:"code,omitempty"`
	Discount int64  `json:"discount,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	var req validateCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "code is required", http.StatusBadRequest))
		return
	}
	if req.Subtotal < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "subtotal must not be negative", http.StatusBadRequest))
		return
	}

	quote, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:     req.Code,
		Subtotal: req.Subtotal,
	})
	if err != nil {
		writeCouponValidationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, validateCouponResponse{
		Valid:    true,
		Code:     quote.Code,
		Discount: quote.Discount,
	})
}

// writeCouponValidationError renders rejections in the response shape clients
// expect from the validate endpoint. Unknown codes are a 404; every other
// rejection is a 400 carrying the specific reason.
func writeCouponValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponInvalidCode):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "code is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		writeJSONResponse(w, http.StatusNotFound, validateCouponResponse{Valid: false, Reason: couponRejectionReason(err)})
	case isCouponRejection(err):
		writeJSONResponse(w, http.StatusBadRequest, validateCouponResponse{Valid: false, Reason: couponRejectionReason(err)})
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to validate coupon", http.StatusInternalServerError))
	}
}
