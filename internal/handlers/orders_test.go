package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/auth"
	"github.com/chandanhastantram/artsstore-sub000/internal/services"
)

type stubOrderService struct {
	getFn        func(context.Context, string) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	trackingFn   func(context.Context, services.AssignTrackingCommand) (services.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AssignTracking(ctx context.Context, cmd services.AssignTrackingCommand) (services.Order, error) {
	if s.trackingFn != nil {
		return s.trackingFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubCheckoutService struct {
	placeFn func(context.Context, services.PlaceOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func sampleOrder(now time.Time) services.Order {
	return services.Order{
		ID:          "ord_123",
		OrderNumber: "AS-2024-000123",
		UserID:      "user-1",
		Status:      domain.OrderStatusConfirmed,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Name: "Canvas Print", UnitPrice: 1000, Quantity: 2},
		},
		ShippingAddress: domain.Address{
			Recipient:  "Asha",
			Line1:      "12 MG Road",
			City:       "Bengaluru",
			PostalCode: "560001",
			Country:    "IN",
		},
		Payment: domain.PaymentInfo{
			Method: domain.PaymentMethodGateway,
			Status: domain.PaymentStatusCompleted,
		},
		Pricing: domain.PricingBreakdown{
			Currency: "inr",
			Subtotal: 2000,
			Discount: 150,
			Shipping: 0,
			Tax:      333,
			Total:    2183,
		},
		StatusHistory: []domain.StatusHistoryEntry{
			{Status: domain.OrderStatusPending, Timestamp: now},
			{Status: domain.OrderStatusConfirmed, Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderHandlersPlaceOrderSuccess(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	var captured services.PlaceOrderCommand

	checkout := &stubCheckoutService{
		placeFn: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(now), nil
		},
	}

	handler := NewOrderHandlers(nil, checkout, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{
		"items": [{"product_id": "prod-1", "name": "Canvas Print", "unit_price": 1000, "quantity": 2}],
		"shipping_address": {"recipient": "Asha", "line1": "12 MG Road", "city": "Bengaluru", "postal_code": "560001", "country": "IN"},
		"coupon_code": "save10",
		"payment_method": "gateway",
		"payment": {"gateway_order_id": "gw_1", "gateway_payment_id": "pay_1", "signature": "abcd"},
		"client_total": 2183
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.UserID != "user-1" {
		t.Fatalf("expected command user user-1, got %s", captured.UserID)
	}
	if captured.CouponCode != "save10" {
		t.Fatalf("expected coupon code save10, got %s", captured.CouponCode)
	}
	if captured.PaymentMethod != domain.PaymentMethodGateway {
		t.Fatalf("expected gateway payment method, got %s", captured.PaymentMethod)
	}
	if captured.GatewayOrderID != "gw_1" || captured.GatewayPaymentID != "pay_1" || captured.Signature != "abcd" {
		t.Fatalf("unexpected payment proof: %#v", captured)
	}
	if captured.ClientTotal != 2183 {
		t.Fatalf("expected client total 2183, got %d", captured.ClientTotal)
	}
	if len(captured.Lines) != 1 || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected cart lines: %#v", captured.Lines)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.ID != "ord_123" {
		t.Fatalf("expected order id ord_123, got %s", resp.Order.ID)
	}
	if resp.Order.Pricing.Currency != "INR" {
		t.Fatalf("expected currency uppercased, got %s", resp.Order.Pricing.Currency)
	}
	if resp.Order.Pricing.Total != 2183 {
		t.Fatalf("expected total 2183, got %d", resp.Order.Pricing.Total)
	}
	if len(resp.Order.StatusHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(resp.Order.StatusHistory))
	}
}

func TestOrderHandlersPlaceOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"insufficient stock", services.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
		{"coupon expired", services.ErrCouponExpired, http.StatusBadRequest, "invalid_coupon"},
		{"coupon not found", services.ErrCouponNotFound, http.StatusBadRequest, "invalid_coupon"},
		{"payment not verified", services.ErrPaymentNotVerified, http.StatusBadRequest, "payment_not_verified"},
		{"pricing mismatch", services.ErrPricingMismatch, http.StatusConflict, "pricing_mismatch"},
		{"invalid input", services.ErrCheckoutInvalidInput, http.StatusBadRequest, "validation_error"},
		{"backend down", services.ErrCheckoutUnavailable, http.StatusServiceUnavailable, "checkout_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checkout := &stubCheckoutService{
				placeFn: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}

			handler := NewOrderHandlers(nil, checkout, &stubOrderService{})
			router := chi.NewRouter()
			router.Route("/orders", handler.Routes)

			body := `{
				"items": [{"product_id": "prod-1", "unit_price": 1000, "quantity": 1}],
				"shipping_address": {"recipient": "Asha", "line1": "12 MG Road", "city": "Bengaluru", "postal_code": "560001", "country": "IN"},
				"payment_method": "cod",
				"client_total": 1000
			}`
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
			req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tc.wantCode) {
				t.Fatalf("expected error code %s in %s", tc.wantCode, rr.Body.String())
			}
		})
	}
}

func TestOrderHandlersPlaceOrderRejectsEmptyItems(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubCheckoutService{}, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"items":[],"payment_method":"cod"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersPlaceOrderRejectsUnknownPaymentMethod(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubCheckoutService{}, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{"items":[{"product_id":"p1","unit_price":100,"quantity":1}],"payment_method":"barter"}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersPlaceOrderUnauthenticated(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubCheckoutService{}, &stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	handler.placeOrder(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersSuccess(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	fromExpected := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	toExpected := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	var capturedFilter services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			capturedFilter = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder(now)},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, &stubCheckoutService{}, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders?status=confirmed,shipped&page_size=10&page_token=tok123&created_after=2024-03-01T00:00:00Z&created_before=2024-04-01T00:00:00Z", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if capturedFilter.UserID != "user-1" {
		t.Fatalf("expected filter user user-1, got %s", capturedFilter.UserID)
	}
	if capturedFilter.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", capturedFilter.Pagination.PageSize)
	}
	if capturedFilter.Pagination.PageToken != "tok123" {
		t.Fatalf("expected page token tok123, got %s", capturedFilter.Pagination.PageToken)
	}
	if capturedFilter.DateRange.From == nil || !capturedFilter.DateRange.From.Equal(fromExpected) {
		t.Fatalf("expected date range from %s, got %#v", fromExpected.Format(time.RFC3339Nano), capturedFilter.DateRange.From)
	}
	if capturedFilter.DateRange.To == nil || !capturedFilter.DateRange.To.Equal(toExpected) {
		t.Fatalf("expected date range to %s, got %#v", toExpected.Format(time.RFC3339Nano), capturedFilter.DateRange.To)
	}
	if len(capturedFilter.Status) != 2 {
		t.Fatalf("expected 2 status filters, got %d", len(capturedFilter.Status))
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp.Items))
	}
	order := resp.Items[0]
	if order.ID != "ord_123" || order.OrderNumber != "AS-2024-000123" {
		t.Fatalf("unexpected order summary: %#v", order)
	}
	if order.Currency != "INR" {
		t.Fatalf("expected currency uppercased, got %s", order.Currency)
	}
	if order.Total != 2183 {
		t.Fatalf("expected total 2183, got %d", order.Total)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersInvalidPageSize(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubCheckoutService{}, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders?page_size=abc", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersInvalidDate(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubCheckoutService{}, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders?created_after=not-a-date", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersUnauthenticated(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubCheckoutService{}, &stubOrderService{})
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rr := httptest.NewRecorder()
	handler.listOrders(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderSuccess(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			if orderID != "ord_123" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return sampleOrder(now), nil
		},
	}

	handler := NewOrderHandlers(nil, &stubCheckoutService{}, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	payload := resp.Order
	if payload.ID != "ord_123" {
		t.Fatalf("expected order id ord_123, got %s", payload.ID)
	}
	if payload.Status != string(domain.OrderStatusConfirmed) {
		t.Fatalf("expected status confirmed, got %s", payload.Status)
	}
	if payload.Payment.Method != string(domain.PaymentMethodGateway) {
		t.Fatalf("expected gateway method, got %s", payload.Payment.Method)
	}
	if payload.ShippingAddress.City != "Bengaluru" {
		t.Fatalf("expected shipping city Bengaluru, got %s", payload.ShippingAddress.City)
	}
	if len(payload.Items) != 1 || payload.Items[0].ProductID != "prod-1" {
		t.Fatalf("unexpected items: %#v", payload.Items)
	}
}

func TestOrderHandlersGetOrderEnforcesOwnership(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{ID: "ord_456", UserID: "other-user"}, nil
		},
	}

	handler := NewOrderHandlers(nil, &stubCheckoutService{}, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_456", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	handler := NewOrderHandlers(nil, &stubCheckoutService{}, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderServiceUnavailable(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubCheckoutService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	handler.getOrder(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
