package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/auth"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/httpx"
	"github.com/chandanhastantram/artsstore-sub000/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxPlaceOrderBodySize = 32 * 1024
)

// OrderHandlers exposes checkout and order endpoints for authenticated users.
type OrderHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	orders   services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		checkout: checkout,
		orders:   orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

type placeOrderRequest struct {
	Items           []placeOrderItem `json:"items"`
	ShippingAddress addressPayload   `json:"shipping_address"`
	CouponCode      string           `json:"coupon_code"`
	PaymentMethod   string           `json:"payment_method"`
	Payment         *paymentProof    `json:"payment,omitempty"`
	ClientTotal     int64            `json:"client_total"`
}

type placeOrderItem struct {
	ProductID      string               `json:"product_id"`
	Name           string               `json:"name"`
	UnitPrice      int64                `json:"unit_price"`
	Quantity       int                  `json:"quantity"`
	Customizations []customizationEntry `json:"customizations,omitempty"`
}

type customizationEntry struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type paymentProof struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxPlaceOrderBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), status))
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "at least one item is required", http.StatusBadRequest))
		return
	}

	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "payment_method must be one of gateway, card, cod", http.StatusBadRequest))
		return
	}

	lines := make([]services.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		customizations := make([]services.CustomizationSelection, 0, len(item.Customizations))
		for _, entry := range item.Customizations {
			selection, err := domain.NewCustomizationSelection(domain.CustomizationKind(strings.TrimSpace(entry.Kind)), entry.Value)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
				return
			}
			customizations = append(customizations, selection)
		}
		if len(customizations) == 0 {
			customizations = nil
		}
		lines = append(lines, services.CartLine{
			ProductID:      strings.TrimSpace(item.ProductID),
			Name:           strings.TrimSpace(item.Name),
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			Customizations: customizations,
		})
	}

	cmd := services.PlaceOrderCommand{
		UserID:          strings.TrimSpace(identity.UID),
		Lines:           lines,
		ShippingAddress: req.ShippingAddress.toAddress(),
		CouponCode:      strings.TrimSpace(req.CouponCode),
		PaymentMethod:   method,
		ClientTotal:     req.ClientTotal,
	}
	if req.Payment != nil {
		cmd.GatewayOrderID = strings.TrimSpace(req.Payment.GatewayOrderID)
		cmd.GatewayPaymentID = strings.TrimSpace(req.Payment.GatewayPaymentID)
		cmd.Signature = strings.TrimSpace(req.Payment.Signature)
	}

	order, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writePlaceOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()

	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range parseFilterValues(query["status"]) {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "status filter contains an unknown status", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	filter := services.OrderListFilter{
		UserID:    strings.TrimSpace(identity.UID),
		Status:    statuses,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	// Owners only; leak nothing about other users' orders.
	if !strings.EqualFold(strings.TrimSpace(order.UserID), strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"order_number"`
	UserID          string                `json:"user_id"`
	Status          string                `json:"status"`
	Items           []orderItemPayload    `json:"items"`
	ShippingAddress addressPayload        `json:"shipping_address"`
	Payment         orderPaymentPayload   `json:"payment"`
	Pricing         orderPricingPayload   `json:"pricing"`
	StatusHistory   []statusEntryPayload  `json:"status_history"`
	TrackingNumber  string                `json:"tracking_number,omitempty"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID      string               `json:"product_id"`
	Name           string               `json:"name,omitempty"`
	UnitPrice      int64                `json:"unit_price"`
	Quantity       int                  `json:"quantity"`
	Customizations []customizationEntry `json:"customizations,omitempty"`
}

type orderPaymentPayload struct {
	Method           string `json:"method"`
	GatewayOrderID   string `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	Status           string `json:"status"`
}

type orderPricingPayload struct {
	Currency string `json:"currency"`
	Subtotal int64  `json:"subtotal"`
	Discount int64  `json:"discount"`
	Shipping int64  `json:"shipping"`
	Tax      int64  `json:"tax"`
	Total    int64  `json:"total"`
	// TotalDisplay is the total scaled to the currency's minor units, for
	// clients that render the figure verbatim.
	TotalDisplay string `json:"total_display"`
}

type statusEntryPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Note      string `json:"note,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Pricing.Currency)),
		Total:       order.Pricing.Total,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		entry := orderItemPayload{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
		for _, c := range item.Customizations {
			entry.Customizations = append(entry.Customizations, customizationEntry{
				Kind:  string(c.Kind),
				Value: c.Value(),
			})
		}
		items = append(items, entry)
	}

	history := make([]statusEntryPayload, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, statusEntryPayload{
			Status:    string(entry.Status),
			Timestamp: formatTime(entry.Timestamp),
			Note:      entry.Note,
			Actor:     entry.Actor,
		})
	}

	return orderPayload{
		ID:              strings.TrimSpace(order.ID),
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		UserID:          strings.TrimSpace(order.UserID),
		Status:          string(order.Status),
		Items:           items,
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		Payment: orderPaymentPayload{
			Method:           string(order.Payment.Method),
			GatewayOrderID:   order.Payment.GatewayOrderID,
			GatewayPaymentID: order.Payment.GatewayPaymentID,
			Status:           string(order.Payment.Status),
		},
		Pricing: orderPricingPayload{
			Currency:     strings.ToUpper(strings.TrimSpace(order.Pricing.Currency)),
			Subtotal:     order.Pricing.Subtotal,
			Discount:     order.Pricing.Discount,
			Shipping:     order.Pricing.Shipping,
			Tax:          order.Pricing.Tax,
			Total:        order.Pricing.Total,
			TotalDisplay: formatMinorUnits(order.Pricing.Currency, order.Pricing.Total),
		},
		StatusHistory:  history,
		TrackingNumber: strings.TrimSpace(order.TrackingNumber),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
}

func writePlaceOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for one or more items", http.StatusConflict))
	case isCouponRejection(err):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_coupon", couponRejectionReason(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotVerified):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_verified", "payment confirmation could not be verified", http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_mismatch", "client total does not match server pricing", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to place order", http.StatusInternalServerError))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderStatusConflict):
		httpx.WriteError(ctx, w, httpx.NewError("status_conflict", "order status changed concurrently; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotShipped):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_shipped", "tracking can only be assigned to shipped orders", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func isCouponRejection(err error) bool {
	return errors.Is(err, services.ErrCouponNotFound) ||
		errors.Is(err, services.ErrCouponInactive) ||
		errors.Is(err, services.ErrCouponNotStarted) ||
		errors.Is(err, services.ErrCouponExpired) ||
		errors.Is(err, services.ErrCouponExhausted) ||
		errors.Is(err, services.ErrCouponMinPurchase) ||
		errors.Is(err, services.ErrCouponInvalidCode)
}

func couponRejectionReason(err error) string {
	switch {
	case errors.Is(err, services.ErrCouponNotFound):
		return "coupon code not found"
	case errors.Is(err, services.ErrCouponInactive):
		return "coupon is not active"
	case errors.Is(err, services.ErrCouponNotStarted):
		return "coupon is not valid yet"
	case errors.Is(err, services.ErrCouponExpired):
		return "coupon has expired"
	case errors.Is(err, services.ErrCouponExhausted):
		return "coupon usage limit reached"
	case errors.Is(err, services.ErrCouponMinPurchase):
		return "subtotal below coupon minimum purchase"
	default:
		return "coupon code is invalid"
	}
}
