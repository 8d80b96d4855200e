package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/payments"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/auth"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/httpx"
)

// GatewayOrderCreator opens an order with the payment gateway ahead of checkout.
type GatewayOrderCreator interface {
	CreateOrder(ctx context.Context, method domain.PaymentMethod, req payments.OrderRequest) (payments.GatewayOrder, error)
}

// PaymentHandlers exposes the pre-checkout gateway order endpoint.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	gateway  GatewayOrderCreator
	currency string
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, gateway GatewayOrderCreator, currency string) *PaymentHandlers {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "INR"
	}
	return &PaymentHandlers{authn: authn, gateway: gateway, currency: currency}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/gateway/order", h.createGatewayOrder)
}

type createGatewayOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type gatewayOrderPayload struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
}

func (h *PaymentHandlers) createGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateway == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment gateway unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	var req createGatewayOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Amount <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "amount must be positive", http.StatusBadRequest))
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = h.currency
	}

	order, err := h.gateway.CreateOrder(ctx, domain.PaymentMethodGateway, payments.OrderRequest{
		Amount:     req.Amount,
		Currency:   currency,
		CustomerID: strings.TrimSpace(identity.UID),
		Receipt:    strings.TrimSpace(req.Receipt),
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "no gateway configured for this payment method", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("gateway_error", "failed to create gateway order", http.StatusBadGateway))
		return
	}

	writeJSONResponse(w, http.StatusCreated, gatewayOrderPayload{
		ID:        order.ID,
		Provider:  order.Provider,
		Amount:    order.Amount,
		Currency:  order.Currency,
		CreatedAt: formatTime(order.CreatedAt),
	})
}
