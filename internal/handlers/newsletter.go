package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chandanhastantram/artsstore-sub000/internal/platform/httpx"
	"github.com/chandanhastantram/artsstore-sub000/internal/services"
)

// NewsletterHandlers exposes public subscription endpoints plus an admin list.
type NewsletterHandlers struct {
	newsletter services.NewsletterService
	limiter    rateLimiter
}

// NewsletterOption customises newsletter handler construction.
type NewsletterOption func(*NewsletterHandlers)

// WithSubscribeRateLimit throttles the public subscribe endpoint per client IP.
func WithSubscribeRateLimit(perMinute int) NewsletterOption {
	return func(h *NewsletterHandlers) {
		h.limiter = newSimpleRateLimiter(perMinute, time.Minute, nil)
	}
}

// NewNewsletterHandlers constructs a new NewsletterHandlers instance.
func NewNewsletterHandlers(newsletter services.NewsletterService, opts ...NewsletterOption) *NewsletterHandlers {
	h := &NewsletterHandlers{newsletter: newsletter}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the public /newsletter endpoints.
func (h *NewsletterHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/subscriptions", h.subscribe)
	r.Delete("/subscriptions/{email}", h.unsubscribe)
}

// AdminRoutes registers the admin-only subscriber listing.
func (h *NewsletterHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/subscriptions", h.listSubscribers)
}

type subscribeRequest struct {
	Email  string `json:"email"`
	Source string `json:"source"`
}

type subscriberPayload struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Source       string `json:"source,omitempty"`
	Active       bool   `json:"active"`
	SubscribedAt string `json:"subscribed_at"`
}

type subscriberListResponse struct {
	Items         []subscriberPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

func (h *NewsletterHandlers) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.newsletter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("newsletter_unavailable", "newsletter service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many subscription attempts", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	var req subscribeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	subscriber, err := h.newsletter.Subscribe(ctx, services.SubscribeCommand{
		Email:  strings.TrimSpace(req.Email),
		Source: strings.TrimSpace(req.Source),
	})
	if err != nil {
		if errors.Is(err, services.ErrNewsletterInvalidEmail) {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "email is not a valid address", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("newsletter_error", "failed to subscribe", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildSubscriberPayload(subscriber))
}

func (h *NewsletterHandlers) unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.newsletter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("newsletter_unavailable", "newsletter service unavailable", http.StatusServiceUnavailable))
		return
	}

	raw := chi.URLParam(r, "email")
	email, err := url.PathUnescape(raw)
	if err != nil {
		email = raw
	}
	email = strings.TrimSpace(email)
	if email == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "email is required", http.StatusBadRequest))
		return
	}

	if err := h.newsletter.Unsubscribe(ctx, email); err != nil {
		switch {
		case errors.Is(err, services.ErrNewsletterInvalidEmail):
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "email is not a valid address", http.StatusBadRequest))
		case errors.Is(err, services.ErrNewsletterNotSubscribed):
			httpx.WriteError(ctx, w, httpx.NewError("subscription_not_found", "no subscription found for email", http.StatusNotFound))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("newsletter_error", "failed to unsubscribe", http.StatusInternalServerError))
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *NewsletterHandlers) listSubscribers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.newsletter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("newsletter_unavailable", "newsletter service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	activeOnly := false
	if raw := strings.TrimSpace(query.Get("active_only")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "active_only must be a boolean", http.StatusBadRequest))
			return
		}
		activeOnly = parsed
	}

	pageSize := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "page_size must be a positive integer", http.StatusBadRequest))
			return
		}
		if size > maxOrderPageSize {
			size = maxOrderPageSize
		}
		pageSize = size
	}

	page, err := h.newsletter.ListSubscribers(ctx, services.ListSubscribersCommand{
		ActiveOnly: activeOnly,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("newsletter_error", "failed to list subscribers", http.StatusInternalServerError))
		return
	}

	items := make([]subscriberPayload, 0, len(page.Items))
	for _, subscriber := range page.Items {
		items = append(items, buildSubscriberPayload(subscriber))
	}

	writeJSONResponse(w, http.StatusOK, subscriberListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func buildSubscriberPayload(subscriber services.NewsletterSubscriber) subscriberPayload {
	return subscriberPayload{
		ID:           subscriber.ID,
		Email:        subscriber.Email,
		Source:       subscriber.Source,
		Active:       subscriber.Active(),
		SubscribedAt: formatTime(subscriber.SubscribedAt),
	}
}
