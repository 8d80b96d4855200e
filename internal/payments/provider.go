package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/services"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrVerificationFailed is returned when a gateway confirmation signature does not match.
	ErrVerificationFailed = errors.New("payments: signature verification failed")
	// ErrPaymentNotSettled is returned when a confirmed payment is not in a captured state.
	ErrPaymentNotSettled = errors.New("payments: payment not settled")
)

// OrderRequest captures the payload required to open a payment order with a gateway.
type OrderRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	Receipt        string
	IdempotencyKey string
	Metadata       map[string]string
}

// GatewayOrder represents the gateway-side order the client completes payment against.
type GatewayOrder struct {
	ID        string
	Provider  string
	Amount    int64
	Currency  string
	CreatedAt time.Time
}

// ConfirmRequest contains the data required to settle a payment with a provider.
type ConfirmRequest struct {
	PaymentID string
	Amount    int64
	Currency  string
}

// PaymentDetails normalises provider specific fields for storage.
type PaymentDetails struct {
	Provider  string
	PaymentID string
	Status    Status
	Amount    int64
	Currency  string
}

// Provider defines the contract for payment gateway adapters.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
	Confirm(ctx context.Context, req ConfirmRequest) (PaymentDetails, error)
}

// ConfirmationVerifier is implemented by providers whose payments are proved
// by a shared-secret signature over the gateway callback.
type ConfirmationVerifier interface {
	VerifyConfirmation(ctx context.Context, confirmation services.GatewayConfirmation) error
}

// Manager routes payment operations to the provider registered for each method.
type Manager struct {
	providers     map[string]Provider
	methodRoutes  map[services.PaymentMethod]string
	defaultMethod services.PaymentMethod
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithMethodRoute maps a payment method onto a registered provider key.
func WithMethodRoute(method services.PaymentMethod, provider string) ManagerOption {
	return func(m *Manager) {
		if m.methodRoutes == nil {
			m.methodRoutes = make(map[services.PaymentMethod]string)
		}
		m.methodRoutes[method] = strings.TrimSpace(strings.ToLower(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(method services.PaymentMethod) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if key, ok := m.methodRoutes[method]; ok {
		if p, found := m.providers[key]; found {
			return key, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, fmt.Errorf("%w: method %s", ErrUnsupportedProvider, method)
}

// CreateOrder opens a gateway-side payment order for the given method.
func (m *Manager) CreateOrder(ctx context.Context, method services.PaymentMethod, req OrderRequest) (GatewayOrder, error) {
	key, provider, err := m.resolveProvider(method)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// VerifyConfirmation checks a signed gateway callback against the provider
// registered for the gateway method. Satisfies services.PaymentGateway.
func (m *Manager) VerifyConfirmation(ctx context.Context, confirmation services.GatewayConfirmation) error {
	_, provider, err := m.resolveProvider(domain.PaymentMethodGateway)
	if err != nil {
		return err
	}
	verifier, ok := provider.(ConfirmationVerifier)
	if !ok {
		return fmt.Errorf("%w: provider does not support signature verification", ErrUnsupportedProvider)
	}
	return verifier.VerifyConfirmation(ctx, confirmation)
}

// ConfirmPayment settles a card payment with the provider registered for the
// card method. Satisfies services.PaymentGateway.
func (m *Manager) ConfirmPayment(ctx context.Context, paymentID string, amount int64, currency string) error {
	_, provider, err := m.resolveProvider(domain.PaymentMethodCard)
	if err != nil {
		return err
	}
	details, err := provider.Confirm(ctx, ConfirmRequest{
		PaymentID: paymentID,
		Amount:    amount,
		Currency:  currency,
	})
	if err != nil {
		return err
	}
	if details.Status != StatusSucceeded {
		return fmt.Errorf("%w: status %s", ErrPaymentNotSettled, details.Status)
	}
	return nil
}

var _ services.PaymentGateway = (*Manager)(nil)
