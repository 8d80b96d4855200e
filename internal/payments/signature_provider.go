package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chandanhastantram/artsstore-sub000/internal/services"
)

const signatureProviderName = "gateway"

// SecretProvider resolves the merchant signing secret at verification time so
// rotated secrets take effect without a restart.
type SecretProvider interface {
	GetSecret(ctx context.Context) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context) (string, error) {
	if f == nil {
		return "", errors.New("payments: secret provider not configured")
	}
	return f(ctx)
}

// StaticSecret returns a SecretProvider that always yields the given secret.
func StaticSecret(secret string) SecretProvider {
	return SecretProviderFunc(func(context.Context) (string, error) {
		if secret == "" {
			return "", errors.New("payments: signing secret is empty")
		}
		return secret, nil
	})
}

// SignatureProviderDeps configures NewSignatureProvider.
type SignatureProviderDeps struct {
	Secrets     SecretProvider
	Clock       func() time.Time
	IDGenerator func() string
}

// SignatureProvider is the external checkout gateway integration. Order
// creation hands back a gateway order id for the client-side widget, and
// confirmation is verified by recomputing the HMAC-SHA256 signature the
// gateway attaches to its callback payload.
type SignatureProvider struct {
	secrets SecretProvider
	clock   func() time.Time
	idgen   func() string
}

// NewSignatureProvider validates dependencies and returns a SignatureProvider.
func NewSignatureProvider(deps SignatureProviderDeps) (*SignatureProvider, error) {
	if deps.Secrets == nil {
		return nil, errors.New("payments: secret provider is required")
	}
	if deps.IDGenerator == nil {
		return nil, errors.New("payments: id generator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SignatureProvider{
		secrets: deps.Secrets,
		clock:   func() time.Time { return clock().UTC() },
		idgen:   deps.IDGenerator,
	}, nil
}

// Name reports the provider key used by the payment manager.
func (p *SignatureProvider) Name() string {
	return signatureProviderName
}

// CreateOrder issues a gateway order the client widget collects payment
// against. The id doubles as the first half of the signed confirmation
// message, so it must be unique per checkout attempt.
func (p *SignatureProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("payments: order amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" {
		return GatewayOrder{}, errors.New("payments: order currency is required")
	}
	return GatewayOrder{
		ID:        "gw_" + p.idgen(),
		Provider:  signatureProviderName,
		Amount:    req.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
		CreatedAt: p.clock(),
	}, nil
}

// Confirm reports the settlement state for an already verified payment. The
// gateway settles before it signs the confirmation, so a verified signature
// implies success.
func (p *SignatureProvider) Confirm(ctx context.Context, req ConfirmRequest) (PaymentDetails, error) {
	if strings.TrimSpace(req.PaymentID) == "" {
		return PaymentDetails{}, errors.New("payments: payment id is required")
	}
	return PaymentDetails{
		PaymentID: req.PaymentID,
		Status:    StatusSucceeded,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}, nil
}

// VerifyConfirmation recomputes the confirmation signature and compares it in
// constant time against the one the client relayed from the gateway.
func (p *SignatureProvider) VerifyConfirmation(ctx context.Context, confirmation services.GatewayConfirmation) error {
	orderID := strings.TrimSpace(confirmation.GatewayOrderID)
	paymentID := strings.TrimSpace(confirmation.GatewayPaymentID)
	signature := strings.TrimSpace(confirmation.Signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return fmt.Errorf("%w: confirmation fields are incomplete", ErrVerificationFailed)
	}

	secret, err := p.secrets.GetSecret(ctx)
	if err != nil {
		return fmt.Errorf("payments: resolve signing secret: %w", err)
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex encoded", ErrVerificationFailed)
	}

	expected := computeSignature([]byte(secret), orderID, paymentID)
	if !hmac.Equal(provided, expected) {
		return fmt.Errorf("%w: signature mismatch for gateway order %s", ErrVerificationFailed, orderID)
	}
	return nil
}

func computeSignature(secret []byte, orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}
