package auth

import (
	"net/http"
	"strings"
)

// iapAssertionHeader carries the Google-signed assertion for IAP and
// serverless callers.
const iapAssertionHeader = "X-Goog-Iap-Jwt-Assertion"

// AdminGate dispatches admin requests to whichever credential the caller
// presented: a signed HMAC request, a Google-signed OIDC assertion, or a
// Firebase bearer token for interactive admins.
type AdminGate struct {
	firebase        func(http.Handler) http.Handler
	hmac            func(http.Handler) http.Handler
	oidc            func(http.Handler) http.Handler
	signatureHeader string
}

// AdminGateOption customises gate construction.
type AdminGateOption func(*AdminGate)

// WithAdminHMAC admits requests signed with the shared-secret scheme. The
// signature header decides dispatch, so it must match the validator's.
func WithAdminHMAC(middleware func(http.Handler) http.Handler, signatureHeader string) AdminGateOption {
	return func(g *AdminGate) {
		g.hmac = middleware
		if header := strings.TrimSpace(signatureHeader); header != "" {
			g.signatureHeader = header
		}
	}
}

// WithAdminOIDC admits service callers carrying a Google IAP assertion.
func WithAdminOIDC(middleware func(http.Handler) http.Handler) AdminGateOption {
	return func(g *AdminGate) {
		g.oidc = middleware
	}
}

// NewAdminGate builds the gate around the interactive Firebase middleware.
func NewAdminGate(firebase func(http.Handler) http.Handler, opts ...AdminGateOption) *AdminGate {
	gate := &AdminGate{
		firebase:        firebase,
		signatureHeader: defaultSignatureHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Middleware returns the dispatching middleware for the admin route group.
// A request is handled by exactly one scheme; credentials are never tried in
// sequence, so a failed signature cannot fall back to a bearer token.
func (g *AdminGate) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "admin access not configured")
				return
			}
			switch {
			case g.hmac != nil && strings.TrimSpace(r.Header.Get(g.signatureHeader)) != "":
				g.hmac(next).ServeHTTP(w, r)
			case g.oidc != nil && strings.TrimSpace(r.Header.Get(iapAssertionHeader)) != "":
				g.oidc(next).ServeHTTP(w, r)
			case g.firebase != nil:
				g.firebase(next).ServeHTTP(w, r)
			default:
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "admin access not configured")
			}
		})
	}
}
