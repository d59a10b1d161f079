package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// DefaultCallbackTokenHeader is the header payment providers use to prove a
// webhook delivery originated from them.
const DefaultCallbackTokenHeader = "X-Callback-Token"

var (
	// ErrCallbackTokenMissing indicates the webhook request carried no token.
	ErrCallbackTokenMissing = errors.New("auth: callback token missing")
	// ErrCallbackTokenMismatch indicates the webhook token did not match.
	ErrCallbackTokenMismatch = errors.New("auth: callback token mismatch")
)

// CallbackTokenProvider supplies the expected callback token. Implementations
// may read from config, Secret Manager, or rotate values at runtime.
type CallbackTokenProvider interface {
	CallbackToken(ctx context.Context) (string, error)
}

// StaticCallbackToken adapts a fixed token string to CallbackTokenProvider.
type StaticCallbackToken string

// CallbackToken returns the wrapped token.
func (s StaticCallbackToken) CallbackToken(context.Context) (string, error) {
	return string(s), nil
}

// CallbackTokenValidator verifies provider webhook tokens before payloads are
// trusted. Comparison is constant time.
type CallbackTokenValidator struct {
	provider CallbackTokenProvider
	header   string
}

// NewCallbackTokenValidator constructs a validator reading the token from the
// given header (DefaultCallbackTokenHeader when empty).
func NewCallbackTokenValidator(provider CallbackTokenProvider, header string) (*CallbackTokenValidator, error) {
	if provider == nil {
		return nil, errors.New("auth: callback token provider is required")
	}
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultCallbackTokenHeader
	}
	return &CallbackTokenValidator{provider: provider, header: header}, nil
}

// Validate checks the token presented on the request against the expected value.
func (v *CallbackTokenValidator) Validate(r *http.Request) error {
	if v == nil || v.provider == nil {
		return ErrCallbackTokenMismatch
	}

	presented := strings.TrimSpace(r.Header.Get(v.header))
	if presented == "" {
		return ErrCallbackTokenMissing
	}

	expected, err := v.provider.CallbackToken(r.Context())
	if err != nil {
		return err
	}
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return ErrCallbackTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
		return ErrCallbackTokenMismatch
	}
	return nil
}

// RequireCallbackToken wraps webhook handlers and rejects deliveries that do
// not carry the expected token.
func (v *CallbackTokenValidator) RequireCallbackToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.Validate(r); err != nil {
				switch {
				case errors.Is(err, ErrCallbackTokenMissing):
					writeAuthError(w, http.StatusUnauthorized, "callback_token_missing", "webhook callback token missing")
				case errors.Is(err, ErrCallbackTokenMismatch):
					writeAuthError(w, http.StatusUnauthorized, "callback_token_invalid", "webhook callback token invalid")
				default:
					writeAuthError(w, http.StatusUnauthorized, "callback_token_invalid", "webhook callback token verification failed")
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
