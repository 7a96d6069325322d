// Package auth verifies the credential a browser presents when opening the
// signaling WebSocket.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Verifier interface {
	Verify(credential string) error
}

// NewVerifier returns the verifier for cfg.AuthMode, or nil when auth is
// disabled.
func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return nil, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// CredentialFromRequest extracts the credential from an upgrade request. A
// bearer Authorization header wins over the query string; browsers cannot set
// headers on WebSocket requests, so the query (apiKey or token) is the common
// path.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	if mode == config.AuthModeNone {
		return "", nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}

	q := r.URL.Query()
	primary, secondary := q.Get("apiKey"), q.Get("token")
	if mode == config.AuthModeJWT {
		primary, secondary = secondary, primary
	}
	switch {
	case primary != "":
		return primary, nil
	case secondary != "":
		return secondary, nil
	default:
		return "", ErrMissingCredentials
	}
}
