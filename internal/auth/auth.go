package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/safemasking/masking-api/internal/config"
	"github.com/safemasking/masking-api/internal/store"
	"go.uber.org/zap"
)

type Authenticator interface {
	Authenticator(next http.Handler) http.Handler
}

const (
	SSOAuthentication   string = "sso"
	LocalAuthentication string = "local"
	NoneAuthentication  string = "none"
)

// NewAuthenticator builds the authenticator selected by the configuration.
// users is used by the sso authenticator to keep principals in sync and may be nil.
func NewAuthenticator(authConfig config.Auth, users store.User) (Authenticator, error) {
	zap.S().Named("auth").Infof("authentication: '%s'", authConfig.AuthenticationType)

	switch authConfig.AuthenticationType {
	case SSOAuthentication:
		a, err := NewSSOAuthenticator(context.Background(), authConfig.JwkCertURL)
		if err != nil {
			return nil, err
		}
		return a.WithUserStore(users), nil
	case LocalAuthentication:
		return NewLocalAuthenticator(authConfig.JwtSecret)
	default:
		return NewNoneAuthenticator()
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}
