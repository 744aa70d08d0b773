package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/safemasking/masking-api/internal/store"
	"github.com/safemasking/masking-api/internal/store/model"
	"go.uber.org/zap"
)

// SSOAuthenticator validates RS256 tokens against the identity provider's JWKS.
type SSOAuthenticator struct {
	keyFn func(t *jwt.Token) (any, error)
	users store.User
}

func NewSSOAuthenticatorWithKeyFn(keyFn func(t *jwt.Token) (any, error)) (*SSOAuthenticator, error) {
	return &SSOAuthenticator{keyFn: keyFn}, nil
}

func NewSSOAuthenticator(ctx context.Context, jwkCertUrl string) (*SSOAuthenticator, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwkCertUrl})
	if err != nil {
		return nil, fmt.Errorf("failed to get sso public keys: %w", err)
	}

	return &SSOAuthenticator{keyFn: k.Keyfunc}, nil
}

// WithUserStore makes the authenticator record every principal it accepts,
// so that jobs can reference them.
func (s *SSOAuthenticator) WithUserStore(users store.User) *SSOAuthenticator {
	s.users = users
	return s
}

func (s *SSOAuthenticator) Authenticate(token string) (User, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}), jwt.WithIssuedAt(), jwt.WithExpirationRequired())
	t, err := parser.Parse(token, s.keyFn)
	if err != nil {
		zap.S().Named("auth").Debugw("token rejected", "error", err)
		return User{}, fmt.Errorf("failed to authenticate token: %w", err)
	}

	return userFromClaims(t)
}

func (s *SSOAuthenticator) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken, found := bearerToken(r)
		if !found {
			http.Error(w, "No token provided", http.StatusUnauthorized)
			return
		}

		user, err := s.Authenticate(accessToken)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}

		if s.users != nil {
			if _, err := s.users.Upsert(r.Context(), model.User{
				Username:     user.Username,
				FirstName:    user.FirstName,
				LastName:     user.LastName,
				Organization: user.Organization,
			}); err != nil {
				zap.S().Named("auth").Errorw("failed to record user", "error", err, "username", user.Username)
				http.Error(w, "failed to record user", http.StatusInternalServerError)
				return
			}
		}

		ctx := NewUserContext(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
