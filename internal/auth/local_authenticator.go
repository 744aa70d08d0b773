package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const localIssuer = "masking-api"

// LocalAuthenticator validates HS256 tokens signed with a shared secret, as
// issued by GenerateLocalToken.
type LocalAuthenticator struct {
	secret []byte
}

func NewLocalAuthenticator(secret string) (*LocalAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("local authentication requires a jwt secret")
	}
	return &LocalAuthenticator{secret: []byte(secret)}, nil
}

// GenerateLocalToken signs a token for username valid for ttl.
func GenerateLocalToken(secret, username, organization string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"preferred_username": username,
		"org_id":             organization,
		"sub":                username,
		"iss":                localIssuer,
		"iat":                jwt.NewNumericDate(now),
		"exp":                jwt.NewNumericDate(now.Add(ttl)),
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (l *LocalAuthenticator) Authenticate(token string) (User, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(localIssuer),
	)
	t, err := parser.Parse(token, func(t *jwt.Token) (any, error) {
		return l.secret, nil
	})
	if err != nil {
		zap.S().Named("auth").Debugw("token rejected", "error", err)
		return User{}, fmt.Errorf("failed to authenticate token: %w", err)
	}

	return userFromClaims(t)
}

func (l *LocalAuthenticator) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken, found := bearerToken(r)
		if !found {
			http.Error(w, "No token provided", http.StatusUnauthorized)
			return
		}

		user, err := l.Authenticate(accessToken)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}

		ctx := NewUserContext(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
