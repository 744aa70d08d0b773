package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// userFromClaims reads the principal out of a validated token. The username
// is taken from preferred_username, falling back to sub.
func userFromClaims(t *jwt.Token) (User, error) {
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, errors.New("failed to parse jwt token claims")
	}

	username := stringClaim(claims, "preferred_username")
	if username == "" {
		username = stringClaim(claims, "sub")
	}
	if username == "" {
		return User{}, errors.New("token carries no username")
	}

	return User{
		Username:     username,
		Organization: stringClaim(claims, "org_id"),
		FirstName:    stringClaim(claims, "given_name"),
		LastName:     stringClaim(claims, "family_name"),
		Token:        t,
	}, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}
