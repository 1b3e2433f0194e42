package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpired reports whether a session token's exp claim is before now.
//
// The signature is not verified; only the server can do that. Tokens that
// cannot be parsed, or that carry no exp claim, are treated as unexpired and
// left for the server to reject.
func TokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
