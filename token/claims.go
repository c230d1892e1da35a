package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryFromJWT extracts the exp claim from a JWT without verifying the
// signature. The token is opaque to this client; signature verification is
// the backend's job. Used only as an expiry fallback when the endpoint
// payload omits expires_at.
func expiryFromJWT(raw string) (time.Time, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
