package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTTL = 12 * time.Hour

// Claims are the console's JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// IssueToken signs a token for subject with role r. A non-positive ttl
// uses twelve hours.
//
// Parameters:
//   - subject: Who the token is for, recorded in the audit trail
//   - r: Role granting the token's permissions
//   - secret: HMAC signing key (security.jwt.secret)
//   - ttl: Token lifetime
//
// Returns:
//   - string: Signed HS256 token
//   - error: ErrNoSecret, ErrUnknownRole, or a signing failure
//
// Example:
//
//	token, err := auth.IssueToken("console-operator", auth.RoleOperator, cfg.Security.JWT.Secret, time.Hour)
func IssueToken(subject string, r Role, secret string, ttl time.Duration) (string, error) {
	// Validate inputs
	if secret == "" {
		return "", ErrNoSecret
	}
	if !ValidRole(r) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, r)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role: r,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken checks the signature, expiry, subject and role of a token.
//
// Only HS256 is accepted, so a token cannot pick its own algorithm.
//
// Returns:
//   - *Claims: The verified claims
//   - error: Wrapped ErrTokenInvalid on any failure
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	// Signature and expiry are fine; check our own claims
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !ValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
