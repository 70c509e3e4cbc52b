package auth

import "errors"

var (
	// ErrTokenInvalid covers bad signatures, expiry and missing claims.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrUnknownRole is returned when issuing a token for an undefined role.
	ErrUnknownRole = errors.New("auth: unknown role")

	// ErrNoSecret is returned when signing without a secret.
	ErrNoSecret = errors.New("auth: no signing secret")
)
