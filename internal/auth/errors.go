package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")

	// Token lifecycle failures. All of them deny.
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrExpiredToken  = errors.New("auth: token expired")
	ErrTokenRevoked  = errors.New("auth: refresh token revoked")
	ErrTokenNotFound = errors.New("auth: refresh token not found")

	// ErrRoleNotFound marks a dangling role reference. This is a data
	// integrity problem, not a user error: the request is denied and the
	// caller should surface a 500-class response.
	ErrRoleNotFound = errors.New("auth: role not found")

	// Delegation failures.
	ErrNotDelegatable            = errors.New("auth: role does not allow delegation")
	ErrExceedsGrantorPermissions = errors.New("auth: delegated permissions exceed grantor's effective set")
	ErrNotAuthorized             = errors.New("auth: not authorized")

	ErrAccountLocked = errors.New("auth: account temporarily locked")
)
