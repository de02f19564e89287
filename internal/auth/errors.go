package auth

import (
	"errors"
	"fmt"
)

var (
	ErrConflict        = errors.New("auth: conflict")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrNotFound        = errors.New("auth: not found")
	ErrInvalid         = errors.New("auth: invalid input")
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)

	ErrTokenSignature = fmt.Errorf("%w: token signature is invalid", ErrUnauthenticated)
	ErrTokenExpired   = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrTokenMalformed = fmt.Errorf("%w: token is malformed", ErrUnauthenticated)
	ErrTokenType      = fmt.Errorf("%w: unexpected token type", ErrUnauthenticated)

	ErrRefreshInvalid = fmt.Errorf("%w: refresh token invalid or revoked", ErrUnauthenticated)
	// ErrRefreshReused marks a presented refresh token that was already rotated.
	ErrRefreshReused = fmt.Errorf("%w: refresh token reused", ErrRefreshInvalid)
)
