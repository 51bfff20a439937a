package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for authentication and authorization.
var (
	// Authentication errors
	ErrUnauthenticated      = errors.New("auth: unauthenticated")
	ErrMissingCredentials   = errors.New("auth: missing credentials")
	ErrAmbiguousCredentials = errors.New("auth: more than one credential scheme present")
	ErrInvalidCredentials   = errors.New("auth: invalid credentials")
	ErrUnknownKeyPrefix     = errors.New("auth: unknown key prefix")
	ErrMalformedSignature   = errors.New("auth: malformed signature")
	ErrSignatureMismatch    = errors.New("auth: signature mismatch")
	ErrRequestExpired       = errors.New("auth: request timestamp outside allowed window")
	ErrAccountDisabled      = errors.New("auth: account disabled")

	// Authorization errors
	ErrForbidden = errors.New("auth: access denied")
)

// AuthError is an authentication failure. It always matches
// ErrUnauthenticated and unwraps to the specific reason.
type AuthError struct {
	// Kind is the credential scheme that was attempted, if known.
	Kind CredentialKind

	// Cause is the specific failure reason.
	Cause error
}

func (e *AuthError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("authentication failed: %v", e.Cause)
	}
	return fmt.Sprintf("authentication failed (%s): %v", e.Kind, e.Cause)
}

// Unwrap returns the cause for errors.Is/As support.
func (e *AuthError) Unwrap() error { return e.Cause }

// Is reports whether target is ErrUnauthenticated.
func (e *AuthError) Is(target error) bool { return target == ErrUnauthenticated }
