package secret

import "errors"

var (
	// ErrMissingEnv is returned when ${VAR} names an unset variable.
	ErrMissingEnv = errors.New("secret: missing environment variable")

	// ErrUnknownProvider is returned for a secretref naming no provider.
	ErrUnknownProvider = errors.New("secret: unknown provider")

	// ErrNotFound is returned by a provider that has no such secret.
	ErrNotFound = errors.New("secret: not found")

	// ErrEmpty is returned when a secret resolves to an empty value.
	ErrEmpty = errors.New("secret: empty value")

	// ErrInvalidRef is returned for malformed references.
	ErrInvalidRef = errors.New("secret: invalid reference")
)
