package auth

import "context"

// Authenticator verifies one credential scheme.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: methods should honor cancellation/deadlines.
//   - Errors: Authenticate returns (nil, error) for internal errors and
//     (AuthResult, nil) for auth failures (check result.Authenticated).
type Authenticator interface {
	// Name returns a unique identifier for this authenticator.
	Name() string

	// Supports reports whether this authenticator handles cred.
	Supports(cred Credential) bool

	// Authenticate verifies cred against req.
	Authenticate(ctx context.Context, req *AuthRequest, cred Credential) (*AuthResult, error)
}

// AuthResult is the result of an authentication attempt.
type AuthResult struct {
	Authenticated bool

	// Account is the resolved account (only if Authenticated=true).
	Account *Account

	// Trial marks demo keys.
	Trial bool

	// Error is the failure reason (only if Authenticated=false).
	Error error

	Kind CredentialKind
}

// AuthSuccess creates a successful authentication result.
func AuthSuccess(acct *Account, kind CredentialKind) *AuthResult {
	return &AuthResult{Authenticated: true, Account: acct, Kind: kind}
}

// AuthFailure creates a failed authentication result.
func AuthFailure(err error, kind CredentialKind) *AuthResult {
	return &AuthResult{Error: err, Kind: kind}
}
