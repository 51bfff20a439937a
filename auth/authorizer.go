package auth

import (
	"context"
	"fmt"
)

// Actions checked by the namespace authorizer.
const (
	ActionRead       = "read"
	ActionWrite      = "write"
	ActionInvalidate = "invalidate"
	ActionListen     = "listen"
)

// Authorizer determines if a principal may perform an action.
type Authorizer interface {
	// Authorize returns nil if permitted, or an error (typically *AuthzError).
	Authorize(ctx context.Context, req *AuthzRequest) error

	// Name returns a unique identifier for this authorizer.
	Name() string
}

// AuthzRequest contains the information needed for authorization.
type AuthzRequest struct {
	Subject   *Principal
	Namespace string
	Action    string
}

// AuthzError represents an authorization failure.
type AuthzError struct {
	Subject   string
	Namespace string
	Action    string
	Reason    string
}

// Error returns the error message.
func (e *AuthzError) Error() string {
	return fmt.Sprintf("authorization denied: subject=%q namespace=%q action=%q reason=%q",
		e.Subject, e.Namespace, e.Action, e.Reason)
}

// Is reports whether target is ErrForbidden.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}

// NamespaceAuthorizer permits an action when the namespace matches one of
// the principal's namespace patterns.
type NamespaceAuthorizer struct{}

// Authorize implements Authorizer.
func (NamespaceAuthorizer) Authorize(_ context.Context, req *AuthzRequest) error {
	if req.Subject == nil {
		return &AuthzError{Namespace: req.Namespace, Action: req.Action, Reason: "no principal"}
	}
	if !req.Subject.CanAccess(req.Namespace) {
		return &AuthzError{
			Subject:   req.Subject.ID,
			Namespace: req.Namespace,
			Action:    req.Action,
			Reason:    "namespace not owned by principal",
		}
	}
	return nil
}

// Name returns "namespace".
func (NamespaceAuthorizer) Name() string { return "namespace" }

// AuthorizerFunc is an adapter to allow use of ordinary functions as Authorizers.
type AuthorizerFunc func(ctx context.Context, req *AuthzRequest) error

// Authorize calls the function.
func (f AuthorizerFunc) Authorize(ctx context.Context, req *AuthzRequest) error {
	return f(ctx, req)
}

// Name returns "func" for function-based authorizers.
func (f AuthorizerFunc) Name() string { return "func" }
