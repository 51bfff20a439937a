package auth

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/plan"
)

type fixedUsage int64

func (u fixedUsage) MonthlyUsed(context.Context, string) (int64, error) { return int64(u), nil }

func newTestResolver(t *testing.T, logger observe.Logger) *Resolver {
	t.Helper()
	accounts := testAccounts(t)
	return NewResolver(plan.DefaultCatalog(), []Authenticator{
		NewStaticKeyAuthenticator(accounts),
		NewSigV4Authenticator(SigV4Config{Now: func() time.Time { return signTime }}, accounts),
	}, WithUsage(fixedUsage(42)), WithLogger(logger))
}

func TestResolver_SchemesConverge(t *testing.T) {
	r := newTestResolver(t, observe.NopLogger())
	ctx := context.Background()

	byKey, err := r.Resolve(ctx, headerReq(HeaderAPIKey, testLiveKey))
	if err != nil {
		t.Fatalf("Resolve(static) error = %v", err)
	}
	bySig, err := r.Resolve(ctx, signedRequest(t, "AKIDACME", "acme-secret", []byte(`{}`), signTime))
	if err != nil {
		t.Fatalf("Resolve(sigv4) error = %v", err)
	}

	if byKey.CredentialKind != KindStaticKey || bySig.CredentialKind != KindSignatureV4 {
		t.Errorf("kinds = %s, %s", byKey.CredentialKind, bySig.CredentialKind)
	}
	byKey.CredentialKind, bySig.CredentialKind = "", ""
	if byKey.ID != bySig.ID ||
		byKey.MonthlyQuota != bySig.MonthlyQuota ||
		byKey.RateLimitPerMinute != bySig.RateLimitPerMinute ||
		byKey.MonthlyUsed != bySig.MonthlyUsed ||
		byKey.PlanTier != bySig.PlanTier {
		t.Errorf("principals differ: %+v vs %+v", byKey, bySig)
	}

	pro, _ := plan.DefaultCatalog().Tier(plan.Pro)
	if byKey.MonthlyQuota != pro.MonthlyQuota || byKey.RateLimitPerMinute != pro.RateLimitPerMinute {
		t.Errorf("limits = %d/%d, want pro tier", byKey.MonthlyQuota, byKey.RateLimitPerMinute)
	}
	if byKey.MonthlyUsed != 42 {
		t.Errorf("MonthlyUsed = %d, want 42", byKey.MonthlyUsed)
	}
}

func TestResolver_DemoKeyHasNoRateLimit(t *testing.T) {
	r := newTestResolver(t, observe.NopLogger())
	p, err := r.Resolve(context.Background(), headerReq(HeaderAuthorization, "Bearer "+testDemoKey))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !p.Trial || p.RateLimitPerMinute != 0 {
		t.Errorf("Trial = %v, RateLimitPerMinute = %d", p.Trial, p.RateLimitPerMinute)
	}
	if p.MonthlyQuota == 0 {
		t.Error("demo key should keep the monthly quota")
	}
}

func TestResolver_Failures(t *testing.T) {
	var buf bytes.Buffer
	r := newTestResolver(t, observe.NewLoggerWithWriter("info", &buf))

	tests := []struct {
		name  string
		req   *AuthRequest
		cause error
	}{
		{"missing", headerReq(), ErrMissingCredentials},
		{"ambiguous", headerReq(HeaderAPIKey, testLiveKey, HeaderAuthorization, "Bearer "+testDemoKey), ErrAmbiguousCredentials},
		{"bad key", headerReq(HeaderAPIKey, "ac_live_wrong"), ErrInvalidCredentials},
		{"bad prefix", headerReq(HeaderAPIKey, "xx_live_wrong"), ErrUnknownKeyPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.req)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("Resolve() error = %v, want ErrUnauthenticated", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("Resolve() error = %v, want cause %v", err, tt.cause)
			}
			var ae *AuthError
			if !errors.As(err, &ae) {
				t.Errorf("error %T is not *AuthError", err)
			}
		})
	}

	out := buf.String()
	if strings.Count(out, `"audit":true`) != len(tests) {
		t.Errorf("want %d audit records, got:\n%s", len(tests), out)
	}
	if strings.Contains(out, "ac_live_wrong") {
		t.Error("raw key leaked into audit log")
	}
}

func TestResolver_SchemeNotEnabled(t *testing.T) {
	r := NewResolver(nil, []Authenticator{NewStaticKeyAuthenticator(testAccounts(t))})
	_, err := r.Resolve(context.Background(), signedRequest(t, "AKIDACME", "acme-secret", nil, signTime))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Resolve() error = %v, want ErrUnauthenticated", err)
	}
}

func TestNamespaceAuthorizer(t *testing.T) {
	p := &Principal{ID: "acct_acme", Namespaces: []string{"acme", "acme-*"}}
	authz := NamespaceAuthorizer{}
	ctx := context.Background()

	for _, ns := range []string{"acme", "acme-docs"} {
		if err := authz.Authorize(ctx, &AuthzRequest{Subject: p, Namespace: ns, Action: ActionRead}); err != nil {
			t.Errorf("Authorize(%s) error = %v", ns, err)
		}
	}
	err := authz.Authorize(ctx, &AuthzRequest{Subject: p, Namespace: "globex", Action: ActionWrite})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("Authorize(globex) error = %v, want ErrForbidden", err)
	}
	if err := authz.Authorize(ctx, &AuthzRequest{Namespace: "acme"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("Authorize(no subject) error = %v, want ErrForbidden", err)
	}
}

func TestPrincipal_DefaultNamespace(t *testing.T) {
	tests := []struct {
		namespaces []string
		want       string
	}{
		{[]string{"acme-*", "acme"}, "acme"},
		{[]string{"*"}, "acct"},
		{nil, "acct"},
	}
	for _, tt := range tests {
		p := &Principal{ID: "acct", Namespaces: tt.namespaces}
		if got := p.DefaultNamespace(); got != tt.want {
			t.Errorf("DefaultNamespace(%v) = %q, want %q", tt.namespaces, got, tt.want)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if PrincipalFromContext(ctx) != nil {
		t.Error("empty context returned a principal")
	}
	p := &Principal{ID: "acct"}
	if got := PrincipalFromContext(WithPrincipal(ctx, p)); got != p {
		t.Errorf("PrincipalFromContext() = %v, want %v", got, p)
	}
}

func TestPrincipal_CanAccessWithoutPatterns(t *testing.T) {
	p := &Principal{ID: "globex"}
	if got := p.DefaultNamespace(); got != "globex" {
		t.Errorf("DefaultNamespace() = %q, want globex", got)
	}
	if !p.CanAccess("globex") {
		t.Error("CanAccess(globex) = false, want true")
	}
	if p.CanAccess("acme") {
		t.Error("CanAccess(acme) = true, want false")
	}
}
