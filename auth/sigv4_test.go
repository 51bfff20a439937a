package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
)

var signTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// signedRequest signs a client request and returns the server-side view of it.
func signedRequest(t *testing.T, accessKey, secret string, body []byte, at time.Time) *AuthRequest {
	t.Helper()
	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://cachegate.test/cache/get?trace=1", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	provider := credentials.NewStaticCredentialsProvider(accessKey, secret, "")
	if err := SignRequest(ctx, req, body, provider, "us-east-1", at); err != nil {
		t.Fatalf("SignRequest() error = %v", err)
	}

	serverURL, err := url.Parse(req.URL.RequestURI())
	if err != nil {
		t.Fatal(err)
	}
	header := req.Header.Clone()
	header.Set("User-Agent", "test-client/1.0")
	return &AuthRequest{
		Method: req.Method,
		Host:   req.Host,
		URL:    serverURL,
		Header: header,
		Body:   body,
	}
}

func newTestSigV4(t *testing.T, now time.Time) *SigV4Authenticator {
	return NewSigV4Authenticator(SigV4Config{Now: func() time.Time { return now }}, testAccounts(t))
}

func authenticateSigned(t *testing.T, a *SigV4Authenticator, req *AuthRequest) *AuthResult {
	t.Helper()
	cred, err := ParseCredential(req)
	if err != nil {
		t.Fatalf("ParseCredential() error = %v", err)
	}
	res, err := a.Authenticate(context.Background(), req, cred)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	return res
}

func TestSigV4Authenticator_Valid(t *testing.T) {
	a := newTestSigV4(t, signTime.Add(time.Minute))
	req := signedRequest(t, "AKIDACME", "acme-secret", []byte(`{"provider":"openai"}`), signTime)

	res := authenticateSigned(t, a, req)
	if !res.Authenticated {
		t.Fatalf("Authenticated = false, error = %v", res.Error)
	}
	if res.Account.ID != "acct_acme" || res.Kind != KindSignatureV4 {
		t.Errorf("result = %+v", res)
	}
}

func TestSigV4Authenticator_EmptyBody(t *testing.T) {
	a := newTestSigV4(t, signTime)
	req := signedRequest(t, "AKIDACME", "acme-secret", nil, signTime)
	if res := authenticateSigned(t, a, req); !res.Authenticated {
		t.Fatalf("Authenticated = false, error = %v", res.Error)
	}
}

func TestSigV4Authenticator_Rejects(t *testing.T) {
	body := []byte(`{"provider":"openai"}`)

	tests := []struct {
		name    string
		now     time.Time
		req     func(t *testing.T) *AuthRequest
		wantErr error
	}{
		{
			name: "tampered body",
			now:  signTime,
			req: func(t *testing.T) *AuthRequest {
				r := signedRequest(t, "AKIDACME", "acme-secret", body, signTime)
				r.Body = []byte(`{"provider":"evil!"}`)
				return r
			},
			wantErr: ErrSignatureMismatch,
		},
		{
			name: "tampered path",
			now:  signTime,
			req: func(t *testing.T) *AuthRequest {
				r := signedRequest(t, "AKIDACME", "acme-secret", body, signTime)
				r.URL.Path = "/cache/invalidate"
				return r
			},
			wantErr: ErrSignatureMismatch,
		},
		{
			name: "wrong secret",
			now:  signTime,
			req: func(t *testing.T) *AuthRequest {
				return signedRequest(t, "AKIDACME", "not-the-secret", body, signTime)
			},
			wantErr: ErrSignatureMismatch,
		},
		{
			name: "unknown access key",
			now:  signTime,
			req: func(t *testing.T) *AuthRequest {
				return signedRequest(t, "AKIDNOBODY", "whatever", body, signTime)
			},
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "too old",
			now:  signTime.Add(6 * time.Minute),
			req: func(t *testing.T) *AuthRequest {
				return signedRequest(t, "AKIDACME", "acme-secret", body, signTime)
			},
			wantErr: ErrRequestExpired,
		},
		{
			name: "from the future",
			now:  signTime.Add(-6 * time.Minute),
			req: func(t *testing.T) *AuthRequest {
				return signedRequest(t, "AKIDACME", "acme-secret", body, signTime)
			},
			wantErr: ErrRequestExpired,
		},
		{
			name: "signed header dropped",
			now:  signTime,
			req: func(t *testing.T) *AuthRequest {
				r := signedRequest(t, "AKIDACME", "acme-secret", body, signTime)
				r.Header.Del("Content-Type")
				return r
			},
			wantErr: ErrMalformedSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := authenticateSigned(t, newTestSigV4(t, tt.now), tt.req(t))
			if res.Authenticated {
				t.Fatal("Authenticated = true, want rejection")
			}
			if !errors.Is(res.Error, tt.wantErr) {
				t.Errorf("Error = %v, want %v", res.Error, tt.wantErr)
			}
		})
	}
}

func TestSigV4Authenticator_RegionPinned(t *testing.T) {
	a := NewSigV4Authenticator(SigV4Config{
		Region: "eu-west-1",
		Now:    func() time.Time { return signTime },
	}, testAccounts(t))
	req := signedRequest(t, "AKIDACME", "acme-secret", nil, signTime)
	if res := authenticateSigned(t, a, req); res.Authenticated || !errors.Is(res.Error, ErrInvalidCredentials) {
		t.Errorf("result = %+v, want region rejection", res)
	}
}
