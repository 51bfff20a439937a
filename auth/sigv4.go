package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// Signing defaults.
const (
	DefaultSigV4Service = "cachegate"
	DefaultMaxClockSkew = 5 * time.Minute
)

// SigV4Config configures signature verification.
type SigV4Config struct {
	// Service must match the credential scope. Default "cachegate".
	Service string

	// Region, when set, must match the credential scope.
	Region string

	// MaxSkew bounds |now - X-Amz-Date|. Default 5m.
	MaxSkew time.Duration

	// Now replaces time.Now.
	Now func() time.Time
}

// SigV4Authenticator verifies AWS Signature Version 4 signed requests by
// recomputing the signature from the account's secret.
type SigV4Authenticator struct {
	cfg    SigV4Config
	store  AccountStore
	signer *v4.Signer
}

// NewSigV4Authenticator creates a SigV4 authenticator.
func NewSigV4Authenticator(cfg SigV4Config, store AccountStore) *SigV4Authenticator {
	if cfg.Service == "" {
		cfg.Service = DefaultSigV4Service
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = DefaultMaxClockSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SigV4Authenticator{cfg: cfg, store: store, signer: v4.NewSigner()}
}

// Name returns "signature_v4".
func (a *SigV4Authenticator) Name() string { return string(KindSignatureV4) }

// Supports returns true for SignatureV4 credentials.
func (a *SigV4Authenticator) Supports(cred Credential) bool {
	_, ok := cred.(SignatureV4)
	return ok
}

// Authenticate rejects requests outside the skew window before looking up
// the secret, then compares signatures in constant time.
func (a *SigV4Authenticator) Authenticate(ctx context.Context, req *AuthRequest, cred Credential) (*AuthResult, error) {
	sig, ok := cred.(SignatureV4)
	if !ok {
		return AuthFailure(ErrMissingCredentials, KindSignatureV4), nil
	}
	if sig.Service != a.cfg.Service {
		return AuthFailure(fmt.Errorf("%w: service %q", ErrInvalidCredentials, sig.Service), KindSignatureV4), nil
	}
	if a.cfg.Region != "" && sig.Region != a.cfg.Region {
		return AuthFailure(fmt.Errorf("%w: region %q", ErrInvalidCredentials, sig.Region), KindSignatureV4), nil
	}

	skew := a.cfg.Now().Sub(sig.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.cfg.MaxSkew {
		return AuthFailure(ErrRequestExpired, KindSignatureV4), nil
	}

	acct, secret, err := a.store.LookupAccessKey(ctx, sig.AccessKeyID)
	if errors.Is(err, ErrAccountNotFound) {
		return AuthFailure(ErrInvalidCredentials, KindSignatureV4), nil
	}
	if err != nil {
		return nil, err
	}

	expected, err := a.expectedSignature(ctx, req, sig, secret)
	if err != nil {
		return AuthFailure(err, KindSignatureV4), nil
	}
	if !hmac.Equal([]byte(expected), []byte(sig.Signature)) {
		return AuthFailure(ErrSignatureMismatch, KindSignatureV4), nil
	}
	if acct.Disabled {
		return AuthFailure(ErrAccountDisabled, KindSignatureV4), nil
	}
	return AuthSuccess(acct, KindSignatureV4), nil
}

// expectedSignature re-signs a copy of the request carrying only the headers
// the client signed.
func (a *SigV4Authenticator) expectedSignature(ctx context.Context, req *AuthRequest, sig SignatureV4, secret string) (string, error) {
	u := *req.URL
	clone := &http.Request{
		Method: req.Method,
		URL:    &u,
		Host:   req.Host,
		Header: make(http.Header, len(sig.SignedHeaders)),
	}
	for _, name := range sig.SignedHeaders {
		switch name {
		case "host":
			continue
		case "content-length":
			clone.ContentLength = int64(len(req.Body))
			continue
		}
		vals := req.Header.Values(name)
		if len(vals) == 0 {
			return "", fmt.Errorf("%w: signed header %q not present", ErrMalformedSignature, name)
		}
		clone.Header[http.CanonicalHeaderKey(name)] = vals
	}

	creds := aws.Credentials{AccessKeyID: sig.AccessKeyID, SecretAccessKey: secret}
	if err := a.signer.SignHTTP(ctx, creds, clone, PayloadHash(req.Body), sig.Service, sig.Region, sig.Timestamp); err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}

	resigned, err := parseSigV4(strings.TrimPrefix(clone.Header.Get(HeaderAuthorization), SigV4Algorithm+" "), clone.Header.Get(HeaderAmzDate))
	if err != nil {
		return "", err
	}
	if !slices.Equal(resigned.SignedHeaders, sig.SignedHeaders) {
		return "", fmt.Errorf("%w: signed header set differs", ErrSignatureMismatch)
	}
	return resigned.Signature, nil
}

// PayloadHash returns the hex SHA-256 of body.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SignRequest signs r for cachegate with credentials from provider. body
// must be the exact bytes r will send.
func SignRequest(ctx context.Context, r *http.Request, body []byte, provider aws.CredentialsProvider, region string, at time.Time) error {
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("auth: retrieve credentials: %w", err)
	}
	r.ContentLength = int64(len(body))
	return v4.NewSigner().SignHTTP(ctx, creds, r, PayloadHash(body), DefaultSigV4Service, region, at)
}

var _ Authenticator = (*SigV4Authenticator)(nil)
