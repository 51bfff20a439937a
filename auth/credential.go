package auth

import (
	"fmt"
	"strings"
	"time"
)

// CredentialKind names a credential scheme.
type CredentialKind string

const (
	KindStaticKey   CredentialKind = "static_key"
	KindSignatureV4 CredentialKind = "signature_v4"
)

// Header names inspected by ParseCredential.
const (
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"
	HeaderAmzDate       = "X-Amz-Date"
)

// SigV4Algorithm is the Authorization scheme of signed requests.
const SigV4Algorithm = "AWS4-HMAC-SHA256"

const amzDateFormat = "20060102T150405Z"

// Credential is a parsed credential. The set of implementations is closed:
// StaticKey and SignatureV4.
type Credential interface {
	Kind() CredentialKind
	credential()
}

// StaticKey is a prefixed opaque API key.
type StaticKey struct {
	Token string
}

// Kind returns KindStaticKey.
func (StaticKey) Kind() CredentialKind { return KindStaticKey }
func (StaticKey) credential()          {}

// SignatureV4 holds the fields of a SigV4 Authorization header.
type SignatureV4 struct {
	AccessKeyID   string
	Date          string // YYYYMMDD from the credential scope
	Region        string
	Service       string
	SignedHeaders []string
	Signature     string
	Timestamp     time.Time // from X-Amz-Date
}

// Kind returns KindSignatureV4.
func (SignatureV4) Kind() CredentialKind { return KindSignatureV4 }
func (SignatureV4) credential()          {}

// ParseCredential inspects the request headers and returns exactly one
// credential. No header yields ErrMissingCredentials; a static key alongside
// a signature yields ErrAmbiguousCredentials.
func ParseCredential(req *AuthRequest) (Credential, error) {
	apiKey := strings.TrimSpace(req.Header.Get(HeaderAPIKey))
	authz := strings.TrimSpace(req.Header.Get(HeaderAuthorization))

	var bearer, signed string
	switch {
	case authz == "":
	case strings.HasPrefix(authz, SigV4Algorithm+" "):
		signed = strings.TrimSpace(authz[len(SigV4Algorithm):])
	case len(authz) > 7 && strings.EqualFold(authz[:7], "bearer "):
		bearer = strings.TrimSpace(authz[7:])
	default:
		return nil, fmt.Errorf("%w: unsupported authorization scheme", ErrInvalidCredentials)
	}

	present := 0
	for _, v := range []string{apiKey, bearer, signed} {
		if v != "" {
			present++
		}
	}
	switch {
	case present == 0:
		return nil, ErrMissingCredentials
	case present > 1:
		return nil, ErrAmbiguousCredentials
	case apiKey != "":
		return StaticKey{Token: apiKey}, nil
	case bearer != "":
		return StaticKey{Token: bearer}, nil
	}
	return parseSigV4(signed, req.Header.Get(HeaderAmzDate))
}

// parseSigV4 parses "Credential=AKID/date/region/service/aws4_request,
// SignedHeaders=a;b, Signature=hex".
func parseSigV4(params, amzDate string) (SignatureV4, error) {
	var sig SignatureV4
	var scope string
	for _, part := range strings.Split(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return sig, fmt.Errorf("%w: bad component %q", ErrMalformedSignature, part)
		}
		switch k {
		case "Credential":
			scope = v
		case "SignedHeaders":
			sig.SignedHeaders = strings.Split(v, ";")
		case "Signature":
			sig.Signature = v
		}
	}

	fields := strings.Split(scope, "/")
	if len(fields) != 5 || fields[4] != "aws4_request" {
		return sig, fmt.Errorf("%w: bad credential scope", ErrMalformedSignature)
	}
	sig.AccessKeyID, sig.Date, sig.Region, sig.Service = fields[0], fields[1], fields[2], fields[3]
	if sig.AccessKeyID == "" || sig.Signature == "" || len(sig.SignedHeaders) == 0 {
		return sig, fmt.Errorf("%w: missing credential, signed headers or signature", ErrMalformedSignature)
	}

	if amzDate == "" {
		return sig, fmt.Errorf("%w: missing %s", ErrMalformedSignature, HeaderAmzDate)
	}
	ts, err := time.Parse(amzDateFormat, amzDate)
	if err != nil {
		return sig, fmt.Errorf("%w: bad %s", ErrMalformedSignature, HeaderAmzDate)
	}
	if ts.Format("20060102") != sig.Date {
		return sig, fmt.Errorf("%w: scope date does not match %s", ErrMalformedSignature, HeaderAmzDate)
	}
	sig.Timestamp = ts
	return sig, nil
}
