package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Static key prefixes. Live keys are quota- and rate-enforced; demo keys
// skip the per-minute limit but still count against the monthly quota.
const (
	LiveKeyPrefix = "ac_live_"
	DemoKeyPrefix = "ac_demo_"
)

const keyEntropyBytes = 24

// StaticKeyAuthenticator validates prefixed API keys by SHA-256 hash lookup.
type StaticKeyAuthenticator struct {
	store AccountStore
}

// NewStaticKeyAuthenticator creates a static key authenticator.
func NewStaticKeyAuthenticator(store AccountStore) *StaticKeyAuthenticator {
	return &StaticKeyAuthenticator{store: store}
}

// Name returns "static_key".
func (a *StaticKeyAuthenticator) Name() string { return string(KindStaticKey) }

// Supports returns true for StaticKey credentials.
func (a *StaticKeyAuthenticator) Supports(cred Credential) bool {
	_, ok := cred.(StaticKey)
	return ok
}

// Authenticate checks the key prefix before touching the store.
func (a *StaticKeyAuthenticator) Authenticate(ctx context.Context, _ *AuthRequest, cred Credential) (*AuthResult, error) {
	key, ok := cred.(StaticKey)
	if !ok || key.Token == "" {
		return AuthFailure(ErrMissingCredentials, KindStaticKey), nil
	}

	var trial bool
	switch {
	case strings.HasPrefix(key.Token, LiveKeyPrefix):
	case strings.HasPrefix(key.Token, DemoKeyPrefix):
		trial = true
	default:
		return AuthFailure(ErrUnknownKeyPrefix, KindStaticKey), nil
	}

	acct, err := a.store.LookupKeyHash(ctx, HashAPIKey(key.Token))
	if errors.Is(err, ErrAccountNotFound) {
		return AuthFailure(ErrInvalidCredentials, KindStaticKey), nil
	}
	if err != nil {
		return nil, err
	}
	if acct.Disabled {
		return AuthFailure(ErrAccountDisabled, KindStaticKey), nil
	}

	res := AuthSuccess(acct, KindStaticKey)
	res.Trial = trial
	return res, nil
}

// HashAPIKey hashes an API key using SHA-256 for storage.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GenerateKey returns a new random key with the live or demo prefix and the
// hash to store for it.
func GenerateKey(demo bool) (key, hash string, err error) {
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	prefix := LiveKeyPrefix
	if demo {
		prefix = DemoKeyPrefix
	}
	key = prefix + hex.EncodeToString(buf)
	return key, HashAPIKey(key), nil
}

var _ Authenticator = (*StaticKeyAuthenticator)(nil)
