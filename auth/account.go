package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAccountNotFound is returned by AccountStore lookups that miss.
var ErrAccountNotFound = errors.New("auth: account not found")

// AccessKey is a SigV4 key pair.
type AccessKey struct {
	ID     string `yaml:"id" json:"id"`
	Secret string `yaml:"secret" json:"-"`
}

// Account is the stored record a credential resolves to.
type Account struct {
	ID         string      `yaml:"id" json:"id"`
	PlanTier   string      `yaml:"plan" json:"plan"`
	Namespaces []string    `yaml:"namespaces" json:"namespaces"`
	KeyHashes  []string    `yaml:"key_hashes" json:"-"`
	AccessKeys []AccessKey `yaml:"access_keys" json:"-"`
	Disabled   bool        `yaml:"disabled" json:"disabled"`
}

// AccountStore looks up accounts by credential.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: a miss returns ErrAccountNotFound; other errors are internal.
type AccountStore interface {
	// LookupKeyHash finds the account owning a static key's SHA-256 hash.
	LookupKeyHash(ctx context.Context, keyHash string) (*Account, error)

	// LookupAccessKey finds the account owning a SigV4 access key and
	// returns its secret.
	LookupAccessKey(ctx context.Context, accessKeyID string) (*Account, string, error)
}

// MemoryAccountStore is an in-memory AccountStore loaded from configuration.
type MemoryAccountStore struct {
	mu         sync.RWMutex
	byHash     map[string]*Account
	byAccessID map[string]accessEntry
}

type accessEntry struct {
	account *Account
	secret  string
}

// NewMemoryAccountStore creates a store holding accounts.
func NewMemoryAccountStore(accounts ...Account) (*MemoryAccountStore, error) {
	s := &MemoryAccountStore{
		byHash:     make(map[string]*Account),
		byAccessID: make(map[string]accessEntry),
	}
	for _, a := range accounts {
		if err := s.Add(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers an account and indexes its credentials. An account with no
// namespaces owns the namespace named after its ID.
func (s *MemoryAccountStore) Add(a Account) error {
	if a.ID == "" {
		return errors.New("auth: account id is required")
	}
	if len(a.Namespaces) == 0 {
		a.Namespaces = []string{a.ID}
	}
	acct := &a

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range a.KeyHashes {
		if other, ok := s.byHash[h]; ok && other.ID != a.ID {
			return fmt.Errorf("auth: key hash registered to both %s and %s", other.ID, a.ID)
		}
	}
	for _, k := range a.AccessKeys {
		if k.ID == "" || k.Secret == "" {
			return fmt.Errorf("auth: account %s: access key needs id and secret", a.ID)
		}
		if other, ok := s.byAccessID[k.ID]; ok && other.account.ID != a.ID {
			return fmt.Errorf("auth: access key %s registered to both %s and %s", k.ID, other.account.ID, a.ID)
		}
	}
	for _, h := range a.KeyHashes {
		s.byHash[h] = acct
	}
	for _, k := range a.AccessKeys {
		s.byAccessID[k.ID] = accessEntry{account: acct, secret: k.Secret}
	}
	return nil
}

// LookupKeyHash implements AccountStore.
func (s *MemoryAccountStore) LookupKeyHash(_ context.Context, keyHash string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byHash[keyHash]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

// LookupAccessKey implements AccountStore.
func (s *MemoryAccountStore) LookupAccessKey(_ context.Context, accessKeyID string) (*Account, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byAccessID[accessKeyID]
	if !ok {
		return nil, "", ErrAccountNotFound
	}
	return e.account, e.secret, nil
}

var _ AccountStore = (*MemoryAccountStore)(nil)
