package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FingerprintLength is the length of every fingerprint in hex characters.
const FingerprintLength = sha256.Size * 2

// fingerprintVersion is folded into the digest so a canonicalization change
// never aliases old entries.
const fingerprintVersion = 1

// Message is one element of the ordered conversation sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Descriptor identifies a cacheable upstream request.
type Descriptor struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Params    map[string]any `json:"params,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
}

// Validate reports the first missing or malformed field.
func (d Descriptor) Validate() error {
	switch {
	case strings.TrimSpace(d.Provider) == "":
		return fmt.Errorf("%w: provider is required", ErrInvalidDescriptor)
	case strings.TrimSpace(d.Model) == "":
		return fmt.Errorf("%w: model is required", ErrInvalidDescriptor)
	case len(d.Messages) == 0:
		return fmt.Errorf("%w: at least one message is required", ErrInvalidDescriptor)
	}
	for i, m := range d.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return fmt.Errorf("%w: messages[%d].role is required", ErrInvalidDescriptor, i)
		}
		if m.Content == nil {
			return fmt.Errorf("%w: messages[%d].content is required", ErrInvalidDescriptor, i)
		}
	}
	if err := ValidateNamespace(d.Namespace); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return nil
}

// Fingerprinter derives deterministic fingerprints from descriptors.
//
// Contract:
// - Determinism: equal descriptors after canonicalization yield equal
// fingerprints regardless of map order or whitespace runs.
// - Namespace is part of the digest input.
// - Concurrency: implementations must be safe for concurrent use.
type Fingerprinter interface {
	Fingerprint(d Descriptor) (string, error)
}

// DefaultFingerprinter hashes a canonical JSON form of the descriptor with
// SHA-256.
type DefaultFingerprinter struct{}

// NewFingerprinter creates a default fingerprinter.
func NewFingerprinter() *DefaultFingerprinter {
	return &DefaultFingerprinter{}
}

// Fingerprint returns the hex SHA-256 digest of the canonical descriptor.
func (f *DefaultFingerprinter) Fingerprint(d Descriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}

	canonical, err := canonicalize(canonicalDescriptor(d))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalDescriptor normalizes the fields that must not affect the digest.
func canonicalDescriptor(d Descriptor) map[string]any {
	messages := make([]any, len(d.Messages))
	for i, m := range d.Messages {
		msg := map[string]any{
			"role":    strings.ToLower(strings.TrimSpace(m.Role)),
			"content": normalizeValue(m.Content),
		}
		if m.Name != "" {
			msg["name"] = strings.TrimSpace(m.Name)
		}
		messages[i] = msg
	}

	params := make(map[string]any, len(d.Params))
	for k, v := range d.Params {
		params[k] = normalizeValue(v)
	}

	return map[string]any{
		"v":         fingerprintVersion,
		"namespace": d.Namespace,
		"provider":  strings.ToLower(strings.TrimSpace(d.Provider)),
		"model":     strings.ToLower(strings.TrimSpace(d.Model)),
		"messages":  messages,
		"params":    params,
	}
}

// normalizeValue collapses whitespace runs in strings and walks containers.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return strings.Join(strings.Fields(val), " ")
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, '}'), nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}
		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, ']'), nil
}

var _ Fingerprinter = (*DefaultFingerprinter)(nil)
