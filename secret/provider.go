package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider resolves secrets by reference.
//
// Implementations must be safe for concurrent use and must not log secret
// values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvProvider reads secrets from environment variables, optionally under a
// common prefix: with prefix "CACHEGATE_SECRET_", ref "webhook_key" reads
// CACHEGATE_SECRET_WEBHOOK_KEY.
type EnvProvider struct {
	prefix string
	lookup LookupFunc
}

// NewEnvProvider creates an env provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix, lookup: os.LookupEnv}
}

// Name returns "env".
func (p *EnvProvider) Name() string { return "env" }

// Resolve reads the variable.
func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	key := p.prefix + ref
	if p.prefix != "" {
		key = strings.ToUpper(key)
	}
	v, ok := p.lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, key)
	}
	return v, nil
}

// FileProvider reads secrets from files under a directory. A single
// trailing newline is trimmed.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a file provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// Name returns "file".
func (p *FileProvider) Name() string { return "file" }

// Resolve reads dir/ref. References that escape dir are rejected.
func (p *FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	if ref == "" || filepath.IsAbs(ref) || !filepath.IsLocal(ref) {
		return "", fmt.Errorf("%w: file ref %q", ErrInvalidRef, ref)
	}
	b, err := os.ReadFile(filepath.Join(p.dir, ref))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", err
	}
	v := strings.TrimSuffix(string(b), "\n")
	return strings.TrimSuffix(v, "\r"), nil
}

var (
	_ Provider = (*EnvProvider)(nil)
	_ Provider = (*FileProvider)(nil)
)
