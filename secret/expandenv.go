package secret

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// ExpandEnv replaces every ${VAR} in s using os.LookupEnv. A bare $ is
// left alone so secrets containing dollar signs survive; $$ still yields $.
func ExpandEnv(s string) (string, error) {
	return ExpandEnvWith(s, os.LookupEnv)
}

// ExpandEnvWith is ExpandEnv with a custom lookup. Every missing variable
// is reported at once.
func ExpandEnvWith(s string, lookup LookupFunc) (string, error) {
	const dollar = "\x00cachegate-dollar\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := m[2 : len(m)-1]
		v, ok := lookup(key)
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return strings.ReplaceAll(out, dollar, "$"), nil
}
