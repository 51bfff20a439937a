// Package secret resolves secret values referenced from configuration.
//
// A configured value may be:
//   - a literal, returned unchanged apart from ${VAR} expansion;
//   - ${VAR}, expanded from the environment, failing when VAR is unset;
//   - secretref:<provider>:<ref>, looked up in a registered Provider.
//
// The built-in providers are "env" (an environment variable by name) and
// "file" (a file under a fixed directory, such as /run/secrets).
package secret
