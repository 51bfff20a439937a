// Package config loads cachegate configuration.
//
// Values come from three layers, later layers winning:
//
//  1. built-in defaults (Default)
//  2. an optional YAML file
//  3. CACHEGATE_* environment variables
//
// Structured data (plan tiers, freshness rules, TTL policy, accounts) lives
// in the YAML file only. Secret-bearing fields accept ${VAR} and
// secretref:<provider>:<ref>; they are resolved after all layers are
// merged.
package config
