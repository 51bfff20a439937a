// Package cache provides the entry store behind cachegate.
//
// It derives fixed-length fingerprints from request descriptors, defines the
// Store contract with combinable DeleteWhere criteria, resolves TTL defaults
// per namespace and content class, and ships memory, Redis and bbolt backed
// stores.
package cache
