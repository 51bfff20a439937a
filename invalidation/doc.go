// Package invalidation removes cache entries in bulk.
//
// Invalidate accepts any non-empty combination of namespace, key pattern,
// age and source URL. An unscoped call is rejected rather than wiping the
// cache. Requests on behalf of a principal are confined to the principal's
// namespaces, and every call is written to the audit log with its outcome.
package invalidation
