// Package server exposes cachegate over HTTP.
//
// Every route except the probes and /metrics runs through the same chain:
// access log, authentication, then (for metered routes) the quota guard.
// Nothing touches the entry store before authentication and the quota
// check have both passed.
//
//	POST   /cache/get
//	POST   /cache/set
//	POST   /cache/invalidate
//	POST   /listeners
//	GET    /listeners
//	GET    /listeners/{id}
//	DELETE /listeners/{id}
//	POST   /listeners/{id}/enable
//	GET    /stats            (authenticated, not metered)
//
// Errors are JSON: {"error": {"code": ..., "message": ..., ...}}.
package server
