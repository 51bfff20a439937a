// Package listener watches external URLs and invalidates dependent cache
// entries when their content changes.
//
// Registry owns the request-facing lifecycle (register, list, get, delete,
// re-enable) and enforces plan floors on interval and listener count at
// registration time. Scheduler runs the checks: a cron trigger pulls due
// listeners from the Store and a bounded worker pool fetches each one
// under its own timeout. Content is compared by SemanticHash, which
// ignores markup, scripts and timestamps.
//
// State machine:
//
//	active --(failure streak)--> paused --(Enable)--> active
//	active|paused --(Delete)--> deleted
package listener
