// Package resilience provides the failure-handling primitives cachegate uses
// around everything that leaves the process.
//
//   - Timeout bounds each listener check and webhook delivery.
//   - RateLimiter paces outbound origin fetches.
//   - Retry re-sends webhooks with backoff, honoring Retry-After hints.
//   - Bulkhead caps concurrent bulk invalidations.
//   - CircuitBreaker fails fast when the shared counter store is down.
//
// Executor composes them in a fixed order: rate limit, bulkhead, breaker,
// retry, timeout.
package resilience
