// Package webhook delivers listener change notifications.
//
// HTTPNotifier posts the JSON notification and signs it with an HS256 JWT
// in the X-Cachegate-Signature header; the token carries the SHA-256 of
// the body so receivers can verify both origin and integrity with Verify.
// Delivery is at-most-once per attempt budget: transient failures are
// retried a bounded number of times, then dropped.
//
// Queue moves delivery out of the scheduler into asynq workers, and Handler
// is the worker side.
package webhook
