// Package quota enforces per-principal monthly volume and per-minute rate
// limits.
//
// Counters live behind CounterStore so every replica shares one view. The
// check and the increment are a single atomic step: a request that is
// rejected is never counted.
package quota
