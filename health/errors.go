package health

import "errors"

// Errors carried in Result.Error or returned by the aggregator.
var (
	ErrUnreachable     = errors.New("health: backend unreachable")
	ErrMemoryCritical  = errors.New("health: memory above critical threshold")
	ErrCheckTimeout    = errors.New("health: check timeout")
	ErrCheckerNotFound = errors.New("health: checker not found")
)
