package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/cache"
	"github.com/jonwraymond/cachegate/invalidation"
	"github.com/jonwraymond/cachegate/listener"
	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/quota"
	"github.com/jonwraymond/cachegate/resilience"
)

// Error codes in response bodies.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthenticated    = "unauthenticated"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeQuotaExceeded      = "quota_exceeded"
	CodeRateLimited        = "rate_limited"
	CodeListenerLimit      = "listener_limit_reached"
	CodeUpstreamFailed     = "upstream_fetch_failed"
	CodeServiceUnavailable = "service_unavailable"
	CodeInternal           = "internal_error"
)

// errValidation marks request decoding failures.
var errValidation = errors.New("server: invalid request")

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errValidation}, args...)...)
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error APIError `json:"error"`
}

// APIError is a machine-parseable failure. Remediation fields are set for
// quota and rate errors.
type APIError struct {
	Code              string     `json:"code"`
	Message           string     `json:"message"`
	Limit             int64      `json:"limit,omitempty"`
	Used              int64      `json:"used,omitempty"`
	ResetAt           *time.Time `json:"reset_at,omitempty"`
	RetryAfterSeconds int64      `json:"retry_after_seconds,omitempty"`
}

// classify maps an error to a status and body. Internal details are not
// exposed for 5xx responses.
func classify(err error) (int, APIError) {
	var exceeded *quota.ExceededError
	var limited *quota.RateLimitedError

	switch {
	case errors.As(err, &exceeded):
		reset := exceeded.ResetAt.UTC()
		return http.StatusTooManyRequests, APIError{
			Code:    CodeQuotaExceeded,
			Message: "monthly quota exhausted; upgrade the plan or wait for the reset",
			Limit:   exceeded.Limit,
			Used:    exceeded.Used,
			ResetAt: &reset,
		}
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, APIError{
			Code:              CodeRateLimited,
			Message:           "per-minute rate limit exceeded; retry after the indicated delay",
			Limit:             limited.Limit,
			RetryAfterSeconds: int64(limited.RetryAfter() / time.Second),
		}
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, APIError{Code: CodeUnauthenticated, Message: err.Error()}
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, APIError{Code: CodeForbidden, Message: "namespace not accessible to this credential"}
	case errors.Is(err, listener.ErrLimitReached):
		return http.StatusForbidden, APIError{Code: CodeListenerLimit, Message: err.Error()}
	case errors.Is(err, listener.ErrNotFound), errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound, APIError{Code: CodeNotFound, Message: "not found"}
	case errors.Is(err, errValidation),
		errors.Is(err, cache.ErrInvalidDescriptor),
		errors.Is(err, cache.ErrInvalidNamespace),
		errors.Is(err, cache.ErrInvalidTTL),
		errors.Is(err, cache.ErrInvalidPattern),
		errors.Is(err, invalidation.ErrInvalidCriteria),
		errors.Is(err, listener.ErrInvalidURL),
		errors.Is(err, listener.ErrIntervalTooShort):
		return http.StatusBadRequest, APIError{Code: CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, listener.ErrFetchFailed):
		return http.StatusBadGateway, APIError{Code: CodeUpstreamFailed, Message: "origin fetch failed"}
	case errors.Is(err, cache.ErrStoreUnavailable),
		errors.Is(err, quota.ErrCounterUnavailable),
		errors.Is(err, listener.ErrStoreUnavailable),
		errors.Is(err, resilience.ErrBulkheadFull),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, APIError{Code: CodeServiceUnavailable, Message: "backend temporarily unavailable"}
	default:
		return http.StatusInternalServerError, APIError{Code: CodeInternal, Message: "internal error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	switch status {
	case http.StatusTooManyRequests:
		if body.ResetAt != nil {
			w.Header().Set("X-Quota-Reset", body.ResetAt.Format(time.RFC3339))
		}
		if body.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(body.RetryAfterSeconds, 10))
		}
	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusBadGateway:
		s.logger.Error(r.Context(), "request failed",
			observe.F("path", r.URL.Path),
			observe.F("status", status),
			observe.F("error", err),
		)
	}
	writeJSON(w, status, ErrorBody{Error: body})
}
