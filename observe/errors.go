package observe

import "errors"

// Configuration errors.
var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample percentage must be between 0.0 and 1.0")
	ErrInvalidTracingExporter = errors.New("observe: invalid tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: invalid metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: invalid log level")
	ErrInvalidLogFormat       = errors.New("observe: invalid log format")
)

// RedactedFields lists field keys whose values never reach the log output.
var RedactedFields = []string{
	"payload",
	"password",
	"secret",
	"secret_access_key",
	"token",
	"api_key",
	"apiKey",
	"credential",
	"authorization",
	"signature",
}
