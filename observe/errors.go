package observe

import (
	"errors"

	"github.com/billenewman4/itemcache/observe/exporters"
)

// Configuration errors.
var (
	// ErrMissingServiceName indicates Config.ServiceName is empty.
	ErrMissingServiceName = errors.New("observe: service name is required")

	// ErrInvalidSamplePct indicates Tracing.SamplePct is not in [0.0, 1.0].
	ErrInvalidSamplePct = errors.New("observe: sample percentage must be between 0.0 and 1.0")

	// ErrInvalidTracingExporter indicates an unknown tracing exporter name.
	ErrInvalidTracingExporter = errors.New("observe: unknown tracing exporter")

	// ErrInvalidMetricsExporter indicates an unknown metrics exporter name.
	ErrInvalidMetricsExporter = errors.New("observe: unknown metrics exporter")

	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("observe: unknown log level")
)

// Runtime errors.
var (
	// ErrNilObserver indicates a nil Observer was provided.
	ErrNilObserver = errors.New("observe: observer is nil")

	// ErrMissingCollection indicates CycleMeta.Collection is empty.
	ErrMissingCollection = errors.New("observe: collection is required")
)

// ErrEndpointNotConfigured indicates a required endpoint environment variable
// is not set. Re-exported from the exporters package so callers can match it
// without importing both packages.
var ErrEndpointNotConfigured = exporters.ErrEndpointNotConfigured

// Sampling bounds for TracingConfig.SamplePct.
const (
	// MinSamplePct is the minimum valid sampling percentage.
	MinSamplePct = 0.0
	// MaxSamplePct is the maximum valid sampling percentage.
	MaxSamplePct = 1.0
)

// ValidTracingExporters lists valid tracing exporter names.
var ValidTracingExporters = []string{"otlp", "jaeger", "stdout", "none", ""}

// ValidMetricsExporters lists valid metrics exporter names.
var ValidMetricsExporters = []string{"otlp", "prometheus", "stdout", "none", ""}

// ValidLogLevels lists valid log level names.
var ValidLogLevels = []string{"debug", "info", "warn", "error", ""}

// RedactedFields lists field keys that are automatically redacted in logs.
// Cached payloads are opaque to this system and may carry credentials or
// commercially sensitive values, so they never appear in log output.
var RedactedFields = []string{
	"payload",
	"item_data",
	"password",
	"secret",
	"token",
	"api_key",
	"apiKey",
	"credential",
	"private_key",
}
