package observe

import (
	"context"
	"errors"
	"testing"
)

// TestConfigValidate_Valid verifies that a fully valid config passes validation.
func TestConfigValidate_Valid(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Version:     "1.0.0",
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "stdout",
			SamplePct: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "stdout",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected nil error, got: %v", err)
	}
}

// TestConfigValidate_MissingServiceName verifies that empty ServiceName fails validation.
func TestConfigValidate_MissingServiceName(t *testing.T) {
	cfg := Config{
		ServiceName: "",
		Version:     "1.0.0",
	}

	err := cfg.Validate()
	if !errors.Is(err, ErrMissingServiceName) {
		t.Errorf("expected ErrMissingServiceName, got: %v", err)
	}
}

// TestConfigValidate_UnknownTracingExporter verifies that an unknown tracing exporter fails validation.
func TestConfigValidate_UnknownTracingExporter(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Tracing: TracingConfig{
			Enabled:  true,
			Exporter: "unknown",
		},
	}

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidTracingExporter) {
		t.Errorf("expected ErrInvalidTracingExporter, got: %v", err)
	}
}

// TestConfigValidate_UnknownMetricsExporter verifies that an unknown metrics exporter fails validation.
func TestConfigValidate_UnknownMetricsExporter(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "badvalue",
		},
	}

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidMetricsExporter) {
		t.Errorf("expected ErrInvalidMetricsExporter, got: %v", err)
	}
}

// TestConfigValidate_SamplePctOutOfRange verifies that SamplePct > 1.0 fails validation.
func TestConfigValidate_SamplePctOutOfRange(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "stdout",
			SamplePct: 1.5,
		},
	}

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidSamplePct) {
		t.Errorf("expected ErrInvalidSamplePct, got: %v", err)
	}
}

// TestConfigValidate_SamplePctNegative verifies that SamplePct < 0 fails validation.
func TestConfigValidate_SamplePctNegative(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "stdout",
			SamplePct: -0.1,
		},
	}

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidSamplePct) {
		t.Errorf("expected ErrInvalidSamplePct, got: %v", err)
	}
}

// TestConfigValidate_UnknownLogLevel verifies that an unknown log level fails validation.
func TestConfigValidate_UnknownLogLevel(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "badlevel",
		},
	}

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("expected ErrInvalidLogLevel, got: %v", err)
	}
}

// TestConfigValidate_DisabledSubsystemsSkipChecks verifies that disabled
// subsystems are not validated.
func TestConfigValidate_DisabledSubsystemsSkipChecks(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Tracing:     TracingConfig{Enabled: false, Exporter: "garbage", SamplePct: 7},
		Metrics:     MetricsConfig{Enabled: false, Exporter: "garbage"},
		Logging:     LoggingConfig{Enabled: false, Level: "garbage"},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected nil error for disabled subsystems, got: %v", err)
	}
}

// TestNewObserver_DisabledNoop verifies that an all-disabled config returns a usable no-op observer.
func TestNewObserver_DisabledNoop(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Tracing:     TracingConfig{Enabled: false},
		Metrics:     MetricsConfig{Enabled: false},
		Logging:     LoggingConfig{Enabled: false},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil observer")
	}
	if obs.Tracer() == nil {
		t.Error("expected non-nil tracer (noop)")
	}
	if obs.Meter() == nil {
		t.Error("expected non-nil meter (noop)")
	}
	if obs.Logger() == nil {
		t.Error("expected non-nil logger (noop)")
	}
}

// TestNewObserver_ReturnsTracerAndMeter verifies an enabled config returns a functional tracer and meter.
func TestNewObserver_ReturnsTracerAndMeter(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Version:     "1.0.0",
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "none",
			SamplePct: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "none",
		},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if obs.Tracer() == nil {
		t.Error("expected non-nil tracer")
	}
	if obs.Meter() == nil {
		t.Error("expected non-nil meter")
	}
}

// TestNewObserver_LoggerReturnsNonNil verifies logging enabled returns a non-nil logger.
func TestNewObserver_LoggerReturnsNonNil(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if obs.Logger() == nil {
		t.Error("expected non-nil logger")
	}
}

// TestNewObserver_InvalidConfigReturnsError verifies that an invalid config returns an error.
func TestNewObserver_InvalidConfigReturnsError(t *testing.T) {
	cfg := Config{
		ServiceName: "",
	}

	_, err := NewObserver(context.Background(), cfg)
	if !errors.Is(err, ErrMissingServiceName) {
		t.Fatalf("expected ErrMissingServiceName, got: %v", err)
	}
}

// TestObserver_ShutdownGracefully verifies shutdown completes without error.
func TestObserver_ShutdownGracefully(t *testing.T) {
	cfg := Config{
		ServiceName: "itemcache",
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "none",
			SamplePct: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "none",
		},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no shutdown error, got: %v", err)
	}
}
