// Package observability provides OpenTelemetry tracing and metrics, trace
// correlated structured logging, and the diagnostics HTTP server for tagvol.
package observability

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// AppMode identifies how the binary was launched.
type AppMode string

const (
	// ModeCLI is a one-shot command such as reconstruct or synth.
	ModeCLI AppMode = "cli"
	// ModeLive is the long-running histogram acquisition.
	ModeLive AppMode = "live"
)

const (
	defaultServiceName        = "tagvol"
	defaultShutdownTimeoutSec = 5
)

// Log formats accepted by ParseLogFormat.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ErrUnknownLogLevel is returned by ParseLogLevel.
var ErrUnknownLogLevel = errors.New("unknown log level")

// Config holds all observability configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Mode           AppMode

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables
	// export and leaves the tracer provider a no-op.
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool

	// SampleRatio is the root sampling ratio. Zero samples everything.
	SampleRatio float64

	// Prometheus attaches a pull reader to the meter provider; its scrape
	// handler is returned in Providers.MetricsHandler.
	Prometheus bool

	LogLevel slog.Level
	LogJSON  bool

	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLogLevel, s)
	}
}
