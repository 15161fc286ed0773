// Package config loads tagvol configuration from TOML or YAML files and
// TAGVOL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/tagvol/pkg/histogram"
	"github.com/Sumatoshi-tech/tagvol/pkg/persist"
	"github.com/Sumatoshi-tech/tagvol/pkg/timetag"
	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

// Sentinel validation errors.
var (
	ErrMissingFilename  = errors.New("point stream filename is required")
	ErrInvalidWorkers   = errors.New("reconstruct workers must not be negative")
	ErrInvalidBatchRows = errors.New("reconstruct batch rows must be positive")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// Config holds all tagvol configuration. The top-level keys match the
// acquisition files written next to each recorded stream.
type Config struct {
	Filename string `mapstructure:"filename"`
	Rows     uint32 `mapstructure:"rows"`
	Columns  uint32 `mapstructure:"columns"`
	Planes   uint32 `mapstructure:"planes"`

	Histogram   HistogramConfig   `mapstructure:"histogram"`
	Reconstruct ReconstructConfig `mapstructure:"reconstruct"`
	TestSignal  TestSignalConfig  `mapstructure:"testsignal"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// HistogramConfig configures the live start/stop histogram.
type HistogramConfig struct {
	StartChannel int32 `mapstructure:"start_channel"`
	StopChannel  int32 `mapstructure:"stop_channel"`
	BinWidth     int64 `mapstructure:"bin_width"`
	NumBins      int   `mapstructure:"num_bins"`
}

// ReconstructConfig configures offline volume reconstruction.
type ReconstructConfig struct {
	Workers        int    `mapstructure:"workers"`
	MergePolicy    string `mapstructure:"merge_policy"`
	BatchRows      int    `mapstructure:"batch_rows"`
	OutputDir      string `mapstructure:"output_dir"`
	Codec          string `mapstructure:"codec"`
	Compress       bool   `mapstructure:"compress"`
	MemoryLogEvery int    `mapstructure:"memory_log_every"`
}

// TestSignalConfig configures the simulated acquisition driver.
type TestSignalConfig struct {
	Period        int64         `mapstructure:"period"`
	StopDelay     int64         `mapstructure:"stop_delay"`
	Jitter        int64         `mapstructure:"jitter"`
	PairsPerBatch int           `mapstructure:"pairs_per_batch"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DiagnosticsConfig configures the health and metrics HTTP server.
type DiagnosticsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TelemetryConfig configures OTLP export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	OTLPHeaders  string `mapstructure:"otlp_headers"`
}

// Shape returns the declared dense volume shape.
func (c *Config) Shape() volume.Shape {
	return volume.Shape{Rows: c.Rows, Columns: c.Columns, Planes: c.Planes}
}

// HistogramSettings converts to the accumulator configuration.
func (c *Config) HistogramSettings() histogram.Config {
	return histogram.Config{
		StartChannel: c.Histogram.StartChannel,
		StopChannel:  c.Histogram.StopChannel,
		BinWidth:     c.Histogram.BinWidth,
		NumBins:      c.Histogram.NumBins,
	}
}

// TestSignalSettings converts to the simulated driver configuration, on the
// histogram's start and stop channels.
func (c *Config) TestSignalSettings() timetag.TestSignalConfig {
	return timetag.TestSignalConfig{
		StartChannel:  c.Histogram.StartChannel,
		StopChannel:   c.Histogram.StopChannel,
		Period:        c.TestSignal.Period,
		StopDelay:     c.TestSignal.StopDelay,
		Jitter:        c.TestSignal.Jitter,
		PairsPerBatch: c.TestSignal.PairsPerBatch,
		BatchInterval: c.TestSignal.BatchInterval,
	}
}

// MergePolicy parses the configured collision policy.
func (c *Config) MergePolicy() (volume.MergePolicy, error) {
	return volume.ParseMergePolicy(c.Reconstruct.MergePolicy)
}

// Codec returns the codec for persisted volumes.
func (c *Config) Codec() (persist.Codec, error) {
	return persist.CodecByName(c.Reconstruct.Codec, c.Reconstruct.Compress)
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	err := c.HistogramSettings().Validate()
	if err != nil {
		return fmt.Errorf("histogram: %w", err)
	}

	err = c.TestSignalSettings().Validate()
	if err != nil {
		return fmt.Errorf("testsignal: %w", err)
	}

	_, err = c.MergePolicy()
	if err != nil {
		return fmt.Errorf("reconstruct: %w", err)
	}

	_, err = c.Codec()
	if err != nil {
		return fmt.Errorf("reconstruct: %w", err)
	}

	if c.Reconstruct.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Reconstruct.Workers)
	}

	if c.Reconstruct.BatchRows <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchRows, c.Reconstruct.BatchRows)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	return nil
}

// ValidateReconstruct additionally requires a stream and a non-empty shape.
func (c *Config) ValidateReconstruct() error {
	if c.Filename == "" {
		return ErrMissingFilename
	}

	return c.Shape().Validate()
}
