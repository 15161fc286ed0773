package config

import (
	"time"

	"github.com/Sumatoshi-tech/tagvol/pkg/timetag"
)

// Histogram defaults. One picosecond bins over a 4 ns window.
const (
	DefaultStartChannel = 1
	DefaultStopChannel  = 2
	DefaultBinWidth     = 1
	DefaultNumBins      = 4000
)

// Reconstruction defaults.
const (
	DefaultWorkers        = 1
	DefaultMergePolicy    = "sum"
	DefaultBatchRows      = 64 * 1024
	DefaultOutputDir      = "."
	DefaultCodec          = "gob"
	DefaultCompress       = true
	DefaultMemoryLogEvery = 0
)

// Test signal defaults.
const (
	DefaultSignalPeriod  = timetag.DefaultSignalPeriod
	DefaultStopDelay     = timetag.DefaultStopDelay
	DefaultJitter        = 0
	DefaultPairsPerBatch = timetag.DefaultPairsPerBatch
	DefaultBatchInterval = timetag.DefaultBatchInterval
)

// Logging and diagnostics defaults.
const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultDiagnosticsAddr = "127.0.0.1:9464"
	DefaultShutdownTimeout = 5 * time.Second
)
