package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tagvol/pkg/config"
	"github.com/Sumatoshi-tech/tagvol/pkg/histogram"
	"github.com/Sumatoshi-tech/tagvol/pkg/observability"
	"github.com/Sumatoshi-tech/tagvol/pkg/report"
	"github.com/Sumatoshi-tech/tagvol/pkg/timetag"
)

const chartTitle = "tagvol start/stop histogram"

var errMeasurementStopped = errors.New("measurement stopped")

type histogramOptions struct {
	duration time.Duration
	plot     string
	addr     string
	format   string
}

// NewHistogramCommand creates the histogram command.
func NewHistogramCommand() *cobra.Command {
	var o histogramOptions

	cmd := &cobra.Command{
		Use:   "histogram",
		Short: "Accumulate a live start/stop delay histogram",
		Long: `Drives the acquisition test signal into a start/stop histogram until
interrupted or --duration elapses. While running, the counts are served at
/histogram and the bin delays at /histogram/index next to /healthz, /readyz
and /metrics on the diagnostics address. POST /histogram/reset clears the
counts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("addr") {
				cfg.Diagnostics.Addr = o.addr
			}

			return runHistogram(cmd, cfg, o)
		},
	}

	f := cmd.Flags()
	f.DurationVar(&o.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	f.StringVar(&o.plot, "plot", "", "write an HTML chart of the final histogram to this file")
	f.StringVar(&o.addr, "addr", config.DefaultDiagnosticsAddr, "diagnostics listen address (empty disables)")
	f.StringVar(&o.format, flagFormat, report.FormatTable, "summary format: table, json or yaml")

	return cmd
}

func runHistogram(cmd *cobra.Command, cfg *config.Config, o histogramOptions) error {
	providers, err := initObservability(cfg, observability.ModeLive, cfg.Diagnostics.Addr != "", cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer shutdownObservability(providers)

	logger := providers.Logger

	acc, err := histogram.New(cfg.HistogramSettings(), histogram.WithLogger(logger))
	if err != nil {
		return err
	}

	acqMetrics, err := observability.NewAcquisitionMetrics(providers.Meter, acc.Stats)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := acqMetrics.Close(); closeErr != nil {
			logger.Warn("histogram: unregister metrics", "error", closeErr)
		}
	}()

	_, err = observability.NewRuntimeMetrics(providers.Meter)
	if err != nil {
		return err
	}

	driver, err := timetag.NewTestSignal(cfg.TestSignalSettings())
	if err != nil {
		return err
	}

	hc := acc.Config()
	driver.Register(hc.StartChannel)
	driver.Register(hc.StopChannel)

	var stopped atomic.Bool

	if cfg.Diagnostics.Addr != "" {
		srv, srvErr := observability.NewDiagnosticsServer(cfg.Diagnostics.Addr,
			observability.WithMetricsHandler(providers.MetricsHandler),
			observability.WithReadyChecks(func(context.Context) error {
				if stopped.Load() {
					return errMeasurementStopped
				}

				return nil
			}),
			observability.WithRoute("/histogram", countsHandler(acc)),
			observability.WithRoute("/histogram/index", indexHandler(acc)),
			observability.WithRoute("/histogram/reset", resetHandler(acc, logger)),
			observability.WithServerTracer(providers.Tracer),
			observability.WithServerLogger(logger),
		)
		if srvErr != nil {
			return srvErr
		}

		logger.Info("histogram: serving", "addr", srv.Addr())

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
			defer cancel()

			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Warn("histogram: diagnostics shutdown", "error", shutdownErr)
			}
		}()
	}

	err = acquire(cmd.Context(), driver, acc, o.duration)

	stopped.Store(true)

	stopErr := acc.Stop()
	if err != nil || stopErr != nil {
		return errors.Join(err, stopErr)
	}

	index, counts := acc.Index(), acc.Snapshot()

	if o.plot != "" {
		err = writeChart(o.plot, index, counts)
		if err != nil {
			return err
		}

		logger.Info("histogram: chart written", "path", o.plot)
	}

	return report.WriteHistogram(cmd.OutOrStdout(), o.format,
		report.FromHistogram(hc, index, counts, acc.Stats()))
}

// acquire runs the driver into m until ctx is done or d elapses.
func acquire(ctx context.Context, driver *timetag.TestSignal, m histogram.Measurement, d time.Duration) error {
	if d > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	return driver.Run(ctx, m)
}

func countsHandler(m histogram.Measurement) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(rw, m.Snapshot())
	})
}

func indexHandler(m histogram.Measurement) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(rw, m.Index())
	})
}

// resetHandler clears the live histogram on POST. A stopped measurement
// answers 409.
func resetHandler(m histogram.Measurement, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			rw.Header().Set("Allow", http.MethodPost)
			http.Error(rw, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

			return
		}

		err := m.Reset()
		if errors.Is(err, histogram.ErrStopped) {
			http.Error(rw, err.Error(), http.StatusConflict)

			return
		}

		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)

			return
		}

		logger.InfoContext(req.Context(), "histogram: reset requested", "remote", req.RemoteAddr)
		rw.WriteHeader(http.StatusNoContent)
	})
}

func writeJSONResponse(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")

	err := writeJSON(rw, v)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w io.Writer, v any) error {
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	return nil
}

func writeChart(path string, index []int64, counts []uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}

	err = histogram.RenderChart(f, chartTitle, index, counts)

	return errors.Join(err, f.Close())
}
