package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tagvol/pkg/config"
	"github.com/Sumatoshi-tech/tagvol/pkg/observability"
	"github.com/Sumatoshi-tech/tagvol/pkg/persist"
	"github.com/Sumatoshi-tech/tagvol/pkg/pointstream"
	"github.com/Sumatoshi-tech/tagvol/pkg/reconstruct"
	"github.com/Sumatoshi-tech/tagvol/pkg/report"
)

const outputDirPerm = 0o750

type reconstructOptions struct {
	rows, columns, planes uint32
	workers               int
	mergePolicy           string
	outputDir             string
	format                string
	noSave                bool
}

// NewReconstructCommand creates the reconstruct command.
func NewReconstructCommand() *cobra.Command {
	var o reconstructOptions

	cmd := &cobra.Command{
		Use:   "reconstruct [stream]",
		Short: "Rebuild per-channel sparse volumes from a recorded point stream",
		Long: `Reads an Arrow IPC (.arrow_stream, .arrow) or Parquet point stream and
accumulates every detector channel into a sparse volume of the configured
shape. Volumes are written to the output directory as <run>-chNN files.

The stream and shape default to the filename, rows, columns and planes keys of
the config file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			o.apply(cmd, cfg, args)

			return runReconstruct(cmd, cfg, o.format, o.noSave)
		},
	}

	f := cmd.Flags()
	f.Uint32Var(&o.rows, "rows", 0, "volume rows (overrides config)")
	f.Uint32Var(&o.columns, "columns", 0, "volume columns (overrides config)")
	f.Uint32Var(&o.planes, "planes", 0, "volume planes (overrides config)")
	f.IntVar(&o.workers, "workers", 0, "channels accumulated in parallel per batch (overrides config)")
	f.StringVar(&o.mergePolicy, "merge-policy", "", "repeated coordinate policy: sum, overwrite or keep-first")
	f.StringVarP(&o.outputDir, "output", "o", "", "directory for persisted volumes (overrides config)")
	f.StringVar(&o.format, flagFormat, report.FormatTable, "summary format: table, json or yaml")
	f.BoolVar(&o.noSave, "no-save", false, "do not persist volumes")

	return cmd
}

func (o *reconstructOptions) apply(cmd *cobra.Command, cfg *config.Config, args []string) {
	if len(args) == 1 {
		cfg.Filename = args[0]
	}

	f := cmd.Flags()

	if f.Changed("rows") {
		cfg.Rows = o.rows
	}

	if f.Changed("columns") {
		cfg.Columns = o.columns
	}

	if f.Changed("planes") {
		cfg.Planes = o.planes
	}

	if f.Changed("workers") {
		cfg.Reconstruct.Workers = o.workers
	}

	if f.Changed("merge-policy") {
		cfg.Reconstruct.MergePolicy = o.mergePolicy
	}

	if f.Changed("output") {
		cfg.Reconstruct.OutputDir = o.outputDir
	}
}

func runReconstruct(cmd *cobra.Command, cfg *config.Config, format string, noSave bool) error {
	err := cfg.ValidateReconstruct()
	if err != nil {
		return err
	}

	policy, err := cfg.MergePolicy()
	if err != nil {
		return err
	}

	codec, err := cfg.Codec()
	if err != nil {
		return err
	}

	providers, err := initObservability(cfg, observability.ModeCLI, false, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer shutdownObservability(providers)

	metrics, err := observability.NewReconstructionMetrics(providers.Meter)
	if err != nil {
		return err
	}

	src, err := pointstream.OpenFile(cfg.Filename, pointstream.Options{BatchRows: cfg.Reconstruct.BatchRows})
	if err != nil {
		return err
	}

	reader, err := reconstruct.Open(src, cfg.Shape(),
		reconstruct.WithMergePolicy(policy),
		reconstruct.WithWorkers(cfg.Reconstruct.Workers),
		reconstruct.WithLogger(providers.Logger),
		reconstruct.WithObserver(metrics),
		reconstruct.WithTracer(providers.Tracer),
		reconstruct.WithMemoryLogEvery(cfg.Reconstruct.MemoryLogEvery),
	)
	if err != nil {
		return errors.Join(err, src.Close())
	}

	started := time.Now()

	res, runErr := reader.Run(cmd.Context())
	closeErr := reader.Close()

	if runErr != nil {
		return errors.Join(runErr, closeErr)
	}

	if closeErr != nil {
		providers.Logger.Warn("reconstruct: close stream", "error", closeErr)
	}

	elapsed := time.Since(started)

	var paths map[uint8]string

	if !noSave {
		paths, err = saveResult(cfg.Reconstruct.OutputDir, codec, res)
		if err != nil {
			return err
		}

		providers.Logger.Info("reconstruct: volumes saved",
			"run_id", res.RunID.String(), "dir", cfg.Reconstruct.OutputDir, "files", len(paths))
	}

	rep := report.FromResult(res, cfg.Filename, policy.String(), elapsed, paths)

	return report.WriteReconstruction(cmd.OutOrStdout(), format, rep)
}

func saveResult(dir string, codec persist.Codec, res reconstruct.Result) (map[uint8]string, error) {
	err := os.MkdirAll(dir, outputDirPerm)
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	files, err := persist.SaveVolumes(dir, res.RunID.String(), codec, res.Volumes)
	if err != nil {
		return nil, fmt.Errorf("save volumes: %w", err)
	}

	// SaveVolumes writes in ascending channel order.
	paths := make(map[uint8]string, len(files))
	for i, ch := range res.Channels() {
		paths[ch] = files[i]
	}

	return paths, nil
}
