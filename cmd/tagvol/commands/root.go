// Package commands implements the tagvol CLI commands.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tagvol/pkg/config"
	"github.com/Sumatoshi-tech/tagvol/pkg/observability"
	"github.com/Sumatoshi-tech/tagvol/pkg/version"
)

const (
	flagConfig = "config"
	flagFormat = "format"
)

// NewRootCommand builds the tagvol command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tagvol",
		Short: "Time-tagger histograms and sparse volume reconstruction",
		Long: `tagvol turns photon arrival streams into images.

Commands:
  histogram    Live start/stop histogram from the acquisition driver
  reconstruct  Rebuild per-channel volumes from a recorded point stream
  synth        Write a synthetic point stream
  version      Show build information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String(flagConfig, "", "config file (TOML or YAML; default ./tagvol.{toml,yaml})")

	root.AddCommand(
		NewHistogramCommand(),
		NewReconstructCommand(),
		NewSynthCommand(),
		NewVersionCommand(),
	)

	return root
}

// loadConfig reads the file named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("read --%s: %w", flagConfig, err)
	}

	return config.LoadConfig(path)
}

// initObservability starts telemetry for one command run. Logs go to logOut.
func initObservability(cfg *config.Config, mode observability.AppMode, prometheus bool,
	logOut io.Writer,
) (observability.Providers, error) {
	level, err := observability.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return observability.Providers{}, err
	}

	oc := observability.DefaultConfig()
	oc.ServiceVersion = version.Get().Version
	oc.Mode = mode
	oc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	oc.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	oc.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	oc.Prometheus = prometheus
	oc.LogLevel = level
	oc.LogJSON = cfg.Logging.Format == observability.LogFormatJSON
	oc.ShutdownTimeoutSec = int(config.DefaultShutdownTimeout.Seconds())

	return observability.InitWithWriter(oc, logOut)
}

func shutdownObservability(providers observability.Providers) {
	err := providers.Shutdown(context.Background())
	if err != nil {
		providers.Logger.Warn("observability: shutdown failed", "error", err)
	}
}
