package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name searched for when no path is given.
const configName = "tagvol"

// envPrefix is the environment variable prefix for tagvol settings.
const envPrefix = "TAGVOL"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults. The file
// format follows its extension (.toml or .yaml). Without an explicit path
// tagvol.toml or tagvol.yaml is looked up in the working directory; a missing
// file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("filename", "")
	viperCfg.SetDefault("rows", 0)
	viperCfg.SetDefault("columns", 0)
	viperCfg.SetDefault("planes", 0)

	viperCfg.SetDefault("histogram.start_channel", DefaultStartChannel)
	viperCfg.SetDefault("histogram.stop_channel", DefaultStopChannel)
	viperCfg.SetDefault("histogram.bin_width", DefaultBinWidth)
	viperCfg.SetDefault("histogram.num_bins", DefaultNumBins)

	viperCfg.SetDefault("reconstruct.workers", DefaultWorkers)
	viperCfg.SetDefault("reconstruct.merge_policy", DefaultMergePolicy)
	viperCfg.SetDefault("reconstruct.batch_rows", DefaultBatchRows)
	viperCfg.SetDefault("reconstruct.output_dir", DefaultOutputDir)
	viperCfg.SetDefault("reconstruct.codec", DefaultCodec)
	viperCfg.SetDefault("reconstruct.compress", DefaultCompress)
	viperCfg.SetDefault("reconstruct.memory_log_every", DefaultMemoryLogEvery)

	viperCfg.SetDefault("testsignal.period", DefaultSignalPeriod)
	viperCfg.SetDefault("testsignal.stop_delay", DefaultStopDelay)
	viperCfg.SetDefault("testsignal.jitter", DefaultJitter)
	viperCfg.SetDefault("testsignal.pairs_per_batch", DefaultPairsPerBatch)
	viperCfg.SetDefault("testsignal.batch_interval", DefaultBatchInterval)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("diagnostics.addr", DefaultDiagnosticsAddr)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.otlp_headers", "")
}
