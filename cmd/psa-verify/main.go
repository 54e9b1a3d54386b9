// Licensed under the Apache-2.0 license

// Command psa-verify runs the PSA conformance suites against a target.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/config"
	"github.com/ARM-software/psa-arch-tests/verification/logging"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
	"github.com/ARM-software/psa-arch-tests/verification/sim"
)

var rootCmd = &cobra.Command{
	Use:   "psa-verify",
	Short: "PSA architecture conformance verification",
	Long: `psa-verify checks a PSA target against the PSA Crypto cipher vectors
and the PSA Firmware Framework connection rules.

Settings come from the TOML file given with --config, then from
PSA_VERIFY_* environment variables, then from flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

var (
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool

	cfg *config.Config
	log *slog.Logger
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "",
		"TOML configuration file")
	flags.StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", "",
		"Log format: text or json")
	flags.BoolVar(&noColor, "no-color", false,
		"Disable colored output")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err = logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	if noColor {
		color.NoColor = true
	}
	return nil
}

// openTarget builds the configured target. close releases what the target
// holds once it is powered off.
func openTarget() (target client.TestPSAInstance, close func() error, err error) {
	switch cfg.Target.Kind {
	case config.TargetSimulator:
		support, err := cfg.Support()
		if err != nil {
			return nil, nil, err
		}
		if err := ensureDir(cfg.Target.NvmemPath); err != nil {
			return nil, nil, err
		}
		s := sim.NewSimulator(sim.SimulatorOptions{
			Exe:             cfg.Target.SimulatorExe,
			SocketPath:      cfg.Target.SocketPath,
			NvmemPath:       cfg.Target.NvmemPath,
			NvmemBackend:    cfg.Target.NvmemBackend,
			Support:         support,
			ProgrammerError: cfg.Target.ProgrammerError,
			Watchdog:        cfg.Target.WatchdogTimeout,
			Stdout:          os.Stderr,
		})
		s.SetClientID(cfg.Target.ClientID)
		return s, func() error { return nil }, nil

	default:
		svcCfg, err := cfg.ServiceConfig()
		if err != nil {
			return nil, nil, err
		}
		if err := ensureDir(cfg.Target.NvmemPath); err != nil {
			return nil, nil, err
		}
		nv, err := cfg.OpenTargetNvmem()
		if err != nil {
			return nil, nil, err
		}
		l := sim.NewLoopback(svcCfg, nv, log, cfg.Target.WatchdogTimeout)
		l.SetClientID(cfg.Target.ClientID)
		return l, nv.Close, nil
	}
}

// openProgress opens the harness store that records the running test
func openProgress() (*nvmem.Progress, func() error, error) {
	if cfg.Harness.ProgressStore == "" {
		return nil, func() error { return nil }, nil
	}
	if err := ensureDir(cfg.Harness.ProgressStore); err != nil {
		return nil, nil, err
	}
	store, err := nvmem.Open(cfg.Harness.ProgressBackend, cfg.Harness.ProgressStore)
	if err != nil {
		return nil, nil, fmt.Errorf("open progress store: %w", err)
	}
	return &nvmem.Progress{Store: store}, store.Close, nil
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
