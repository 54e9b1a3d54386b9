// Licensed under the Apache-2.0 license

// Package config loads the harness configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/exp/slices"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/logging"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
	"github.com/ARM-software/psa-arch-tests/verification/service"
)

// Target kinds
const (
	TargetLoopback  = "loopback"
	TargetSimulator = "simulator"
)

// Suite names
const (
	SuiteInfo   = "info"
	SuiteCrypto = "crypto"
	SuiteIPC    = "ipc"
)

// Suites lists every suite in run order
var Suites = []string{SuiteInfo, SuiteCrypto, SuiteIPC}

// Config is the harness configuration
type Config struct {
	Target  TargetConfig  `toml:"target"`
	Harness HarnessConfig `toml:"harness"`
	Log     LogConfig     `toml:"log"`
}

// TargetConfig describes the target under test
type TargetConfig struct {
	Kind            string        `toml:"kind"`
	SimulatorExe    string        `toml:"simulator_exe"`
	SocketPath      string        `toml:"socket_path"`
	NvmemPath       string        `toml:"nvmem_path"`
	NvmemBackend    string        `toml:"nvmem_backend"`
	ClientID        int32         `toml:"client_id"`
	WatchdogTimeout time.Duration `toml:"watchdog_timeout"`
	Supports        []string      `toml:"supports"`
	ProgrammerError string        `toml:"programmer_error"`
}

// HarnessConfig controls how suites are run
type HarnessConfig struct {
	// ProgressStore keeps the index of the running test across harness
	// restarts. Empty disables resuming.
	ProgressStore   string   `toml:"progress_store"`
	ProgressBackend string   `toml:"progress_backend"`
	VectorsFile     string   `toml:"vectors_file"`
	Suites          []string `toml:"suites"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	stateDir := filepath.Join(os.TempDir(), "psa-verify")
	return &Config{
		Target: TargetConfig{
			Kind:            TargetLoopback,
			SimulatorExe:    "psa-simulator",
			SocketPath:      filepath.Join(os.TempDir(), "psa-sim.socket"),
			NvmemPath:       filepath.Join(stateDir, "target-nvmem.json"),
			NvmemBackend:    "file",
			ClientID:        -1,
			WatchdogTimeout: 2 * time.Second,
			Supports:        []string{"AES", "DES", "ChaCha20", "IPC", "BootFlag"},
			ProgrammerError: service.PolicyPanic.String(),
		},
		Harness: HarnessConfig{
			ProgressStore:   filepath.Join(stateDir, "progress.db"),
			ProgressBackend: "sqlite",
			Suites:          append([]string(nil), Suites...),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path over the defaults. Keys the file sets
// that no field knows about are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown configuration keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ApplyEnvOverrides overrides settings from PSA_VERIFY_* variables
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("PSA_VERIFY_TARGET"); v != "" {
		c.Target.Kind = v
	}
	if v := os.Getenv("PSA_VERIFY_SIMULATOR"); v != "" {
		c.Target.SimulatorExe = v
	}
	if v := os.Getenv("PSA_VERIFY_SOCKET"); v != "" {
		c.Target.SocketPath = v
	}
	if v := os.Getenv("PSA_VERIFY_NVMEM"); v != "" {
		c.Target.NvmemPath = v
	}
	if v := os.Getenv("PSA_VERIFY_CLIENT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 0, 32)
		if err != nil {
			return fmt.Errorf("PSA_VERIFY_CLIENT_ID: %w", err)
		}
		c.Target.ClientID = int32(id)
	}
	if v := os.Getenv("PSA_VERIFY_WATCHDOG"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PSA_VERIFY_WATCHDOG: %w", err)
		}
		c.Target.WatchdogTimeout = d
	}
	if v := os.Getenv("PSA_VERIFY_SUPPORTS"); v != "" {
		c.Target.Supports = splitList(v)
	}
	if v := os.Getenv("PSA_VERIFY_PROGRAMMER_ERROR"); v != "" {
		c.Target.ProgrammerError = v
	}
	if v := os.Getenv("PSA_VERIFY_VECTORS"); v != "" {
		c.Harness.VectorsFile = v
	}
	if v := os.Getenv("PSA_VERIFY_SUITES"); v != "" {
		c.Harness.Suites = splitList(v)
	}
	if v := os.Getenv("PSA_VERIFY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PSA_VERIFY_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ValidationError is one invalid setting
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks every setting and returns all problems joined
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Target.Kind {
	case TargetLoopback:
	case TargetSimulator:
		if c.Target.SimulatorExe == "" {
			invalid("target.simulator_exe", "required for the simulator target")
		}
		if c.Target.SocketPath == "" {
			invalid("target.socket_path", "required for the simulator target")
		}
	default:
		invalid("target.kind", "invalid kind %q, must be one of: %s, %s", c.Target.Kind, TargetLoopback, TargetSimulator)
	}

	if c.Target.NvmemPath == "" && c.Target.NvmemBackend != "memory" {
		invalid("target.nvmem_path", "required for the %q backend", c.Target.NvmemBackend)
	}
	if !validBackend(c.Target.NvmemBackend) {
		invalid("target.nvmem_backend", "invalid backend %q, must be one of: file, sqlite, memory", c.Target.NvmemBackend)
	}
	if c.Target.WatchdogTimeout <= 0 {
		invalid("target.watchdog_timeout", "must be positive, got %v", c.Target.WatchdogTimeout)
	}
	if _, err := client.SupportFromNames(c.Target.Supports); err != nil {
		invalid("target.supports", "%v", err)
	}
	if _, err := service.ParsePolicy(c.Target.ProgrammerError); err != nil {
		invalid("target.programmer_error", "%v", err)
	}

	if c.Harness.ProgressStore != "" && !validBackend(c.Harness.ProgressBackend) {
		invalid("harness.progress_backend", "invalid backend %q, must be one of: file, sqlite, memory", c.Harness.ProgressBackend)
	}
	if c.Harness.VectorsFile != "" {
		if _, err := os.Stat(c.Harness.VectorsFile); err != nil {
			invalid("harness.vectors_file", "%v", err)
		}
	}
	if len(c.Harness.Suites) == 0 {
		invalid("harness.suites", "no suites selected")
	}
	for _, s := range c.Harness.Suites {
		if !slices.Contains(Suites, s) {
			invalid("harness.suites", "unknown suite %q, must be one of: %s", s, strings.Join(Suites, ", "))
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level", "%v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		invalid("log.format", "invalid format %q, must be one of: text, json", c.Log.Format)
	}

	return errors.Join(errs...)
}

func validBackend(name string) bool {
	switch name {
	case "file", "sqlite", "memory":
		return true
	}
	return false
}

// Support returns the configured target features
func (c *Config) Support() (client.Support, error) {
	return client.SupportFromNames(c.Target.Supports)
}

// ServiceConfig returns the configuration of a reference target matching
// the target settings
func (c *Config) ServiceConfig() (service.Config, error) {
	cfg := service.DefaultConfig()
	support, err := c.Support()
	if err != nil {
		return cfg, err
	}
	policy, err := service.ParsePolicy(c.Target.ProgrammerError)
	if err != nil {
		return cfg, err
	}
	cfg.Support = support
	cfg.ProgrammerError = policy
	return cfg, nil
}

// OpenTargetNvmem opens the non-volatile memory of a reference target
func (c *Config) OpenTargetNvmem() (nvmem.Store, error) {
	return nvmem.Open(c.Target.NvmemBackend, c.Target.NvmemPath)
}
