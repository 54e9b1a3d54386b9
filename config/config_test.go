// Licensed under the Apache-2.0 license

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/service"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "psa-verify.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[target]
kind = "simulator"
simulator_exe = "/opt/psa/psa-simulator"
client_id = 7
watchdog_timeout = "750ms"
supports = ["AES", "IPC", "BootFlag"]
programmer_error = "hang"

[harness]
suites = ["ipc"]

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TargetSimulator, cfg.Target.Kind)
	assert.Equal(t, "/opt/psa/psa-simulator", cfg.Target.SimulatorExe)
	assert.Equal(t, int32(7), cfg.Target.ClientID)
	assert.Equal(t, 750*time.Millisecond, cfg.Target.WatchdogTimeout)
	assert.Equal(t, []string{SuiteIPC}, cfg.Harness.Suites)
	assert.Equal(t, "json", cfg.Log.Format)

	// Unset keys keep their defaults
	assert.Equal(t, Default().Target.SocketPath, cfg.Target.SocketPath)

	support, err := cfg.Support()
	require.NoError(t, err)
	assert.Equal(t, client.Support{AES: true, IPC: true, BootFlag: true}, support)

	svcCfg, err := cfg.ServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, service.PolicyHang, svcCfg.ProgrammerError)
	assert.Equal(t, support, svcCfg.Support)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[target]
kind = "loopback"
flux_capacitor = true
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "target.flux_capacitor")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PSA_VERIFY_TARGET", "simulator")
	t.Setenv("PSA_VERIFY_CLIENT_ID", "0x10")
	t.Setenv("PSA_VERIFY_WATCHDOG", "3s")
	t.Setenv("PSA_VERIFY_SUPPORTS", "AES, DES")
	t.Setenv("PSA_VERIFY_SUITES", "crypto")
	t.Setenv("PSA_VERIFY_LOG_LEVEL", "warn")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnvOverrides())

	assert.Equal(t, TargetSimulator, cfg.Target.Kind)
	assert.Equal(t, int32(16), cfg.Target.ClientID)
	assert.Equal(t, 3*time.Second, cfg.Target.WatchdogTimeout)
	assert.Equal(t, []string{"AES", "DES"}, cfg.Target.Supports)
	assert.Equal(t, []string{SuiteCrypto}, cfg.Harness.Suites)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvOverridesBadValue(t *testing.T) {
	t.Setenv("PSA_VERIFY_WATCHDOG", "soon")
	assert.Error(t, Default().ApplyEnvOverrides())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Target.Kind = "fpga"
	cfg.Target.WatchdogTimeout = 0
	cfg.Target.Supports = []string{"AES", "Quantum"}
	cfg.Target.ProgrammerError = "explode"
	cfg.Harness.Suites = []string{"crypto", "storage"}
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{
		"target.kind",
		"target.watchdog_timeout",
		"target.supports",
		"target.programmer_error",
		"harness.suites",
		"log.format",
	} {
		assert.ErrorContains(t, err, field)
	}

	var verr ValidationError
	assert.ErrorAs(t, err, &verr)
}
