// Licensed under the Apache-2.0 license

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARM-software/psa-arch-tests/verification/config"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
	verification "github.com/ARM-software/psa-arch-tests/verification/testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
[target]
kind = "loopback"
nvmem_path = %q
watchdog_timeout = "50ms"

[harness]
progress_store = %q
progress_backend = "sqlite"

[log]
level = "error"
`, filepath.Join(dir, "nvmem.json"), filepath.Join(dir, "progress.db"))
	path := filepath.Join(dir, "psa-verify.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// execute runs the command line with fresh flag values
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, logFormat = "", "", ""
	vectorsFile, vectorsJSON, noResume, verbose = "", false, false, false
	noColor = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--no-color"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunAllSuites(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err, out)
	for _, test := range verification.AllTestCases {
		assert.Contains(t, out, "PASS  "+test.Name)
	}
	assert.Contains(t, out, fmt.Sprintf("%d pass, 0 fail, 0 error, 0 skip", len(verification.AllTestCases)))

	// The boot flag is cleared once the reset was judged
	out, err = execute(t, "bootflag", "get", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "BOOT_NOT_EXPECTED")
}

func TestRunReportsFailures(t *testing.T) {
	cfgPath := writeConfig(t)

	vectors := append([]verification.CipherVector(nil), verification.CipherFinishVectors[:1]...)
	vectors[0].ExpectedOutput = bytes.Repeat([]byte{0xaa}, len(vectors[0].ExpectedOutput))
	vectorsPath := filepath.Join(t.TempDir(), "vectors.json")
	f, err := os.Create(vectorsPath)
	require.NoError(t, err)
	require.NoError(t, verification.WriteCipherVectors(f, vectors))
	require.NoError(t, f.Close())

	out, err := execute(t, "run", "crypto", "--config", cfgPath, "--vectors", vectorsPath)
	assert.ErrorContains(t, err, "1 of 3 tests did not pass")
	assert.Contains(t, out, "FAIL  "+verification.CipherFinishTestCase.Name)
	assert.Contains(t, out, "[ERROR]:")
}

func TestRunResumesInterruptedTest(t *testing.T) {
	cfgPath := writeConfig(t)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	// A previous run was reset during the unextern connection, the second
	// test of the ipc suite
	_, err = execute(t, "bootflag", "set", "BOOT_EXPECTED_NS", "--config", cfgPath)
	require.NoError(t, err)
	store, err := nvmem.Open(cfg.Harness.ProgressBackend, cfg.Harness.ProgressStore)
	require.NoError(t, err)
	require.NoError(t, nvmem.Progress{Store: store}.Begin(1))
	require.NoError(t, store.Close())

	out, err := execute(t, "run", "ipc", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, verification.UnexternSIDConnectionTestCase.Name+" (resumed after reset)")
	assert.NotContains(t, out, verification.ConnectExternSIDTestCase.Name)
}

func TestVectorsJSON(t *testing.T) {
	out, err := execute(t, "vectors", "--json")
	require.NoError(t, err)

	vectors, err := verification.ReadCipherVectors(bytes.NewBufferString(out))
	require.NoError(t, err)
	assert.Equal(t, verification.CipherFinishVectors, vectors)

	out, err = execute(t, "vectors")
	require.NoError(t, err)
	assert.Contains(t, out, "PSA_ALG_CBC_PKCS7")
	assert.Contains(t, out, "PSA_ERROR_BUFFER_TOO_SMALL")
	assert.Contains(t, out, "small output buffer size")
}

func TestBootflagSetUnknown(t *testing.T) {
	_, err := execute(t, "bootflag", "set", "BOOT_MAYBE", "--config", writeConfig(t))
	assert.ErrorContains(t, err, "unknown boot state")
}
