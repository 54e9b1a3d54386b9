// Licensed under the Apache-2.0 license

package sim

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
	"github.com/ARM-software/psa-arch-tests/verification/service"
)

var (
	_ client.TestPSAInstance = (*PSASimulator)(nil)
	_ client.TestPSAInstance = (*LoopbackTarget)(nil)
)

func TestLoopbackPowerCycleKeepsNvmem(t *testing.T) {
	l := NewLoopback(service.DefaultConfig(), nvmem.NewMemStore(), nil, 10*time.Millisecond)

	_, err := l.SendCmd(nil)
	assert.ErrorIs(t, err, ErrPoweredOff)

	require.NoError(t, l.PowerOn())
	c, err := client.NewClient(l)
	require.NoError(t, err)
	require.NoError(t, c.CryptoInit())

	h, err := c.ImportKey(client.KeyAttributes{Type: client.KeyTypeAES, Usage: client.KeyUsageEncrypt, Alg: client.AlgCTR}, make([]byte, 16))
	require.NoError(t, err)
	require.NoError(t, c.SetBootFlag(client.BootExpectedNS))

	require.NoError(t, l.PowerOff())
	require.NoError(t, l.PowerOn())
	require.NoError(t, c.CryptoInit())

	assert.ErrorIs(t, c.DestroyKey(h), client.StatusInvalidHandle)
	state, err := c.GetBootFlag()
	require.NoError(t, err)
	assert.Equal(t, client.BootExpectedNS, state)
}

func TestLoopbackPanicResets(t *testing.T) {
	l := NewLoopback(service.DefaultConfig(), nvmem.NewMemStore(), nil, 10*time.Millisecond)
	require.NoError(t, l.PowerOn())
	l.SetClientID(SecureClientID)

	c, err := client.NewClient(l)
	require.NoError(t, err)

	_, err = c.Connect(client.SIDServerUnextern, client.ServerTestVersion)
	assert.ErrorIs(t, err, client.ErrTargetReset)

	// The target came back by itself.
	_, err = c.GetInfo()
	assert.NoError(t, err)
}

func TestLoopbackHang(t *testing.T) {
	cfg := service.DefaultConfig()
	cfg.ProgrammerError = service.PolicyHang
	l := NewLoopback(cfg, nvmem.NewMemStore(), nil, 10*time.Millisecond)
	require.NoError(t, l.PowerOn())

	c, err := client.NewClient(l)
	require.NoError(t, err)

	_, err = c.Connect(client.SIDServerUnextern, client.ServerTestVersion)
	assert.ErrorIs(t, err, client.ErrWatchdogTimeout)

	// Still hung until power cycled
	_, err = c.GetInfo()
	assert.ErrorIs(t, err, client.ErrWatchdogTimeout)

	require.NoError(t, l.PowerOff())
	require.NoError(t, l.PowerOn())
	_, err = c.GetInfo()
	assert.NoError(t, err)
}

// serveInProcess serves a service on a socket without a simulator process
func serveInProcess(t *testing.T, cfg service.Config) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "psa-sim")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "s")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := service.NewServer(service.New(cfg, nvmem.NewMemStore(), nil), nil)
	go srv.Serve(ctx, l)
	return path
}

func TestSimulatorTransport(t *testing.T) {
	path := serveInProcess(t, service.DefaultConfig())
	s := NewSimulator(SimulatorOptions{SocketPath: path, Support: service.DefaultConfig().Support})
	s.SetClientID(SecureClientID)

	c, err := client.NewClient(s)
	require.NoError(t, err)
	info, err := c.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, s.GetSupport().ToFlags(), info.Flags)

	h, err := c.Connect(client.SIDServerSecureOnly, client.ServerTestVersion)
	require.NoError(t, err)
	require.NoError(t, c.Close(h))

	_, err = c.Connect(client.SIDServerUnextern, client.ServerTestVersion)
	assert.ErrorIs(t, err, client.ErrTargetReset)
}

func TestSimulatorTransportWatchdog(t *testing.T) {
	cfg := service.DefaultConfig()
	cfg.ProgrammerError = service.PolicyHang
	path := serveInProcess(t, cfg)
	s := NewSimulator(SimulatorOptions{SocketPath: path, Watchdog: 100 * time.Millisecond})

	c, err := client.NewClient(s)
	require.NoError(t, err)

	_, err = c.Connect(client.SIDServerUnextern, client.ServerTestVersion)
	assert.ErrorIs(t, err, client.ErrWatchdogTimeout)
}

func TestSimulatorArgs(t *testing.T) {
	s := NewSimulator(SimulatorOptions{
		SocketPath:      "/tmp/psa.sock",
		NvmemPath:       "/tmp/nvmem.json",
		Support:         client.Support{AES: true, IPC: true},
		ProgrammerError: "return",
	})
	assert.Equal(t, []string{
		"--socket", "/tmp/psa.sock",
		"--nvmem", "/tmp/nvmem.json",
		"--nvmem-backend", "file",
		"--programmer-error", "return",
		"--supports-aes",
		"--supports-ipc",
	}, s.args())
}

func TestSimulatorPowerOffWhenOff(t *testing.T) {
	s := NewSimulator(SimulatorOptions{SocketPath: filepath.Join(t.TempDir(), "s")})
	assert.NoError(t, s.PowerOff())
	assert.True(t, s.HasPowerControl())
}
