// Licensed under the Apache-2.0 license

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

const (
	secureCaller    int32 = 1
	nonSecureCaller int32 = -1
)

func TestConnectAndClose(t *testing.T) {
	for _, caller := range []int32{secureCaller, nonSecureCaller} {
		_, c := newTestClient(t, DefaultConfig(), caller)

		h, err := c.Connect(client.SIDServerTest, client.ServerTestVersion)
		require.NoError(t, err)
		assert.Greater(t, int32(h), int32(0))
		require.NoError(t, c.Close(h))
		require.NoError(t, c.Close(client.NullHandle))
	}
}

func TestConnectProgrammerErrors(t *testing.T) {
	tests := []struct {
		name    string
		caller  int32
		sid     client.SID
		version uint32
	}{
		{"unextern SID", secureCaller, client.SIDServerUnextern, client.ServerTestVersion},
		{"unknown SID", secureCaller, 0xdead, 1},
		{"non-secure caller to secure-only service", nonSecureCaller, client.SIDServerSecureOnly, client.ServerTestVersion},
		{"strict version mismatch", secureCaller, client.SIDServerStrictVersion, client.ServerStrictVersion - 1},
		{"relaxed version too new", secureCaller, client.SIDServerTest, client.ServerTestVersion + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/return", func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ProgrammerError = PolicyReturn
			_, c := newTestClient(t, cfg, tt.caller)

			_, err := c.Connect(tt.sid, tt.version)
			assert.ErrorIs(t, err, client.StatusProgrammerError)
		})

		t.Run(tt.name+"/panic", func(t *testing.T) {
			_, c := newTestClient(t, DefaultConfig(), tt.caller)

			_, err := c.Connect(tt.sid, tt.version)
			assert.ErrorIs(t, err, client.ErrTargetReset)
			assert.ErrorIs(t, err, ErrCallerPanic)
		})

		t.Run(tt.name+"/hang", func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ProgrammerError = PolicyHang
			_, c := newTestClient(t, cfg, tt.caller)

			_, err := c.Connect(tt.sid, tt.version)
			assert.ErrorIs(t, err, ErrCallerHang)
		})
	}
}

func TestConnectAllowed(t *testing.T) {
	_, c := newTestClient(t, DefaultConfig(), secureCaller)

	h, err := c.Connect(client.SIDServerSecureOnly, client.ServerTestVersion)
	require.NoError(t, err)
	require.NoError(t, c.Close(h))

	h, err = c.Connect(client.SIDServerStrictVersion, client.ServerStrictVersion)
	require.NoError(t, err)
	require.NoError(t, c.Close(h))
}

func TestConnectionRefused(t *testing.T) {
	_, c := newTestClient(t, DefaultConfig(), secureCaller)

	_, err := c.Connect(client.SIDServerRefusing, client.ServerTestVersion)
	assert.ErrorIs(t, err, client.StatusConnectionRefused)
}

func TestConnectionLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Manifest[0].MaxConnections = 1
	_, c := newTestClient(t, cfg, secureCaller)

	h, err := c.Connect(client.SIDServerTest, client.ServerTestVersion)
	require.NoError(t, err)
	_, err = c.Connect(client.SIDServerTest, client.ServerTestVersion)
	assert.ErrorIs(t, err, client.StatusConnectionRefused)

	require.NoError(t, c.Close(h))
	_, err = c.Connect(client.SIDServerTest, client.ServerTestVersion)
	assert.NoError(t, err)
}

func TestCloseInvalidHandle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProgrammerError = PolicyReturn
	svc, c := newTestClient(t, cfg, secureCaller)

	assert.ErrorIs(t, c.Close(42), client.StatusProgrammerError)

	// A handle belongs to the caller that opened it.
	h, err := c.Connect(client.SIDServerTest, client.ServerTestVersion)
	require.NoError(t, err)
	other, err := client.NewPSAABI(&directTransport{svc: svc, caller: secureCaller + 1})
	require.NoError(t, err)
	assert.ErrorIs(t, other.Close(h), client.StatusProgrammerError)
	assert.NoError(t, c.Close(h))
}

func TestIPCUnsupported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Support.IPC = false
	_, c := newTestClient(t, cfg, secureCaller)

	_, err := c.Connect(client.SIDServerTest, client.ServerTestVersion)
	assert.ErrorIs(t, err, client.StatusNotSupported)
}
