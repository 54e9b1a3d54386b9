// Licensed under the Apache-2.0 license

// Package sim implements PSA targets for the verification suite: the PSA
// software simulator reached over a Unix socket, and an in-process loopback
// target.
package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// Client IDs the targets accept commands from
const (
	SecureClientID    int32 = 1
	NonSecureClientID int32 = -1
)

const (
	powerTimeout   = 15 * time.Second
	powerChecksSec = 50
	dialTimeout    = time.Second
	// DefaultWatchdog is how long a command may take before the target is
	// considered hung
	DefaultWatchdog = 2 * time.Second
)

// SimulatorOptions configures a PSASimulator
type SimulatorOptions struct {
	Exe             string
	SocketPath      string
	NvmemPath       string
	NvmemBackend    string
	Support         client.Support
	ProgrammerError string
	Watchdog        time.Duration
	Stdout          io.Writer
}

// PSASimulator is a handle to a PSA simulator process
//
// PSASimulator implements the client.Transport and client.TestPSAInstance
// interfaces.
type PSASimulator struct {
	opts     SimulatorOptions
	cmd      *exec.Cmd
	exited   chan struct{}
	clientID int32
}

// NewSimulator returns a powered-off simulator
func NewSimulator(opts SimulatorOptions) *PSASimulator {
	if opts.Watchdog <= 0 {
		opts.Watchdog = DefaultWatchdog
	}
	if opts.NvmemBackend == "" {
		opts.NvmemBackend = "file"
	}
	return &PSASimulator{opts: opts, clientID: NonSecureClientID}
}

// HasPowerControl returns whether the simulator can be started and stopped.
func (s *PSASimulator) HasPowerControl() bool {
	return true
}

func (s *PSASimulator) args() []string {
	args := []string{
		"--socket", s.opts.SocketPath,
		"--nvmem", s.opts.NvmemPath,
		"--nvmem-backend", s.opts.NvmemBackend,
	}
	if s.opts.ProgrammerError != "" {
		args = append(args, "--programmer-error", s.opts.ProgrammerError)
	}
	if s.opts.Support.AES {
		args = append(args, "--supports-aes")
	}
	if s.opts.Support.DES {
		args = append(args, "--supports-des")
	}
	if s.opts.Support.ChaCha20 {
		args = append(args, "--supports-chacha20")
	}
	if s.opts.Support.IPC {
		args = append(args, "--supports-ipc")
	}
	if s.opts.Support.BootFlag {
		args = append(args, "--supports-boot-flag")
	}
	return args
}

// PowerOn starts the simulator.
func (s *PSASimulator) PowerOn() error {
	if s.running() {
		return nil
	}
	// A simulator that was killed leaves its socket behind.
	if err := os.Remove(s.opts.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	s.cmd = exec.Command(s.opts.Exe, s.args()...)
	s.cmd.Stdout = s.opts.Stdout
	s.cmd.Stderr = s.opts.Stdout
	if err := s.cmd.Start(); err != nil {
		return err
	}
	exited := make(chan struct{})
	s.exited = exited
	go func(cmd *exec.Cmd) {
		cmd.Wait()
		close(exited)
	}(s.cmd)

	if !s.waitForPower( /*on=*/ true) {
		return errors.New("the simulator never started")
	}
	return nil
}

// PowerOff stops the simulator in a way that it can cleanup before closing.
// A simulator that already went down is only cleaned up after.
func (s *PSASimulator) PowerOff() error {
	if s.cmd == nil {
		return nil
	}
	defer func() { s.cmd = nil }()

	if s.running() {
		if err := s.cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		select {
		case <-s.exited:
		case <-time.After(powerTimeout):
			if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return err
			}
			<-s.exited
		}
	}

	if !s.waitForPower( /*on=*/ false) {
		// Killed simulators do not remove their socket.
		if err := os.Remove(s.opts.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *PSASimulator) running() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Wait for the simulator to come alive or go down. Timeout at 15 seconds.
func (s *PSASimulator) waitForPower(on bool) bool {
	for i := 0; i < powerChecksSec*int(powerTimeout/time.Second); i++ {
		// Check if the socket file has been created.
		if fileExists(s.opts.SocketPath) == on {
			return true
		}
		if on && !s.running() {
			return false
		}
		time.Sleep(time.Second / powerChecksSec)
	}
	return false
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// SendCmd sends a PSA command to the simulator. It returns
// client.ErrTargetReset if the simulator went down without answering and
// client.ErrWatchdogTimeout if it did not answer in time.
func (s *PSASimulator) SendCmd(buf []byte) ([]byte, error) {
	// Connect to PSA instance.
	conn, err := net.DialTimeout("unix", s.opts.SocketPath, dialTimeout)
	if err != nil {
		if s.cmd != nil && !s.running() {
			return nil, fmt.Errorf("%w: %v", client.ErrTargetReset, err)
		}
		return nil, err
	}
	defer conn.Close()

	// Prepend the command with the caller ID.
	prepended := bytes.NewBuffer(make([]byte, 0, 4+len(buf)))
	if err := binary.Write(prepended, binary.LittleEndian, s.clientID); err != nil {
		return nil, err
	}
	if _, err := prepended.Write(buf); err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(s.opts.Watchdog)); err != nil {
		return nil, err
	}

	// Send the prepended command.
	numSent, err := conn.Write(prepended.Bytes())
	if err != nil {
		return nil, err
	}
	if numSent != len(prepended.Bytes()) {
		return nil, errors.New("didn't send the whole command")
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return nil, err
		}
	}

	// Get the response.
	resp, err := io.ReadAll(conn)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil, client.ErrWatchdogTimeout
	}
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, client.ErrTargetReset
	}
	return resp, nil
}

// GetSupport gets supported PSA features from the simulator
func (s *PSASimulator) GetSupport() *client.Support {
	return &s.opts.Support
}

// GetClientID gets the client ID commands are sent from
func (s *PSASimulator) GetClientID() int32 {
	return s.clientID
}

// SetClientID sets the client ID commands are sent from
func (s *PSASimulator) SetClientID(id int32) {
	s.clientID = id
}

// GetSupportedClients gets the client IDs the simulator accepts
func (s *PSASimulator) GetSupportedClients() []int32 {
	return []int32{NonSecureClientID, SecureClientID}
}

// GetCryptoMajorVersion gets the PSA Crypto API major version of the simulator
func (s *PSASimulator) GetCryptoMajorVersion() uint16 {
	return client.CurrentCryptoMajorVersion
}

// GetCryptoMinorVersion gets the PSA Crypto API minor version of the simulator
func (s *PSASimulator) GetCryptoMinorVersion() uint16 {
	return client.CurrentCryptoMinorVersion
}

// GetFrameworkMajorVersion gets the PSA-FF major version of the simulator
func (s *PSASimulator) GetFrameworkMajorVersion() uint16 {
	return client.CurrentFrameworkMajorVersion
}

// GetFrameworkMinorVersion gets the PSA-FF minor version of the simulator
func (s *PSASimulator) GetFrameworkMinorVersion() uint16 {
	return client.CurrentFrameworkMinorVersion
}
