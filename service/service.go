// Licensed under the Apache-2.0 license

// Package service is a reference PSA target: a key store, a multipart
// cipher engine, an IPC manifest and boot-flag storage behind the wire ABI
// spoken by the client package.
package service

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/logging"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
)

// Policy is how the service reacts to a programmer error by its caller
type Policy int

// Programmer error policies
const (
	// PolicyPanic terminates the caller, which resets the target.
	PolicyPanic Policy = iota
	// PolicyReturn returns StatusProgrammerError.
	PolicyReturn
	// PolicyHang never answers; a watchdog has to reboot the target.
	PolicyHang
)

func (p Policy) String() string {
	switch p {
	case PolicyPanic:
		return "panic"
	case PolicyReturn:
		return "return"
	case PolicyHang:
		return "hang"
	}
	return fmt.Sprintf("policy %d", int(p))
}

// ParsePolicy parses the name of a programmer error policy
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "panic":
		return PolicyPanic, nil
	case "return":
		return PolicyReturn, nil
	case "hang":
		return PolicyHang, nil
	}
	return 0, fmt.Errorf("unknown programmer error policy %q", name)
}

var (
	// ErrCallerPanic is returned by Handle when the caller must be terminated.
	// No response is sent and the target resets.
	ErrCallerPanic = errors.New("caller panicked on a programmer error")
	// ErrCallerHang is returned by Handle when the target stops answering.
	ErrCallerHang = errors.New("target hung on a programmer error")
)

// Config describes what the service supports
type Config struct {
	Support         client.Support
	ProgrammerError Policy
	MaxKeySlots     int
	MaxOperations   int
	Manifest        []RoTService
}

// DefaultConfig supports everything and panics the caller on a programmer
// error
func DefaultConfig() Config {
	return Config{
		Support: client.Support{
			AES:      true,
			DES:      true,
			ChaCha20: true,
			IPC:      true,
			BootFlag: true,
		},
		ProgrammerError: PolicyPanic,
		MaxKeySlots:     16,
		MaxOperations:   8,
		Manifest:        DefaultManifest(),
	}
}

// Service is a PSA target. Key slots, cipher operations and connections are
// volatile and lost on Reset; the boot flag lives in non-volatile memory.
type Service struct {
	mu    sync.Mutex
	cfg   Config
	log   *slog.Logger
	flags nvmem.BootFlags

	initialized bool
	keys        *keyStore
	ops         *operationTable
	conns       *connectionTable
}

// New creates a powered-on service
func New(cfg Config, nv nvmem.Store, log *slog.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	s := &Service{
		cfg:   cfg,
		log:   log.With("component", "service"),
		flags: nvmem.BootFlags{Store: nv},
	}
	s.resetLocked()
	return s
}

// Reset drops all volatile state, as a target reboot does
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Service) resetLocked() {
	s.initialized = false
	s.keys = newKeyStore(s.cfg.MaxKeySlots)
	s.ops = newOperationTable(s.cfg.MaxOperations)
	s.conns = newConnectionTable()
}

// Support returns the features of this service
func (s *Service) Support() client.Support {
	return s.cfg.Support
}

// Handle executes one command from caller and returns the encoded response.
// It returns ErrCallerPanic or ErrCallerHang, and no response, when the
// caller committed a programmer error.
func (s *Service) Handle(caller int32, req []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := bytes.NewReader(req)
	var hdr client.CommandHdr
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return encodeResponse(client.StatusCommunicationFailure, nil)
	}
	if hdr.Magic != client.CmdMagic {
		s.log.Warn("bad command magic", "magic", fmt.Sprintf("0x%08x", hdr.Magic))
		return encodeResponse(client.StatusInvalidArgument, nil)
	}
	if uint16(hdr.Version>>16) != client.CurrentCryptoMajorVersion {
		return encodeResponse(client.StatusNotSupported, nil)
	}

	payload, err := s.dispatch(caller, hdr.Cmd, r)
	if errors.Is(err, ErrCallerPanic) || errors.Is(err, ErrCallerHang) {
		s.log.Error("caller terminated", "caller", caller, "cmd", hdr.Cmd, "err", err)
		return nil, err
	}

	status, ok := client.StatusOf(err)
	if !ok {
		s.log.Error("command failed", "cmd", hdr.Cmd, "err", err)
		status = client.StatusGenericError
	}
	s.log.Debug("command", "caller", caller, "cmd", hdr.Cmd, "status", status)
	return encodeResponse(status, payload)
}

func encodeResponse(status client.Status, payload any) ([]byte, error) {
	hdr := client.RespHdr{
		Magic:   client.RespMagic,
		Status:  status,
		Version: uint32(client.CurrentCryptoMajorVersion)<<16 | uint32(client.CurrentCryptoMinorVersion),
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	if status == client.StatusSuccess && payload != nil {
		if err := binary.Write(buf, binary.LittleEndian, payload); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// decode reads a fixed-size request body
func decode(r io.Reader, v any) error {
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		return client.StatusCommunicationFailure
	}
	return nil
}

func (s *Service) dispatch(caller int32, code client.CommandCode, r io.Reader) (any, error) {
	switch code {
	case client.CommandGetInfo:
		return s.getInfo(), nil
	case client.CommandCryptoInit:
		s.initialized = true
		return nil, nil
	case client.CommandImportKey:
		var req client.ImportKeyReq
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return s.importKey(&req)
	case client.CommandDestroyKey:
		var req client.DestroyKeyReq
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return nil, s.destroyKey(req.Handle)
	case client.CommandCipherEncryptSetup, client.CommandCipherDecryptSetup:
		var req client.CipherSetupReq
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return s.cipherSetup(&req, code == client.CommandCipherEncryptSetup)
	case client.CommandCipherSetIV:
		var req client.CipherSetIVReq
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return nil, s.cipherSetIV(&req)
	case client.CommandCipherUpdate:
		var req client.CipherUpdateReq
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return s.cipherUpdate(&req)
	case client.CommandCipherFinish:
		var req client.CipherFinishReq
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return s.cipherFinish(&req)
	case client.CommandCipherAbort:
		var req client.CipherAbortReq
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		s.ops.abort(req.Operation)
		return nil, nil
	case client.CommandConnect:
		var req client.ConnectReq
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return s.connect(caller, &req)
	case client.CommandClose:
		var req client.CloseReq
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return nil, s.close(caller, req.Handle)
	case client.CommandSetBootFlag:
		var req client.BootFlag
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return nil, s.setBootFlag(req.State)
	case client.CommandGetBootFlag:
		return s.getBootFlag()
	}
	return nil, client.StatusNotSupported
}

func (s *Service) getInfo() *client.GetInfoResp {
	return &client.GetInfoResp{
		CryptoMajorVersion:    client.CurrentCryptoMajorVersion,
		CryptoMinorVersion:    client.CurrentCryptoMinorVersion,
		FrameworkMajorVersion: client.CurrentFrameworkMajorVersion,
		FrameworkMinorVersion: client.CurrentFrameworkMinorVersion,
		MaxKeySlots:           uint32(s.cfg.MaxKeySlots),
		Flags:                 s.cfg.Support.ToFlags(),
	}
}

func (s *Service) setBootFlag(state client.BootState) error {
	if !s.cfg.Support.BootFlag {
		return client.StatusNotSupported
	}
	if err := s.flags.SetBootFlag(state); err != nil {
		s.log.Error("boot flag write failed", "state", state, "err", err)
		return client.StatusStorageFailure
	}
	s.log.Info("boot flag set", "state", state)
	return nil
}

func (s *Service) getBootFlag() (*client.BootFlag, error) {
	if !s.cfg.Support.BootFlag {
		return nil, client.StatusNotSupported
	}
	state, err := s.flags.GetBootFlag()
	if err != nil {
		s.log.Error("boot flag read failed", "err", err)
		return nil, client.StatusStorageFailure
	}
	return &client.BootFlag{State: state}, nil
}

// programmerError applies the configured policy to a caller misuse
func (s *Service) programmerError(caller int32, format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	s.log.Warn("programmer error", "caller", caller, "policy", s.cfg.ProgrammerError, "reason", reason)

	switch s.cfg.ProgrammerError {
	case PolicyReturn:
		return client.StatusProgrammerError
	case PolicyHang:
		return fmt.Errorf("%w: %s", ErrCallerHang, reason)
	}
	return fmt.Errorf("%w: %s", ErrCallerPanic, reason)
}
