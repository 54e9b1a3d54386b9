// Licensed under the Apache-2.0 license

// Package client provides a modular PSA client that can be used to
// communicate with a PSA target over different transports.
package client

import (
	"errors"
	"fmt"
	"reflect"
)

const (
	// MaxChunkSize is the max number of input bytes in one cipher update
	MaxChunkSize = 256
	// MaxBlockSize is the largest cipher block size of a supported key type
	MaxBlockSize = 16
	// MaxOutputSize is the max number of bytes returned by one cipher call
	MaxOutputSize = MaxChunkSize + MaxBlockSize
	// MaxKeySize is the largest supported key
	MaxKeySize = 32
	// MaxIVSize is the largest supported IV
	MaxIVSize = 16
)

var (
	// ErrTargetReset is returned by a transport when the target went down
	// while it was processing a command, e.g. because it panicked the caller.
	ErrTargetReset = errors.New("target reset while processing the command")
	// ErrWatchdogTimeout is returned by a transport when the target did not
	// answer before the watchdog expired. The target must be rebooted.
	ErrWatchdogTimeout = errors.New("watchdog expired waiting for the target")
)

// Transport is an interface to define how to send messages to a PSA target.
type Transport interface {
	// Send a command to the PSA target.
	SendCmd(buf []byte) ([]byte, error)
}

// KeyAttributes describes a key to import
type KeyAttributes struct {
	Type  KeyType
	Usage KeyUsage
	Alg   Algorithm
}

// PSAClient is a generic interface to a PSA target
type PSAClient interface {
	GetInfo() (*GetInfoResp, error)
	CryptoInit() error
	ImportKey(attrs KeyAttributes, data []byte) (KeyHandle, error)
	DestroyKey(handle KeyHandle) error
	CipherEncryptSetup(handle KeyHandle, alg Algorithm) (OperationHandle, error)
	CipherDecryptSetup(handle KeyHandle, alg Algorithm) (OperationHandle, error)
	CipherSetIV(op OperationHandle, iv []byte) error
	CipherUpdate(op OperationHandle, input []byte, outputSize int) ([]byte, error)
	CipherFinish(op OperationHandle, outputSize int) ([]byte, error)
	CipherAbort(op OperationHandle) error
	Connect(sid SID, version uint32) (ConnectionHandle, error)
	Close(handle ConnectionHandle) error
	BootFlagStore
}

// Support is the set of features a PSA target supports
type Support struct {
	AES      bool
	DES      bool
	ChaCha20 bool
	IPC      bool
	BootFlag bool
}

// ToFlags converts support to the wire support flags format
func (s *Support) ToFlags() uint32 {
	flags := uint32(0)
	if s.AES {
		flags |= (1 << 31)
	}
	if s.DES {
		flags |= (1 << 30)
	}
	if s.ChaCha20 {
		flags |= (1 << 29)
	}
	if s.IPC {
		flags |= (1 << 28)
	}
	if s.BootFlag {
		flags |= (1 << 27)
	}
	return flags
}

// SupportFromFlags is the inverse of ToFlags
func SupportFromFlags(flags uint32) Support {
	return Support{
		AES:      flags&(1<<31) != 0,
		DES:      flags&(1<<30) != 0,
		ChaCha20: flags&(1<<29) != 0,
		IPC:      flags&(1<<28) != 0,
		BootFlag: flags&(1<<27) != 0,
	}
}

// SupportFromNames builds a Support with the named fields set. Unknown names
// are an error.
func SupportFromNames(names []string) (Support, error) {
	var s Support
	v := reflect.ValueOf(&s).Elem()
	for _, name := range names {
		f := v.FieldByName(name)
		if !f.IsValid() || f.Kind() != reflect.Bool {
			return Support{}, fmt.Errorf("unknown support %q", name)
		}
		f.SetBool(true)
	}
	return s, nil
}

// TestPSAInstance is a PSA target under test together with what the harness
// knows about it.
type TestPSAInstance interface {
	Transport
	// HasPowerControl returns whether the target can be started and stopped.
	HasPowerControl() bool
	// PowerOn starts the target. Volatile state starts empty.
	PowerOn() error
	// PowerOff stops the target. Non-volatile state is kept.
	PowerOff() error
	GetSupport() *Support
	// GetClientID returns the partition ID commands are sent from. Negative
	// IDs are non-secure clients.
	GetClientID() int32
	SetClientID(id int32)
	GetSupportedClients() []int32
	GetCryptoMajorVersion() uint16
	GetCryptoMinorVersion() uint16
	GetFrameworkMajorVersion() uint16
	GetFrameworkMinorVersion() uint16
}

// HasSupportNeeded reports whether d supports every named feature
func HasSupportNeeded(d TestPSAInstance, supportNeeded []string) bool {
	support := reflect.ValueOf(*d.GetSupport())
	for _, name := range supportNeeded {
		f := support.FieldByName(name)
		if !f.IsValid() || !f.Bool() {
			return false
		}
	}
	return true
}

// IsNonSecure reports whether a client ID belongs to the non-secure world
func IsNonSecure(clientID int32) bool {
	return clientID < 0
}

// NewClient returns a new PSA client after checking the target speaks a
// supported API version.
func NewClient(t Transport) (PSAClient, error) {
	return NewPSAABI(t)
}
