// Licensed under the Apache-2.0 license

package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
	"github.com/ARM-software/psa-arch-tests/verification/service"
)

// ErrPoweredOff is returned when a command is sent to a target that is off
var ErrPoweredOff = errors.New("target is powered off")

// LoopbackTarget runs the reference service in-process. Its non-volatile
// memory outlives power cycles; everything else is rebuilt on PowerOn.
//
// LoopbackTarget implements the client.Transport and client.TestPSAInstance
// interfaces.
type LoopbackTarget struct {
	cfg      service.Config
	nv       nvmem.Store
	log      *slog.Logger
	watchdog time.Duration

	svc      *service.Service
	hung     bool
	clientID int32
}

// NewLoopback returns a powered-off loopback target
func NewLoopback(cfg service.Config, nv nvmem.Store, log *slog.Logger, watchdog time.Duration) *LoopbackTarget {
	if watchdog <= 0 {
		watchdog = DefaultWatchdog
	}
	return &LoopbackTarget{
		cfg:      cfg,
		nv:       nv,
		log:      log,
		watchdog: watchdog,
		clientID: NonSecureClientID,
	}
}

// HasPowerControl returns whether the target can be started and stopped.
func (l *LoopbackTarget) HasPowerControl() bool {
	return true
}

// PowerOn boots the service with empty volatile state
func (l *LoopbackTarget) PowerOn() error {
	if l.svc == nil {
		l.svc = service.New(l.cfg, l.nv, l.log)
	}
	l.hung = false
	return nil
}

// PowerOff drops the service
func (l *LoopbackTarget) PowerOff() error {
	l.svc = nil
	l.hung = false
	return nil
}

// SendCmd executes a command as the current client. A caller panic resets
// the service and reports client.ErrTargetReset; a hung service reports
// client.ErrWatchdogTimeout once the watchdog delay has passed.
func (l *LoopbackTarget) SendCmd(buf []byte) ([]byte, error) {
	if l.svc == nil {
		return nil, ErrPoweredOff
	}
	if l.hung {
		time.Sleep(l.watchdog)
		return nil, client.ErrWatchdogTimeout
	}

	resp, err := l.svc.Handle(l.clientID, buf)
	switch {
	case errors.Is(err, service.ErrCallerPanic):
		l.svc.Reset()
		return nil, fmt.Errorf("%w: %v", client.ErrTargetReset, err)
	case errors.Is(err, service.ErrCallerHang):
		l.hung = true
		time.Sleep(l.watchdog)
		return nil, client.ErrWatchdogTimeout
	case err != nil:
		return nil, err
	}
	return resp, nil
}

// GetSupport gets supported PSA features from the service
func (l *LoopbackTarget) GetSupport() *client.Support {
	return &l.cfg.Support
}

// GetClientID gets the client ID commands are sent from
func (l *LoopbackTarget) GetClientID() int32 {
	return l.clientID
}

// SetClientID sets the client ID commands are sent from
func (l *LoopbackTarget) SetClientID(id int32) {
	l.clientID = id
}

// GetSupportedClients gets the client IDs the service accepts
func (l *LoopbackTarget) GetSupportedClients() []int32 {
	return []int32{NonSecureClientID, SecureClientID}
}

// GetCryptoMajorVersion gets the PSA Crypto API major version
func (l *LoopbackTarget) GetCryptoMajorVersion() uint16 {
	return client.CurrentCryptoMajorVersion
}

// GetCryptoMinorVersion gets the PSA Crypto API minor version
func (l *LoopbackTarget) GetCryptoMinorVersion() uint16 {
	return client.CurrentCryptoMinorVersion
}

// GetFrameworkMajorVersion gets the PSA-FF major version
func (l *LoopbackTarget) GetFrameworkMajorVersion() uint16 {
	return client.CurrentFrameworkMajorVersion
}

// GetFrameworkMinorVersion gets the PSA-FF minor version
func (l *LoopbackTarget) GetFrameworkMinorVersion() uint16 {
	return client.CurrentFrameworkMinorVersion
}
