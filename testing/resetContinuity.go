// Licensed under the Apache-2.0 license

package verification

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/logging"
)

// ResetClass classifies a reset observed around a call that should have
// reset the target
type ResetClass int

// Reset classes
const (
	// ExpectedReset is a reset caused by the call under test
	ExpectedReset ResetClass = iota
	// ReturnedWithoutReset means the call returned and the harness recorded
	// it before the target went down
	ReturnedWithoutReset
	// UnrelatedReset is a reset no test was waiting for
	UnrelatedReset
	// NoReset means no check was in flight when the target last went down
	NoReset
)

func (r ResetClass) String() string {
	switch r {
	case ExpectedReset:
		return "expected reset"
	case ReturnedWithoutReset:
		return "returned without reset"
	case UnrelatedReset:
		return "unrelated reset"
	case NoReset:
		return "no reset pending"
	}
	return fmt.Sprintf("reset class %d", int(r))
}

// Status is the test status a reset of this class gives
func (r ResetClass) Status() TestStatus {
	switch r {
	case ExpectedReset:
		return StatusPass
	case ReturnedWithoutReset:
		return StatusFail
	}
	return StatusError
}

// ClassifyBoot classifies a reset from the boot flag read after it
func ClassifyBoot(state client.BootState) ResetClass {
	switch state {
	case client.BootExpectedS, client.BootExpectedNS:
		return ExpectedReset
	case client.BootExpectedButFailed:
		return ReturnedWithoutReset
	}
	return UnrelatedReset
}

// CallOutcome is how a call that may reset the target ended: it either
// returned to the caller or the target went down while running it.
type CallOutcome struct {
	Terminated bool
	// Err is the error the call returned, or the transport error reporting
	// the reset
	Err error
}

// Returned is the outcome of a call that came back, with or without error
func Returned(err error) CallOutcome {
	return CallOutcome{Err: err}
}

// Terminated is the outcome of a call that never came back
func Terminated(err error) CallOutcome {
	return CallOutcome{Terminated: true, Err: err}
}

// OutcomeOf tags the error of a target call. Transports report a target that
// went down with client.ErrTargetReset or client.ErrWatchdogTimeout.
func OutcomeOf(err error) CallOutcome {
	if errors.Is(err, client.ErrTargetReset) || errors.Is(err, client.ErrWatchdogTimeout) {
		return Terminated(err)
	}
	return Returned(err)
}

// ResetResult is the verdict of a ResetVerifier run. Class is only
// meaningful when the call terminated.
type ResetResult struct {
	Status  TestStatus
	Outcome CallOutcome
	Class   ResetClass
	Err     error
}

// ResetVerifier checks that a call resets the target. It brackets the call
// with durable boot flag writes so the reason of a reset can be told after
// the fact.
type ResetVerifier struct {
	Target client.TestPSAInstance
	Flags  client.BootFlagStore
	Log    *slog.Logger
}

func (v *ResetVerifier) logger() *slog.Logger {
	if v.Log == nil {
		return logging.Discard()
	}
	return v.Log
}

func aborted(outcome CallOutcome, format string, args ...any) ResetResult {
	return ResetResult{Status: StatusError, Outcome: outcome, Class: UnrelatedReset, Err: fmt.Errorf(format, args...)}
}

// Run runs risky, which must not be called again on the same target until
// Run returns.
func (v *ResetVerifier) Run(risky func() CallOutcome) ResetResult {
	log := v.logger()

	before := client.BootExpectedS
	if client.IsNonSecure(v.Target.GetClientID()) {
		before = client.BootExpectedNS
	}
	if err := v.Flags.SetBootFlag(before); err != nil {
		return aborted(CallOutcome{}, "failed to set boot flag before check: %w", err)
	}
	log.Debug("boot flag set", "state", before)

	outcome := risky()
	if !outcome.Terminated {
		if err := v.Flags.SetBootFlag(client.BootExpectedButFailed); err != nil {
			return aborted(outcome, "failed to set boot flag after check: %w", err)
		}
		log.Info("call returned without resetting the target", "err", outcome.Err)
		return ResetResult{
			Status:  StatusFail,
			Outcome: outcome,
			Class:   ReturnedWithoutReset,
			Err:     fmt.Errorf("call returned without resetting the target (%v)", outcome.Err),
		}
	}

	log.Info("target went down", "err", outcome.Err)
	if !v.Target.HasPowerControl() {
		return aborted(outcome, "target cannot be rebooted by the harness")
	}
	if err := v.Target.PowerOff(); err != nil {
		return aborted(outcome, "could not power off the target: %w", err)
	}
	if err := v.Target.PowerOn(); err != nil {
		return aborted(outcome, "could not power on the target: %w", err)
	}

	state, err := v.Flags.GetBootFlag()
	if err != nil {
		return aborted(outcome, "could not read the boot flag after reset: %w", err)
	}
	class := ClassifyBoot(state)
	if err := v.Flags.SetBootFlag(client.BootNotExpected); err != nil {
		return aborted(outcome, "could not clear the boot flag: %w", err)
	}
	log.Info("reset classified", "state", state, "class", class)

	res := ResetResult{Status: class.Status(), Outcome: outcome, Class: class}
	if class != ExpectedReset {
		res.Err = fmt.Errorf("boot flag after reset is %v: %v", state, class)
	}
	return res
}

// ResumeFromBoot classifies a reset that interrupted a previous run and
// clears the boot flag. It returns NoReset when no check was in flight.
func ResumeFromBoot(flags client.BootFlagStore) (ResetClass, error) {
	state, err := flags.GetBootFlag()
	if err != nil {
		return UnrelatedReset, err
	}
	switch state {
	case client.BootUnknown, client.BootNotExpected:
		return NoReset, nil
	}
	class := ClassifyBoot(state)
	if err := flags.SetBootFlag(client.BootNotExpected); err != nil {
		return class, err
	}
	return class, nil
}
