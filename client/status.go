// Licensed under the Apache-2.0 license

package client

import (
	"errors"
	"fmt"
)

// Status is a psa_status_t returned by the target
type Status int32

// PSA Crypto 1.0 and PSA-FF 1.0 status codes
const (
	StatusSuccess              Status = 0
	StatusProgrammerError      Status = -129
	StatusConnectionRefused    Status = -130
	StatusConnectionBusy       Status = -131
	StatusGenericError         Status = -132
	StatusNotPermitted         Status = -133
	StatusNotSupported         Status = -134
	StatusInvalidArgument      Status = -135
	StatusInvalidHandle        Status = -136
	StatusBadState             Status = -137
	StatusBufferTooSmall       Status = -138
	StatusAlreadyExists        Status = -139
	StatusDoesNotExist         Status = -140
	StatusInsufficientMemory   Status = -141
	StatusInsufficientStorage  Status = -142
	StatusInsufficientData     Status = -143
	StatusCommunicationFailure Status = -145
	StatusStorageFailure       Status = -146
	StatusHardwareFailure      Status = -147
	StatusInsufficientEntropy  Status = -148
	StatusInvalidSignature     Status = -149
	StatusInvalidPadding       Status = -150
	StatusCorruptionDetected   Status = -151
)

func (s Status) Error() string {
	switch s {
	case StatusSuccess:
		return "PSA_SUCCESS"
	case StatusProgrammerError:
		return "PSA_ERROR_PROGRAMMER_ERROR"
	case StatusConnectionRefused:
		return "PSA_ERROR_CONNECTION_REFUSED"
	case StatusConnectionBusy:
		return "PSA_ERROR_CONNECTION_BUSY"
	case StatusGenericError:
		return "PSA_ERROR_GENERIC_ERROR"
	case StatusNotPermitted:
		return "PSA_ERROR_NOT_PERMITTED"
	case StatusNotSupported:
		return "PSA_ERROR_NOT_SUPPORTED"
	case StatusInvalidArgument:
		return "PSA_ERROR_INVALID_ARGUMENT"
	case StatusInvalidHandle:
		return "PSA_ERROR_INVALID_HANDLE"
	case StatusBadState:
		return "PSA_ERROR_BAD_STATE"
	case StatusBufferTooSmall:
		return "PSA_ERROR_BUFFER_TOO_SMALL"
	case StatusAlreadyExists:
		return "PSA_ERROR_ALREADY_EXISTS"
	case StatusDoesNotExist:
		return "PSA_ERROR_DOES_NOT_EXIST"
	case StatusInsufficientMemory:
		return "PSA_ERROR_INSUFFICIENT_MEMORY"
	case StatusInsufficientStorage:
		return "PSA_ERROR_INSUFFICIENT_STORAGE"
	case StatusInsufficientData:
		return "PSA_ERROR_INSUFFICIENT_DATA"
	case StatusCommunicationFailure:
		return "PSA_ERROR_COMMUNICATION_FAILURE"
	case StatusStorageFailure:
		return "PSA_ERROR_STORAGE_FAILURE"
	case StatusHardwareFailure:
		return "PSA_ERROR_HARDWARE_FAILURE"
	case StatusInsufficientEntropy:
		return "PSA_ERROR_INSUFFICIENT_ENTROPY"
	case StatusInvalidSignature:
		return "PSA_ERROR_INVALID_SIGNATURE"
	case StatusInvalidPadding:
		return "PSA_ERROR_INVALID_PADDING"
	case StatusCorruptionDetected:
		return "PSA_ERROR_CORRUPTION_DETECTED"
	default:
		return fmt.Sprintf("unrecognized PSA status %d", int32(s))
	}
}

// StatusOf reports the PSA status carried by err. A nil error is
// StatusSuccess. ok is false when err did not come from the target, i.e. the
// harness or the transport failed.
func StatusOf(err error) (s Status, ok bool) {
	if err == nil {
		return StatusSuccess, true
	}
	if errors.As(err, &s) {
		return s, true
	}
	return 0, false
}
