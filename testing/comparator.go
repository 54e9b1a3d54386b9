// Licensed under the Apache-2.0 license

package verification

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/logging"
)

// VectorComparator drives multipart cipher operations on a target and
// compares what the finish stage returns with a CipherVector.
type VectorComparator struct {
	Client client.PSAClient
	Log    *slog.Logger
}

// VectorResult is the outcome of one vector. Err describes the mismatch for
// StatusFail and the harness failure for StatusError.
type VectorResult struct {
	// Index is the 1-based position of the vector in its table
	Index  int
	Vector *CipherVector
	Status TestStatus
	Err    error
}

func (vc *VectorComparator) logger() *slog.Logger {
	if vc.Log == nil {
		return logging.Discard()
	}
	return vc.Log
}

// compareStatus compares the result of a cipher call with the status the
// vector expects. Errors that did not come from the target are harness
// errors.
func compareStatus(stage string, want client.Status, err error) (TestStatus, error) {
	got, ok := client.StatusOf(err)
	if !ok {
		return StatusError, fmt.Errorf("%s: %w", stage, err)
	}
	if got != want {
		return StatusFail, fmt.Errorf("%s returned %w, want %v", stage, got, want)
	}
	return StatusPass, nil
}

// requireSuccess checks a stage before finish. Those stages succeed for
// every vector; the expected status only applies to finish.
func requireSuccess(stage string, err error) (TestStatus, error) {
	return compareStatus(stage, client.StatusSuccess, err)
}

// Check runs one vector. The key and the operation are released before Check
// returns, whatever the outcome.
func (vc *VectorComparator) Check(v *CipherVector) (TestStatus, error) {
	c := vc.Client
	log := vc.logger().With("vector", v.Description)

	key, err := c.ImportKey(client.KeyAttributes{Type: v.KeyType, Usage: v.Usage, Alg: v.Alg}, v.KeyData)
	if err != nil {
		return StatusError, fmt.Errorf("could not import the %v key: %w", v.KeyType, err)
	}
	defer func() {
		if err := c.DestroyKey(key); err != nil {
			log.Warn("could not destroy key", "handle", key, "err", err)
		}
	}()

	var op client.OperationHandle
	if v.Encrypts() {
		op, err = c.CipherEncryptSetup(key, v.Alg)
	} else {
		op, err = c.CipherDecryptSetup(key, v.Alg)
	}
	if status, err := requireSuccess("setup", err); status != StatusPass {
		return status, err
	}
	defer func() {
		if err := c.CipherAbort(op); err != nil {
			log.Warn("could not abort operation", "handle", op, "err", err)
		}
	}()

	if status, err := requireSuccess("set IV", c.CipherSetIV(op, v.IV)); status != StatusPass {
		return status, err
	}

	update, err := c.CipherUpdate(op, v.Input, v.OutputSize[0])
	if status, err := requireSuccess("update", err); status != StatusPass {
		return status, err
	}

	final, err := c.CipherFinish(op, v.OutputSize[1])
	if status, err := compareStatus("finish", v.ExpectedStatus, err); status != StatusPass || v.ExpectedStatus != client.StatusSuccess {
		return status, err
	}

	if len(final) != v.ExpectedOutputLength {
		return StatusFail, fmt.Errorf("finish produced %d bytes, want %d", len(final), v.ExpectedOutputLength)
	}
	output := make([]byte, 0, len(update)+len(final))
	output = append(output, update...)
	output = append(output, final...)
	if !bytes.Equal(output, v.ExpectedOutput) {
		return StatusFail, fmt.Errorf("output %x, want %x", output, v.ExpectedOutput)
	}
	log.Debug("vector passed", "update", len(update), "finish", len(final))
	return StatusPass, nil
}

// CheckAll runs every vector in order. A failing vector does not stop the
// run.
func (vc *VectorComparator) CheckAll(vectors []CipherVector) []VectorResult {
	results := make([]VectorResult, 0, len(vectors))
	for i := range vectors {
		v := &vectors[i]
		status, err := vc.Check(v)
		if status != StatusPass {
			vc.logger().Info("vector did not pass", "index", i+1, "vector", v.Description, "status", status, "err", err)
		}
		results = append(results, VectorResult{Index: i + 1, Vector: v, Status: status, Err: err})
	}
	return results
}
