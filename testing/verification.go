// Licensed under the Apache-2.0 license

// Package verification provides conformance tests for implementations of the
// PSA Crypto cipher API and the PSA Firmware Framework IPC API.
package verification

import (
	"fmt"
	"testing"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// TB is the subset of testing.TB a PSA test uses. Abortf reports a harness
// infrastructure failure rather than a conformance failure.
type TB interface {
	Helper()
	Logf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	Abortf(format string, args ...any)
	Skipf(format string, args ...any)
	Failed() bool
}

// testingTB runs a PSA test under go test
type testingTB struct {
	*testing.T
}

func (t testingTB) Abortf(format string, args ...any) {
	t.Helper()
	t.Fatalf("[ABORT]: "+format, args...)
}

// PSATestFunc is the function template that a PSA test case must implement
type PSATestFunc func(d client.TestPSAInstance, c client.PSAClient, t TB)

// TestCase is metadata for a PSA test case
type TestCase struct {
	Name          string
	Run           PSATestFunc
	SupportNeeded []string
}

// TestTarget is a client.TestPSAInstance and corresponding list of test cases to run
// against that target.
type TestTarget struct {
	Name      string
	D         client.TestPSAInstance
	TestCases []TestCase
}

// GetInfoTestCase tests GetInfo
var GetInfoTestCase = TestCase{
	"GetInfo", TestGetInfo, []string{},
}

// CipherFinishTestCase runs the cipher finish vectors
var CipherFinishTestCase = TestCase{
	"CipherFinish", TestCipherFinish, []string{"AES"},
}

// CipherRoundTripTestCase decrypts the output of every encrypt vector with its
// paired decrypt vector
var CipherRoundTripTestCase = TestCase{
	"CipherRoundTrip", TestCipherRoundTrip, []string{"AES"},
}

// ChaCha20RoundTripTestCase encrypts and decrypts with a stream cipher in chunks
var ChaCha20RoundTripTestCase = TestCase{
	"ChaCha20RoundTrip", TestChaCha20RoundTrip, []string{"ChaCha20"},
}

// ConnectExternSIDTestCase connects to RoT Services visible to the caller
var ConnectExternSIDTestCase = TestCase{
	"ConnectExternSID", TestConnectExternSID, []string{"IPC"},
}

// UnexternSIDConnectionTestCase connects to a RoT Service that is not
// exposed to the caller and expects the target to reset
var UnexternSIDConnectionTestCase = TestCase{
	"UnexternSIDConnection", TestUnexternSIDConnection, []string{"IPC", "BootFlag"},
}

// CipherFinishVectorsTestCase runs the given vectors in place of
// CipherFinishVectors
func CipherFinishVectorsTestCase(vectors []CipherVector) TestCase {
	return TestCase{"CipherFinish", TestCipherFinishVectors(vectors), []string{}}
}

// InfoTestCases contains the tests of the info suite
var InfoTestCases = []TestCase{
	GetInfoTestCase,
}

// CryptoTestCases contains the tests of the crypto suite
var CryptoTestCases = []TestCase{
	CipherFinishTestCase,
	CipherRoundTripTestCase,
	ChaCha20RoundTripTestCase,
}

// IPCTestCases contains the tests of the ipc suite. UnexternSIDConnection
// resets the target, so it runs last.
var IPCTestCases = []TestCase{
	ConnectExternSIDTestCase,
	UnexternSIDConnectionTestCase,
}

// AllTestCases contains all PSA test cases
var AllTestCases = concatTestCases(InfoTestCases, CryptoTestCases, IPCTestCases)

func concatTestCases(suites ...[]TestCase) []TestCase {
	var all []TestCase
	for _, s := range suites {
		all = append(all, s...)
	}
	return all
}

// SuiteTestCases returns the test cases of a named suite
func SuiteTestCases(name string) ([]TestCase, error) {
	switch name {
	case "info":
		return InfoTestCases, nil
	case "crypto":
		return CryptoTestCases, nil
	case "ipc":
		return IPCTestCases, nil
	}
	return nil, fmt.Errorf("unknown suite %q", name)
}

// RunTargetTestCases runs all test cases for target
func RunTargetTestCases(target TestTarget, t *testing.T) {
	// This needs to be in a separate function to make sure it is powered off before running the
	// next target. The simulator can otherwise attach to an old instance.
	if target.D.HasPowerControl() {
		err := target.D.PowerOn()
		if err != nil {
			t.Fatalf("Could not power on the target: %v", err)
		}
		defer target.D.PowerOff()
	}

	c, err := client.NewClient(target.D)
	if err != nil {
		t.Fatalf("Could not initialize client: %v", err)
	}

	if target.D.GetSupport().BootFlag {
		class, err := ResumeFromBoot(c)
		if err != nil {
			t.Fatalf("Could not read the boot flag: %v", err)
		}
		if class != NoReset {
			t.Logf("A previous run left a pending boot flag: %v", class)
		}
	}

	for _, test := range target.TestCases {
		t.Run(target.Name+"-"+test.Name, func(t *testing.T) {
			if !client.HasSupportNeeded(target.D, test.SupportNeeded) {
				t.Skipf("Warning: Target does not have required support, skipping test.")
			}

			test.Run(target.D, c, testingTB{t})
		})
	}
}
