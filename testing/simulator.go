// Licensed under the Apache-2.0 license

package verification

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
	"github.com/ARM-software/psa-arch-tests/verification/service"
	"github.com/ARM-software/psa-arch-tests/verification/sim"
)

// TargetExe is the simulator executable to use for this test target. When
// it is empty the tests run against the in-process loopback target.
var TargetExe *string

// Watchdog delays used for the test targets. A hung loopback target costs
// its watchdog delay in test time.
const (
	loopbackWatchdog  = 50 * time.Millisecond
	simulatorWatchdog = time.Second
)

var allSupport = []string{"AES", "DES", "ChaCha20", "IPC", "BootFlag"}

// GetSimulatorTarget gets a target with the given features. Non-volatile
// state lives in stateDir.
func GetSimulatorTarget(name string, supportNeeded []string, policy service.Policy, stateDir string) client.TestPSAInstance {
	support, err := client.SupportFromNames(supportNeeded)
	if err != nil {
		panic(err)
	}

	if TargetExe == nil || *TargetExe == "" {
		cfg := service.DefaultConfig()
		cfg.Support = support
		cfg.ProgrammerError = policy
		return sim.NewLoopback(cfg, nvmem.NewMemStore(), nil, loopbackWatchdog)
	}

	return sim.NewSimulator(sim.SimulatorOptions{
		Exe:             *TargetExe,
		SocketPath:      filepath.Join(stateDir, name+".socket"),
		NvmemPath:       filepath.Join(stateDir, name+"-nvmem.json"),
		Support:         support,
		ProgrammerError: policy.String(),
		Watchdog:        simulatorWatchdog,
		Stdout:          os.Stdout,
	})
}

// GetSimulatorTargets gets different simulator targets with different support
// vectors to run the verification tests against
func GetSimulatorTargets(stateDir string) []TestTarget {
	targets := []TestTarget{
		{
			"SupportNone",
			getTestTarget("SupportNone", []string{}, service.PolicyPanic, sim.NonSecureClientID, stateDir),
			[]TestCase{GetInfoTestCase},
		},
		{
			"DefaultSupport",
			getTestTarget("DefaultSupport", allSupport, service.PolicyPanic, sim.NonSecureClientID, stateDir),
			AllTestCases,
		},
		{
			"DefaultSupport_Secure",
			getTestTarget("DefaultSupport_Secure", allSupport, service.PolicyPanic, sim.SecureClientID, stateDir),
			AllTestCases,
		},
		{
			"Crypto_AESOnly",
			getTestTarget("Crypto_AESOnly", []string{"AES"}, service.PolicyPanic, sim.NonSecureClientID, stateDir),
			CryptoTestCases,
		},
		{
			"Crypto_ChaCha20Only",
			getTestTarget("Crypto_ChaCha20Only", []string{"ChaCha20"}, service.PolicyPanic, sim.NonSecureClientID, stateDir),
			CryptoTestCases,
		},
		{
			"IPC_Hang",
			getTestTarget("IPC_Hang", []string{"IPC", "BootFlag"}, service.PolicyHang, sim.NonSecureClientID, stateDir),
			IPCTestCases,
		},
	}

	for _, s := range allSupport {
		name := fmt.Sprintf("GetInfo_%s", s)
		targets = append(targets, TestTarget{
			name,
			getTestTarget(name, []string{s}, service.PolicyPanic, sim.NonSecureClientID, stateDir),
			[]TestCase{GetInfoTestCase},
		})
	}
	return targets
}

// Get the test target for simulator/loopback
func getTestTarget(name string, supportNeeded []string, policy service.Policy, clientID int32, stateDir string) client.TestPSAInstance {
	instance := GetSimulatorTarget(name, supportNeeded, policy, stateDir)
	instance.SetClientID(clientID)
	return instance
}
