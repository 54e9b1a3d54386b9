// Licensed under the Apache-2.0 license

package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
	"github.com/ARM-software/psa-arch-tests/verification/service"
	"github.com/ARM-software/psa-arch-tests/verification/sim"
)

func TestRunTestStatuses(t *testing.T) {
	l, c := newLoopback(t, service.DefaultConfig())

	reached := false
	tests := []struct {
		name   string
		run    PSATestFunc
		status TestStatus
	}{
		{"pass", func(client.TestPSAInstance, client.PSAClient, TB) {}, StatusPass},
		{"error", func(_ client.TestPSAInstance, _ client.PSAClient, t TB) {
			t.Errorf("first")
			t.Errorf("second")
		}, StatusFail},
		{"fatal", func(_ client.TestPSAInstance, _ client.PSAClient, t TB) {
			t.Fatalf("stop")
			reached = true
		}, StatusFail},
		{"abort", func(_ client.TestPSAInstance, _ client.PSAClient, t TB) {
			t.Errorf("mismatch")
			t.Abortf("no flash")
		}, StatusError},
		{"skip", func(_ client.TestPSAInstance, _ client.PSAClient, t TB) {
			t.Skipf("not today")
		}, StatusSkip},
		{"panic", func(client.TestPSAInstance, client.PSAClient, TB) {
			panic("boom")
		}, StatusError},
	}
	for _, tt := range tests {
		report := RunTest(l, c, TestCase{tt.name, tt.run, nil}, nil)
		assert.Equal(t, tt.status, report.Status, tt.name)
	}
	assert.False(t, reached, "Fatalf must stop the test")

	report := RunTest(l, c, TestCase{"error", tests[1].run, nil}, nil)
	assert.Equal(t, []string{"first", "second"}, report.Messages)
}

func TestRunTestMissingSupport(t *testing.T) {
	cfg := service.DefaultConfig()
	cfg.Support.IPC = false
	l, c := newLoopback(t, cfg)

	report := RunTest(l, c, ConnectExternSIDTestCase, nil)
	assert.Equal(t, StatusSkip, report.Status)
}

func TestRunnerSuites(t *testing.T) {
	l := sim.NewLoopback(service.DefaultConfig(), nvmem.NewMemStore(), nil, 0)
	progress := &nvmem.Progress{Store: nvmem.NewMemStore()}

	r := Runner{Target: l, Progress: progress, RunID: "suite-run"}
	reports, err := r.Run(AllTestCases)
	require.NoError(t, err)
	require.Len(t, reports, len(AllTestCases))
	for _, report := range reports {
		assert.Equal(t, StatusPass, report.Status, "%s: %v", report.Name, report.Messages)
	}
	assert.Equal(t, map[TestStatus]int{StatusPass: len(AllTestCases)}, CountStatuses(reports))

	_, inFlight, err := progress.Current()
	require.NoError(t, err)
	assert.False(t, inFlight)
}

func TestRunnerResumesAfterReset(t *testing.T) {
	// A previous run was killed by a reset while running the second test
	nv := nvmem.NewMemStore()
	require.NoError(t, nvmem.BootFlags{Store: nv}.SetBootFlag(client.BootExpectedNS))
	progress := &nvmem.Progress{Store: nvmem.NewMemStore()}
	require.NoError(t, progress.Begin(1))

	tests := []TestCase{GetInfoTestCase, UnexternSIDConnectionTestCase, ConnectExternSIDTestCase}
	l := sim.NewLoopback(service.DefaultConfig(), nv, nil, 0)
	r := Runner{Target: l, Progress: progress}
	reports, err := r.Run(tests)
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, UnexternSIDConnectionTestCase.Name, reports[0].Name)
	assert.True(t, reports[0].Resumed)
	assert.Equal(t, StatusPass, reports[0].Status)
	assert.Equal(t, ConnectExternSIDTestCase.Name, reports[1].Name)
	assert.Equal(t, StatusPass, reports[1].Status)
	assert.NotEmpty(t, r.RunID)
}

func TestRunnerResumeWithoutBootFlag(t *testing.T) {
	progress := &nvmem.Progress{Store: nvmem.NewMemStore()}
	require.NoError(t, progress.Begin(0))

	l := sim.NewLoopback(service.DefaultConfig(), nvmem.NewMemStore(), nil, 0)
	r := Runner{Target: l, Progress: progress}
	reports, err := r.Run([]TestCase{GetInfoTestCase, GetInfoTestCase})
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.True(t, reports[0].Resumed)
	assert.Equal(t, StatusError, reports[0].Status)
	assert.Equal(t, StatusPass, reports[1].Status)
}
