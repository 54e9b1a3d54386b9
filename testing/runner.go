// Licensed under the Apache-2.0 license

package verification

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/logging"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
)

// TestStatus is the verdict of a test or a vector
type TestStatus int

// Test verdicts
const (
	StatusPass TestStatus = iota
	StatusFail
	StatusError
	StatusSkip
)

func (s TestStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusFail:
		return "FAIL"
	case StatusError:
		return "ERROR"
	case StatusSkip:
		return "SKIP"
	}
	return fmt.Sprintf("status %d", int(s))
}

// TestReport is the result of one test case outside of go test
type TestReport struct {
	Name     string
	Status   TestStatus
	Messages []string
	Duration time.Duration
	// Resumed is set for a test that was interrupted by a reset and judged
	// after the harness came back
	Resumed bool
}

// recorder implements TB for RunTest. Fatalf, Abortf and Skipf end the
// test goroutine like their testing.T counterparts.
type recorder struct {
	log *slog.Logger

	mu       sync.Mutex
	failed   bool
	aborted  bool
	skipped  bool
	messages []string
}

func (r *recorder) Helper() {}

func (r *recorder) record(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) Logf(format string, args ...any) {
	r.log.Debug(fmt.Sprintf(format, args...))
}

func (r *recorder) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.failed = true
	r.mu.Unlock()
	r.record(msg)
	r.log.Error(msg)
}

func (r *recorder) Fatalf(format string, args ...any) {
	r.Errorf(format, args...)
	runtime.Goexit()
}

func (r *recorder) Abortf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.aborted = true
	r.mu.Unlock()
	r.record(msg)
	r.log.Error("test aborted", "err", msg)
	runtime.Goexit()
}

func (r *recorder) Skipf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.skipped = true
	r.mu.Unlock()
	r.record(msg)
	runtime.Goexit()
}

func (r *recorder) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed || r.aborted
}

func (r *recorder) status() TestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.aborted:
		return StatusError
	case r.failed:
		return StatusFail
	case r.skipped:
		return StatusSkip
	}
	return StatusPass
}

// RunTest runs one test case against a powered target
func RunTest(d client.TestPSAInstance, c client.PSAClient, test TestCase, log *slog.Logger) TestReport {
	if log == nil {
		log = logging.Discard()
	}
	r := &recorder{log: log.With("test", test.Name)}
	start := time.Now()

	if !client.HasSupportNeeded(d, test.SupportNeeded) {
		return TestReport{Name: test.Name, Status: StatusSkip, Messages: []string{"target does not have required support"}}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				r.mu.Lock()
				r.aborted = true
				r.mu.Unlock()
				r.record(fmt.Sprintf("test panicked: %v", p))
			}
		}()
		test.Run(d, c, r)
	}()
	<-done

	return TestReport{
		Name:     test.Name,
		Status:   r.status(),
		Messages: r.messages,
		Duration: time.Since(start),
	}
}

// Runner runs test cases outside of go test. When Progress is set the index
// of the running test is kept there, so a run killed by a reset continues
// with the next test once the harness is started again.
type Runner struct {
	Target   client.TestPSAInstance
	Progress *nvmem.Progress
	Log      *slog.Logger
	// RunID tags the log records of a run. A random one is used if empty.
	RunID string
}

// Run powers the target on, runs the tests in order and powers it off.
func (r *Runner) Run(tests []TestCase) ([]TestReport, error) {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	log := r.Log
	if log == nil {
		log = logging.Discard()
	}
	log = log.With("run", r.RunID)

	if r.Target.HasPowerControl() {
		if err := r.Target.PowerOn(); err != nil {
			return nil, fmt.Errorf("could not power on the target: %w", err)
		}
		defer r.Target.PowerOff()
	}

	c, err := client.NewClient(r.Target)
	if err != nil {
		return nil, fmt.Errorf("could not initialize client: %w", err)
	}

	var reports []TestReport
	start, err := r.resume(c, tests, log, &reports)
	if err != nil {
		return nil, err
	}

	for i := start; i < len(tests); i++ {
		if r.Progress != nil {
			if err := r.Progress.Begin(i); err != nil {
				return reports, err
			}
		}
		log.Info("running test", "test", tests[i].Name, "index", i)
		report := RunTest(r.Target, c, tests[i], log)
		log.Info("test finished", "test", report.Name, "status", report.Status, "duration", report.Duration)
		reports = append(reports, report)
	}

	if r.Progress != nil {
		if err := r.Progress.End(); err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// resume judges a test a previous run did not finish and returns the index
// to continue from.
func (r *Runner) resume(c client.PSAClient, tests []TestCase, log *slog.Logger, reports *[]TestReport) (int, error) {
	class := NoReset
	if r.Target.GetSupport().BootFlag {
		var err error
		class, err = ResumeFromBoot(c)
		if err != nil {
			return 0, fmt.Errorf("could not read the boot flag: %w", err)
		}
	}

	inFlight := false
	index := 0
	if r.Progress != nil {
		var err error
		index, inFlight, err = r.Progress.Current()
		if err != nil {
			return 0, err
		}
	}

	if !inFlight || index >= len(tests) {
		if class != NoReset {
			log.Warn("boot flag of an earlier run was pending", "class", class)
		}
		return 0, nil
	}

	report := TestReport{Name: tests[index].Name, Status: StatusError, Resumed: true}
	if class != NoReset {
		report.Status = class.Status()
		report.Messages = []string{fmt.Sprintf("judged after reset: %v", class)}
	} else {
		report.Messages = []string{"harness stopped while the test was running"}
	}
	log.Info("resuming after interrupted test", "test", report.Name, "status", report.Status)
	*reports = append(*reports, report)
	return index + 1, nil
}

// CountStatuses counts the reports of each status
func CountStatuses(reports []TestReport) map[TestStatus]int {
	counts := map[TestStatus]int{}
	for _, r := range reports {
		counts[r.Status]++
	}
	return counts
}
