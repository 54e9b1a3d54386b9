// Licensed under the Apache-2.0 license

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ARM-software/psa-arch-tests/verification/config"
	verification "github.com/ARM-software/psa-arch-tests/verification/testing"
)

var runCmd = &cobra.Command{
	Use:   "run [suite...]",
	Short: "Run the verification suites",
	Long: `Run the selected suites against the configured target. Without
arguments the suites from the configuration are run.

When a run is cut short by a target reset, the next invocation judges the
interrupted test from the boot flag and continues with the test after it.`,
	Example: `  psa-verify run
  psa-verify run crypto --vectors vectors.json
  psa-verify run ipc --config simulator.toml`,
	ValidArgs: config.Suites,
	Args:      cobra.OnlyValidArgs,
	RunE:      runSuites,
}

var (
	vectorsFile string
	noResume    bool
	verbose     bool
)

func init() {
	flags := runCmd.Flags()
	flags.StringVar(&vectorsFile, "vectors", "",
		"JSON file of cipher vectors to use instead of the built-in ones")
	flags.BoolVar(&noResume, "no-resume", false,
		"Ignore and clear the progress of an interrupted run")
	flags.BoolVarP(&verbose, "verbose", "v", false,
		"Print the messages of passing tests too")

	rootCmd.AddCommand(runCmd)
}

func runSuites(cmd *cobra.Command, args []string) error {
	suites := cfg.Harness.Suites
	if len(args) > 0 {
		suites = args
	}
	if vectorsFile != "" {
		cfg.Harness.VectorsFile = vectorsFile
	}

	tests, err := selectTests(suites, cfg.Harness.VectorsFile)
	if err != nil {
		return err
	}

	target, closeTarget, err := openTarget()
	if err != nil {
		return err
	}
	defer closeTarget()

	progress, closeProgress, err := openProgress()
	if err != nil {
		return err
	}
	defer closeProgress()
	if progress != nil && noResume {
		if err := progress.End(); err != nil {
			return err
		}
	}

	runner := verification.Runner{
		Target:   target,
		Progress: progress,
		Log:      log,
		RunID:    uuid.NewString(),
	}
	log.Info("starting run", "run", runner.RunID, "target", cfg.Target.Kind, "suites", strings.Join(suites, ","), "tests", len(tests))

	start := time.Now()
	reports, err := runner.Run(tests)
	printReports(cmd.OutOrStdout(), reports)
	if err != nil {
		return err
	}
	return summarize(cmd.OutOrStdout(), reports, time.Since(start))
}

// selectTests lists the tests of suites in order. A vectors file replaces
// the built-in vectors of the cipher finish test.
func selectTests(suites []string, vectorsPath string) ([]verification.TestCase, error) {
	replacement := verification.CipherFinishTestCase
	if vectorsPath != "" {
		vectors, err := verification.LoadCipherVectors(vectorsPath)
		if err != nil {
			return nil, err
		}
		replacement = verification.CipherFinishVectorsTestCase(vectors)
	}

	var tests []verification.TestCase
	for _, name := range suites {
		suite, err := verification.SuiteTestCases(name)
		if err != nil {
			return nil, err
		}
		for _, test := range suite {
			if test.Name == verification.CipherFinishTestCase.Name {
				test = replacement
			}
			tests = append(tests, test)
		}
	}
	return tests, nil
}

var statusColors = map[verification.TestStatus]*color.Color{
	verification.StatusPass:  color.New(color.FgGreen, color.Bold),
	verification.StatusFail:  color.New(color.FgRed, color.Bold),
	verification.StatusError: color.New(color.FgMagenta, color.Bold),
	verification.StatusSkip:  color.New(color.FgYellow),
}

func printReports(w io.Writer, reports []verification.TestReport) {
	for _, report := range reports {
		name := report.Name
		if report.Resumed {
			name += " (resumed after reset)"
		}
		statusColors[report.Status].Fprintf(w, "%-5s", report.Status)
		fmt.Fprintf(w, " %s %s\n", name, report.Duration.Round(time.Millisecond))
		if report.Status == verification.StatusPass && !verbose {
			continue
		}
		for _, msg := range report.Messages {
			fmt.Fprintf(w, "        %s\n", msg)
		}
	}
}

// summarize prints the totals and returns an error if any test failed or
// could not be judged
func summarize(w io.Writer, reports []verification.TestReport, elapsed time.Duration) error {
	counts := verification.CountStatuses(reports)
	fmt.Fprintf(w, "\n%d tests in %s: ", len(reports), elapsed.Round(time.Millisecond))
	for i, status := range []verification.TestStatus{
		verification.StatusPass,
		verification.StatusFail,
		verification.StatusError,
		verification.StatusSkip,
	} {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		statusColors[status].Fprintf(w, "%d %s", counts[status], strings.ToLower(status.String()))
	}
	fmt.Fprintln(w)

	if bad := counts[verification.StatusFail] + counts[verification.StatusError]; bad > 0 {
		return fmt.Errorf("%d of %d tests did not pass", bad, len(reports))
	}
	return nil
}
