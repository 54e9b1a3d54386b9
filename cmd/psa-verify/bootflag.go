// Licensed under the Apache-2.0 license

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
)

var bootflagCmd = &cobra.Command{
	Use:   "bootflag",
	Short: "Inspect the boot flag of a reference target",
	Long: `Read or reset the boot flag kept in the non-volatile memory of the
loopback or simulator target. The simulator must not be running.`,
}

var bootflagGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the boot flag and boot count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTargetNvmem(func(nv nvmem.Store) error {
			state, err := nvmem.BootFlags{Store: nv}.GetBootFlag()
			if err != nil {
				return err
			}
			boots, err := nv.ReadWord(nvmem.WordBootCount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v (boot %d)\n", state, boots)
			return nil
		})
	},
}

var bootflagSetCmd = &cobra.Command{
	Use:   "set STATE",
	Short: "Write a boot flag, e.g. BOOT_EXPECTED_NS",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := parseBootState(args[0])
		if err != nil {
			return err
		}
		return withTargetNvmem(func(nv nvmem.Store) error {
			return nvmem.BootFlags{Store: nv}.SetBootFlag(state)
		})
	},
}

var bootflagClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset the boot flag to BOOT_NOT_EXPECTED",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTargetNvmem(func(nv nvmem.Store) error {
			return nvmem.BootFlags{Store: nv}.SetBootFlag(client.BootNotExpected)
		})
	},
}

func init() {
	bootflagCmd.AddCommand(bootflagGetCmd, bootflagSetCmd, bootflagClearCmd)
	rootCmd.AddCommand(bootflagCmd)
}

func withTargetNvmem(f func(nvmem.Store) error) error {
	if err := ensureDir(cfg.Target.NvmemPath); err != nil {
		return err
	}
	nv, err := cfg.OpenTargetNvmem()
	if err != nil {
		return err
	}
	defer nv.Close()
	return f(nv)
}

func parseBootState(name string) (client.BootState, error) {
	for s := client.BootUnknown; s <= client.BootExpectedContTestExec; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown boot state %q", name)
}
