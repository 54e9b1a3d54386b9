// Licensed under the Apache-2.0 license

// Command psa-simulator serves the reference PSA service on a Unix socket.
// It exits with a non-zero status when a caller panics, which the harness
// observes as a target reset.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/ARM-software/psa-arch-tests/verification/client"
	"github.com/ARM-software/psa-arch-tests/verification/logging"
	"github.com/ARM-software/psa-arch-tests/verification/nvmem"
	"github.com/ARM-software/psa-arch-tests/verification/service"
)

var rootCmd = &cobra.Command{
	Use:   "psa-simulator",
	Short: "Simulated PSA target for the verification suite",
	Long: `psa-simulator runs the reference PSA Crypto and PSA-FF service.

Each connection to the socket carries one command prefixed with the
little-endian int32 ID of the calling partition. Negative IDs are
non-secure clients. The boot flag is kept in the non-volatile memory
file, which survives restarts of the simulator.`,
	Example: `  psa-simulator --socket /tmp/psa-sim.socket --nvmem /tmp/nvmem.json --supports-aes --supports-ipc --supports-boot-flag
  psa-simulator --socket /tmp/psa-sim.socket --nvmem /tmp/nvmem.db --nvmem-backend sqlite --programmer-error hang`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSimulator,
}

var (
	socketPath      string
	nvmemPath       string
	nvmemBackend    string
	programmerError string
	support         client.Support
	logLevel        string
	logFormat       string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&socketPath, "socket", "/tmp/psa-sim.socket",
		"Unix socket to serve commands on")
	flags.StringVar(&nvmemPath, "nvmem", "",
		"Non-volatile memory file (required)")
	flags.StringVar(&nvmemBackend, "nvmem-backend", "file",
		"Non-volatile memory backend: file, sqlite or memory")
	flags.StringVar(&programmerError, "programmer-error", service.PolicyPanic.String(),
		"Reaction to a programmer error: panic, return or hang")
	flags.BoolVar(&support.AES, "supports-aes", false, "Support AES keys")
	flags.BoolVar(&support.DES, "supports-des", false, "Support DES and 3DES keys")
	flags.BoolVar(&support.ChaCha20, "supports-chacha20", false, "Support ChaCha20 keys")
	flags.BoolVar(&support.IPC, "supports-ipc", false, "Support PSA-FF connections")
	flags.BoolVar(&support.BootFlag, "supports-boot-flag", false, "Support the boot flag commands")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	_ = rootCmd.MarkFlagRequired("nvmem")
}

func runSimulator(cmd *cobra.Command, args []string) error {
	log, err := logging.New(logLevel, logFormat, os.Stderr)
	if err != nil {
		return err
	}
	policy, err := service.ParsePolicy(programmerError)
	if err != nil {
		return err
	}

	nv, err := nvmem.Open(nvmemBackend, nvmemPath)
	if err != nil {
		return fmt.Errorf("open nvmem: %w", err)
	}
	defer nv.Close()
	boots, err := nvmem.CountBoot(nv)
	if err != nil {
		return fmt.Errorf("count boot: %w", err)
	}

	cfg := service.DefaultConfig()
	cfg.Support = support
	cfg.ProgrammerError = policy
	svc := service.New(cfg, nv, log)

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	// Closing the listener removes the socket, which tells the harness the
	// target is down.
	defer l.Close()

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGTERM, os.Interrupt)
	defer stop()

	log.Info("simulator started", "socket", socketPath, "boot", boots, "flags", fmt.Sprintf("0x%08x", support.ToFlags()), "programmer_error", policy)
	err = service.NewServer(svc, log).Serve(ctx, l)
	if errors.Is(err, service.ErrCallerPanic) {
		log.Error("caller panicked, going down", "err", err)
		return err
	}
	if err != nil {
		return err
	}
	log.Info("simulator stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "psa-simulator:", err)
		os.Exit(1)
	}
}
