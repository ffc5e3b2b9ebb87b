package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shark-etcher/internal/worker"
)

// workerCommand is the privilege-escalated entrypoint. The caller re-invokes
// this binary as `shark-etcher worker ...` under pkexec; stdout carries the
// structured event protocol, stderr free-text diagnostics.
func workerCommand() *cobra.Command {
	var req worker.Request

	cmd := &cobra.Command{
		Use:    "worker",
		Hidden: true,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			code := worker.Run(ctx, req, worker.NewEmitter(os.Stdout))
			stop()
			os.Exit(code)
		},
	}

	cmd.Flags().StringVar(&req.ImagePath, "image", "", "path to the disk image")
	cmd.Flags().StringVar(&req.DevicePath, "device", "", "destination device path")
	cmd.Flags().Int64Var(&req.ChunkSize, "chunk-size", 0, "chunk size in bytes")
	cmd.Flags().BoolVar(&req.Verify, "verify", false, "verify device contents after writing")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "simulate the write")

	return cmd
}
