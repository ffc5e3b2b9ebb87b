package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shark-etcher/internal/device"
	"shark-etcher/internal/flash"
	"shark-etcher/internal/worker"
)

func flashCommand() *cobra.Command {
	var (
		imagePath  string
		devicePath string
		verify     bool
		dryRun     bool
		chunkSize  int64
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Write an image to a block device",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			req := worker.Request{
				ImagePath:  imagePath,
				DevicePath: devicePath,
				ChunkSize:  chunkSize,
				Verify:     verify,
				DryRun:     dryRun,
			}
			os.Exit(runFlash(ctx, req, yes))
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "path to the disk image")
	cmd.Flags().StringVarP(&devicePath, "device", "d", "", "destination device path (e.g. /dev/sdb)")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify device contents after writing")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate the write without touching the device")
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", flash.DefaultChunkSize, "chunk size in bytes")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func runFlash(ctx context.Context, req worker.Request, yes bool) int {
	// A fresh lookup: refuse loop/ram pseudo-devices outright, and tell the
	// user what is about to be erased. An unknown device is a warning, not a
	// refusal, since enumeration may simply have failed.
	target := device.Find(ctx, req.DevicePath)
	if target != nil && !target.IsWritable() {
		color.Red("Refusing to flash %s: not a writable device", req.DevicePath)
		return worker.ExitWriteFailure
	}
	if target == nil {
		log.Warn().Str("device", req.DevicePath).Msg("unable to verify device status")
	}

	if !yes && !req.DryRun {
		label := req.DevicePath
		if target != nil {
			label = fmt.Sprintf("%s (%s)", req.DevicePath, target.Description())
		}
		confirmed := false
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("This will erase all data on %s. Continue?", label),
		}
		if err := survey.AskOne(prompt, &confirmed); err != nil || !confirmed {
			fmt.Fprintln(os.Stderr, "Operation cancelled")
			return worker.ExitCancelled
		}
	}

	renderer := newProgressRenderer(os.Stderr)
	defer renderer.close()

	result, err := worker.Flash(ctx, req, worker.Callbacks{
		OnEvent: func(ev worker.Event) {
			switch ev.Kind {
			case worker.KindProgress:
				renderer.update(ev.Phase, ev.Current, ev.Total)
			case worker.KindStatus, worker.KindLog:
				renderer.pause()
				log.Info().Msg(ev.Message)
			case worker.KindDone, worker.KindError:
				renderer.pause()
			}
		},
		OnDiagnostic: func(line string) {
			fmt.Fprintf(os.Stderr, "[worker] %s\n", line)
		},
	})
	renderer.close()

	if err != nil {
		return reportFlashError(err)
	}

	if result.DryRun {
		color.Green("Dry run completed successfully")
	} else {
		color.Green("Write completed (%s)", device.FormatSize(result.BytesWritten))
	}
	return worker.ExitOK
}

func reportFlashError(err error) int {
	var (
		privilegeErr *worker.PrivilegeError
		exitErr      *worker.ExitError
	)
	switch {
	case errors.As(err, &privilegeErr):
		color.Red("%s", privilegeErr.Error())
		return worker.ExitNoPrivilegeHelper
	case errors.As(err, &exitErr):
		color.Red("%s", exitErr.Message)
		return exitErr.Code
	default:
		color.Red("Flash failed: %v", err)
		return worker.ExitUnexpected
	}
}
