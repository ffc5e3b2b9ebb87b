package worker

import (
	"context"
	"errors"
	"fmt"

	"shark-etcher/internal/device"
	"shark-etcher/internal/flash"
	"shark-etcher/internal/mount"
	"shark-etcher/internal/source"
)

// Request describes one flash operation. These are the only inputs the
// worker process ever receives; there is no other channel.
type Request struct {
	ImagePath  string
	DevicePath string
	ChunkSize  int64
	Verify     bool
	DryRun     bool
}

// Result summarizes a successful flash.
type Result struct {
	BytesWritten int64
	DryRun       bool
}

// Run executes the full privileged sequence and emits the protocol on em.
// The return value is the process exit code; exactly one terminal event has
// been emitted by the time it returns.
func Run(ctx context.Context, req Request, em *Emitter) int {
	if req.ImagePath == "" || req.DevicePath == "" {
		em.Emit(Event{Kind: KindError, Message: "worker missing required arguments"})
		return ExitMissingArgs
	}
	code, _ := execute(ctx, req, em.Emit)
	return code
}

// execute is the flashing sequence shared by the worker process and the
// already-privileged in-process path: refresh mount state, unmount, write,
// optionally verify, then emit exactly one terminal event.
func execute(ctx context.Context, req Request, emit func(Event)) (int, *Result) {
	if req.ChunkSize <= 0 {
		req.ChunkSize = flash.DefaultChunkSize
	}

	// Mount state may have changed since the caller looked, so resolve it
	// fresh here rather than trusting anything passed across the boundary.
	dev := device.Find(ctx, req.DevicePath)
	switch {
	case dev == nil:
		emit(Event{Kind: KindLog, Message: fmt.Sprintf("warning: could not refresh device info for %s", req.DevicePath)})
	case dev.Mounted() && !req.DryRun:
		emit(Event{Kind: KindStatus, Message: fmt.Sprintf("Unmounting %s", req.DevicePath)})
		unmounted, err := mount.New().Unmount(ctx, *dev)
		for _, target := range unmounted {
			emit(Event{Kind: KindLog, Message: fmt.Sprintf("Unmounted %s", target)})
		}
		if err != nil {
			emit(Event{Kind: KindError, Message: err.Error()})
			return ExitUnmountFailure, nil
		}
	}

	img, err := source.Open(req.ImagePath)
	if err != nil {
		emit(Event{Kind: KindError, Message: err.Error()})
		return ExitWriteFailure, nil
	}
	defer img.Cleanup()

	opts := flash.Options{
		ChunkSize: req.ChunkSize,
		DryRun:    req.DryRun,
		OnProgress: func(current int64, total *int64) {
			emit(Event{Kind: KindProgress, Phase: PhaseWrite, Current: current, Total: total})
		},
		OnStatus: func(message string) {
			emit(Event{Kind: KindStatus, Message: message})
		},
	}

	written, err := flash.Write(ctx, img, req.DevicePath, opts)
	if err != nil {
		emit(Event{Kind: KindError, Message: err.Error()})
		return failureCode(err), nil
	}

	if req.Verify && !req.DryRun {
		verifyOpts := opts
		verifyOpts.OnProgress = func(current int64, total *int64) {
			emit(Event{Kind: KindProgress, Phase: PhaseVerify, Current: current, Total: total})
		}
		if err := flash.Verify(ctx, img, req.DevicePath, verifyOpts); err != nil {
			emit(Event{Kind: KindError, Message: err.Error()})
			return failureCode(err), nil
		}
	}

	emit(Event{Kind: KindDone, BytesWritten: written, DryRun: req.DryRun})
	return ExitOK, &Result{BytesWritten: written, DryRun: req.DryRun}
}

// failureCode maps an operation error to its exit-code category.
func failureCode(err error) int {
	var (
		verifyErr  *flash.VerificationError
		flashErr   *flash.FlashError
		sourceErr  *source.SourceError
		unmountErr *mount.UnmountError
	)
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return ExitCancelled
	case errors.As(err, &verifyErr):
		return ExitVerifyFailure
	case errors.As(err, &flashErr), errors.As(err, &sourceErr):
		return ExitWriteFailure
	case errors.As(err, &unmountErr):
		return ExitUnmountFailure
	default:
		return ExitUnexpected
	}
}
