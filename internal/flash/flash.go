// Package flash streams decoded image bytes onto a raw device in fixed-size
// chunks and can re-read the device to verify the write byte for byte.
package flash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"shark-etcher/internal/source"
)

// DefaultChunkSize is the write granularity used when callers do not pick
// their own.
const DefaultChunkSize = 4 * 1024 * 1024

// FlashError reports an OS-level failure while writing the device.
type FlashError struct {
	Device string
	Msg    string
	Err    error
}

func (e *FlashError) Error() string { return e.Msg }

func (e *FlashError) Unwrap() error { return e.Err }

// VerificationError reports the first chunk whose re-read bytes differ from
// the source. Offset is the byte offset where the mismatching chunk begins.
type VerificationError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("verification failed at offset %d", e.Offset)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Options control a write or verify pass. Progress and status callbacks may
// be nil. A nil Total passed to OnProgress means the source size is unknown
// and the caller must render an indeterminate indicator.
type Options struct {
	ChunkSize  int64
	DryRun     bool
	OnProgress func(current int64, total *int64)
	OnStatus   func(message string)
}

func (o Options) progress(current int64, total *int64) {
	if o.OnProgress != nil {
		o.OnProgress(current, total)
	}
}

func (o Options) status(message string) {
	if o.OnStatus != nil {
		o.OnStatus(message)
	}
}

// Write streams the image onto the device and returns the bytes written.
// In dry-run mode the full read/decode path runs against an in-memory
// discard sink and the device is never opened. Any I/O error aborts
// immediately; partial data already on the device is left as-is.
func Write(ctx context.Context, img *source.Image, devicePath string, opts Options) (int64, error) {
	if opts.ChunkSize <= 0 {
		return 0, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	total := imageTotal(img)

	opts.status("Starting write")

	stream, err := img.OpenStream()
	if err != nil {
		return 0, &FlashError{Device: devicePath, Msg: fmt.Sprintf("unable to open image: %v", err), Err: err}
	}
	defer stream.Close()

	var dst io.Writer = io.Discard
	var dev *os.File
	if !opts.DryRun {
		dev, err = openDevice(devicePath)
		if err != nil {
			return 0, err
		}
		defer dev.Close()
		dst = dev
	}

	buf := make([]byte, opts.ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := io.ReadFull(stream, buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, &FlashError{
					Device: devicePath,
					Msg:    fmt.Sprintf("write to %s failed: %v", devicePath, werr),
					Err:    werr,
				}
			}
			if dev != nil {
				// Force the chunk down to the medium before issuing the
				// next one. Not every device supports fsync, so a failure
				// here is swallowed rather than fatal.
				syncDevice(dev)
			}
			written += int64(n)
			opts.progress(written, total)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return written, &FlashError{
				Device: devicePath,
				Msg:    fmt.Sprintf("reading image failed: %v", rerr),
				Err:    rerr,
			}
		}
	}

	opts.status("Write completed")
	return written, nil
}

// Verify re-reads the device and compares it chunk by chunk against a fresh
// stream of the same image. The chunk size must match the write pass so
// reported offsets stay comparable.
func Verify(ctx context.Context, img *source.Image, devicePath string, opts Options) error {
	if opts.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	total := imageTotal(img)

	opts.status("Starting verification")

	stream, err := img.OpenStream()
	if err != nil {
		return &VerificationError{Msg: fmt.Sprintf("unable to reopen image: %v", err), Err: err}
	}
	defer stream.Close()

	dev, err := os.Open(devicePath)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return &VerificationError{Msg: fmt.Sprintf("permission denied when reading %s, try running as root", devicePath), Err: err}
		case errors.Is(err, os.ErrNotExist):
			return &VerificationError{Msg: fmt.Sprintf("device not found: %s", devicePath), Err: err}
		default:
			return &VerificationError{Msg: fmt.Sprintf("unable to read %s: %v", devicePath, err), Err: err}
		}
	}
	defer dev.Close()

	imgBuf := make([]byte, opts.ChunkSize)
	devBuf := make([]byte, opts.ChunkSize)
	var checked int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := io.ReadFull(stream, imgBuf)
		if n > 0 {
			if _, derr := io.ReadFull(dev, devBuf[:n]); derr != nil {
				return &VerificationError{
					Offset: checked,
					Msg:    fmt.Sprintf("reading %s back failed: %v", devicePath, derr),
					Err:    derr,
				}
			}
			if !bytes.Equal(imgBuf[:n], devBuf[:n]) {
				return &VerificationError{Offset: checked}
			}
			checked += int64(n)
			opts.progress(checked, total)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return &VerificationError{
				Offset: checked,
				Msg:    fmt.Sprintf("reading image failed: %v", rerr),
				Err:    rerr,
			}
		}
	}

	opts.status("Verification completed")
	return nil
}

func imageTotal(img *source.Image) *int64 {
	if size, ok := img.Size(); ok {
		return &size
	}
	return nil
}
