package worker

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shark-etcher/internal/flash"
	"shark-etcher/internal/mount"
	"shark-etcher/internal/source"
)

func makeImageFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func TestRunMissingArguments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	code := Run(context.Background(), Request{}, NewEmitter(&buf))
	assert.Equal(t, ExitMissingArgs, code)
	assert.Contains(t, buf.String(), `"event":"error"`)
	assert.Contains(t, buf.String(), "missing required arguments")
}

func TestExecuteDryRunSequence(t *testing.T) {
	t.Parallel()

	imagePath, data := makeImageFile(t, 3*4096)

	var events []Event
	code, result := execute(context.Background(), Request{
		ImagePath:  imagePath,
		DevicePath: filepath.Join(t.TempDir(), "not-a-device"),
		ChunkSize:  4096,
		DryRun:     true,
	}, func(ev Event) { events = append(events, ev) })

	assert.Equal(t, ExitOK, code)
	require.NotNil(t, result)
	assert.Equal(t, int64(len(data)), result.BytesWritten)
	assert.True(t, result.DryRun)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, KindDone, last.Kind)
	assert.Equal(t, int64(len(data)), last.BytesWritten)
	assert.True(t, last.DryRun)

	terminals := 0
	var phases []Phase
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
		if ev.Kind == KindProgress {
			phases = append(phases, ev.Phase)
			require.NotNil(t, ev.Total, "raw image size is known")
		}
	}
	assert.Equal(t, 1, terminals, "exactly one terminal event")
	assert.Equal(t, []Phase{PhaseWrite, PhaseWrite, PhaseWrite}, phases,
		"dry runs never verify")
}

func TestExecuteMissingImage(t *testing.T) {
	t.Parallel()

	var events []Event
	code, result := execute(context.Background(), Request{
		ImagePath:  filepath.Join(t.TempDir(), "nope.img"),
		DevicePath: "/dev/null",
		DryRun:     true,
	}, func(ev Event) { events = append(events, ev) })

	assert.Equal(t, ExitWriteFailure, code)
	assert.Nil(t, result)
	last := events[len(events)-1]
	assert.Equal(t, KindError, last.Kind)
	assert.Contains(t, last.Message, "not found")
}

func TestExecuteAppliesDefaultChunkSize(t *testing.T) {
	t.Parallel()

	imagePath, data := makeImageFile(t, 1024)

	code, result := execute(context.Background(), Request{
		ImagePath:  imagePath,
		DevicePath: filepath.Join(t.TempDir(), "not-a-device"),
		DryRun:     true,
	}, func(Event) {})

	assert.Equal(t, ExitOK, code)
	require.NotNil(t, result)
	assert.Equal(t, int64(len(data)), result.BytesWritten)
}

func TestFailureCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cancelled", context.Canceled, ExitCancelled},
		{"deadline", context.DeadlineExceeded, ExitCancelled},
		{"verification", &flash.VerificationError{Offset: 4096}, ExitVerifyFailure},
		{"flash", &flash.FlashError{Device: "/dev/sdb", Msg: "boom"}, ExitWriteFailure},
		{"source", &source.SourceError{Path: "x", Msg: "bad"}, ExitWriteFailure},
		{"unmount", &mount.UnmountError{Failed: []string{"/mnt"}}, ExitUnmountFailure},
		{"unknown", assert.AnError, ExitUnexpected},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, failureCode(tt.err))
		})
	}
}
