package worker

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlashDryRunStaysLocal(t *testing.T) {
	t.Parallel()

	data := make([]byte, 2*4096)
	_, err := rand.Read(data)
	require.NoError(t, err)
	imagePath := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(imagePath, data, 0o600))

	var events []Event
	result, err := Flash(context.Background(), Request{
		ImagePath:  imagePath,
		DevicePath: filepath.Join(t.TempDir(), "not-a-device"),
		ChunkSize:  4096,
		DryRun:     true,
	}, Callbacks{OnEvent: func(ev Event) { events = append(events, ev) }})

	require.NoError(t, err, "dry runs never escalate, whatever the euid")
	assert.Equal(t, int64(len(data)), result.BytesWritten)
	assert.True(t, result.DryRun)
	require.NotEmpty(t, events)
	assert.Equal(t, KindDone, events[len(events)-1].Kind)
}

func TestFlashLocalFailureCarriesExitCode(t *testing.T) {
	t.Parallel()

	_, err := Flash(context.Background(), Request{
		ImagePath:  filepath.Join(t.TempDir(), "missing.img"),
		DevicePath: "/dev/null",
		DryRun:     true,
	}, Callbacks{})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitWriteFailure, exitErr.Code)
	assert.Contains(t, exitErr.Message, "not found")
}

func TestNeedsEscalation(t *testing.T) {
	t.Parallel()

	assert.False(t, needsEscalation(Request{DryRun: true}))
	privileged := os.Geteuid() == 0
	assert.Equal(t, !privileged, needsEscalation(Request{}))
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	doneEv := Event{Kind: KindDone, BytesWritten: 4194304, DryRun: false}
	errEv := Event{Kind: KindError, Message: "write failed"}

	t.Run("clean exit with done event", func(t *testing.T) {
		t.Parallel()
		result, synthesized, err := outcome(&doneEv, 0)
		require.NoError(t, err)
		assert.Nil(t, synthesized)
		assert.Equal(t, int64(4194304), result.BytesWritten)
	})

	t.Run("explicit error event wins", func(t *testing.T) {
		t.Parallel()
		_, synthesized, err := outcome(&errEv, ExitWriteFailure)
		assert.Nil(t, synthesized)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, ExitWriteFailure, exitErr.Code)
		assert.Equal(t, "write failed", exitErr.Message)
	})

	t.Run("error event with clean exit still fails", func(t *testing.T) {
		t.Parallel()
		_, _, err := outcome(&errEv, 0)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 1, exitErr.Code)
	})

	t.Run("nonzero exit without error event synthesizes one", func(t *testing.T) {
		t.Parallel()
		_, synthesized, err := outcome(nil, 7)
		require.NotNil(t, synthesized)
		assert.Equal(t, KindError, synthesized.Kind)
		assert.Contains(t, synthesized.Message, "exited with code 7")
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 7, exitErr.Code)
	})

	t.Run("clean exit without terminal event", func(t *testing.T) {
		t.Parallel()
		_, _, err := outcome(nil, 0)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, ExitUnexpected, exitErr.Code)
	})
}

func TestPrivilegeErrorMessage(t *testing.T) {
	t.Parallel()

	err := &PrivilegeError{Mechanism: "pkexec"}
	assert.Contains(t, err.Error(), "pkexec")
}
