package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// eventQueueSize bounds the handoff between the stdout drain loop and the
// caller's event consumer.
const eventQueueSize = 64

// PrivilegeError reports that escalation is required but the trusted
// elevation mechanism is not installed.
type PrivilegeError struct {
	Mechanism string
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("root privileges are required but %s was not found; install polkit or re-run with sudo", e.Mechanism)
}

// ExitError carries the exit-code category of a failed flash so callers can
// propagate it as their own process status.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// Callbacks receive the operation's output on the caller side. OnEvent sees
// structured events in emission order; OnDiagnostic sees free-text lines
// from the worker's diagnostic channel, with no ordering relationship to the
// events. Either may be nil.
type Callbacks struct {
	OnEvent      func(Event)
	OnDiagnostic func(line string)
}

// Flash runs the flashing sequence, escalating privileges through pkexec
// when the current process cannot open raw devices itself. Dry runs never
// escalate: nothing is written, so nothing needs privileges.
func Flash(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	if needsEscalation(req) {
		return flashViaWorker(ctx, req, cb)
	}
	return flashLocal(ctx, req, cb)
}

func needsEscalation(req Request) bool {
	return !req.DryRun && os.Geteuid() != 0
}

// flashLocal runs the sequence in-process, used when already privileged or
// when dry-running.
func flashLocal(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	var terminal *Event
	code, result := execute(ctx, req, func(ev Event) {
		if ev.Terminal() {
			captured := ev
			terminal = &captured
		}
		if cb.OnEvent != nil {
			cb.OnEvent(ev)
		}
	})
	if code != ExitOK {
		message := "flash failed"
		if terminal != nil && terminal.Kind == KindError {
			message = terminal.Message
		}
		return nil, &ExitError{Code: code, Message: message}
	}
	return result, nil
}

// flashViaWorker re-invokes this executable in worker mode under pkexec and
// relays its output. The two output channels are drained concurrently; a
// bounded queue hands decoded events to the consumer so neither drain loop
// stalls on slow consumption of the other channel.
func flashViaWorker(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	if _, err := exec.LookPath("pkexec"); err != nil {
		return nil, &PrivilegeError{Mechanism: "pkexec"}
	}
	self, err := os.Executable()
	if err != nil {
		return nil, &ExitError{Code: ExitLaunchFailure, Message: fmt.Sprintf("unable to locate own executable: %v", err)}
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 0 // worker applies its own default
	}
	args := []string{
		self, "worker",
		"--image", req.ImagePath,
		"--device", req.DevicePath,
		"--chunk-size", strconv.FormatInt(chunkSize, 10),
	}
	if req.Verify {
		args = append(args, "--verify")
	}
	if req.DryRun {
		args = append(args, "--dry-run")
	}

	proc := exec.CommandContext(ctx, "pkexec", args...)
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, &ExitError{Code: ExitLaunchFailure, Message: fmt.Sprintf("failed to set up worker pipes: %v", err)}
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return nil, &ExitError{Code: ExitLaunchFailure, Message: fmt.Sprintf("failed to set up worker pipes: %v", err)}
	}

	log.Debug().Str("device", req.DevicePath).Str("image", req.ImagePath).
		Msg("launching privileged worker via pkexec")

	if err := proc.Start(); err != nil {
		return nil, &ExitError{Code: ExitLaunchFailure, Message: fmt.Sprintf("failed to launch privileged helper: %v", err)}
	}

	events := make(chan Event, eventQueueSize)

	var drains errgroup.Group
	drains.Go(func() error {
		drainEvents(stdout, events, cb.OnDiagnostic)
		close(events)
		return nil
	})
	drains.Go(func() error {
		drainDiagnostics(stderr, cb.OnDiagnostic)
		return nil
	})

	var terminal *Event
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for ev := range events {
			if ev.Terminal() {
				captured := ev
				terminal = &captured
			}
			if cb.OnEvent != nil {
				cb.OnEvent(ev)
			}
		}
	}()

	// Pipes must be fully drained before Wait closes them.
	_ = drains.Wait()
	waitErr := proc.Wait()
	<-dispatched

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, &ExitError{Code: ExitLaunchFailure, Message: fmt.Sprintf("privileged helper failed: %v", waitErr)}
		}
	}

	result, synthesized, err := outcome(terminal, exitCode)
	if synthesized != nil && cb.OnEvent != nil {
		cb.OnEvent(*synthesized)
	}
	return result, err
}

// outcome reconciles the terminal event with the worker's exit code. A
// nonzero exit with no explicit error event yields a synthesized error event
// so the caller never hangs on protocol desync.
func outcome(terminal *Event, exitCode int) (*Result, *Event, error) {
	if terminal != nil && terminal.Kind == KindError {
		code := exitCode
		if code == 0 {
			code = 1
		}
		return nil, nil, &ExitError{Code: code, Message: terminal.Message}
	}
	if exitCode != 0 {
		ev := Event{Kind: KindError, Message: fmt.Sprintf("privileged helper exited with code %d", exitCode)}
		return nil, &ev, &ExitError{Code: exitCode, Message: ev.Message}
	}
	if terminal == nil {
		return nil, nil, &ExitError{Code: ExitUnexpected, Message: "worker exited without reporting a result"}
	}
	return &Result{BytesWritten: terminal.BytesWritten, DryRun: terminal.DryRun}, nil, nil
}

// drainEvents decodes the structured channel line by line. Lines that do not
// parse as well-formed events are forwarded as diagnostics, which keeps the
// protocol forward-compatible with extra unstructured worker output.
func drainEvents(r io.Reader, events chan<- Event, onDiagnostic func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Kind == "" {
			if onDiagnostic != nil {
				onDiagnostic(line)
			}
			continue
		}
		events <- ev
	}
}

func drainDiagnostics(r io.Reader, onDiagnostic func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		if onDiagnostic != nil {
			onDiagnostic(line)
		}
	}
}
