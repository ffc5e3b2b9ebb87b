// Package mount detaches every filesystem mounted from a device before it is
// flashed, falling back through progressively heavier unmount strategies.
package mount

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/siderolabs/go-cmd/pkg/cmd"

	"shark-etcher/internal/device"
)

// UnmountError reports targets that stayed mounted after every strategy was
// exhausted. Unmounted carries the partial successes so the caller can tell
// exactly what state the device was left in.
type UnmountError struct {
	Failed    []string
	Unmounted []string
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("failed to unmount: %s", strings.Join(e.Failed, ", "))
}

// Unmounter runs the unmount fallback chain. The syscall and command layers
// are injectable so tests can exercise the orchestration without touching
// real mounts.
type Unmounter struct {
	syscallUnmount func(target string) error
	run            func(ctx context.Context, name string, args ...string) (string, error)
	lookPath       func(name string) (string, error)
}

func New() *Unmounter {
	return &Unmounter{
		syscallUnmount: platformUnmount,
		run:            cmd.RunContext,
		lookPath:       exec.LookPath,
	}
}

// Unmount detaches all of the device's mountpoints, longest path first so
// child mounts are gone before their parents. Targets are independent: one
// target exhausting its strategies does not stop attempts on the rest.
// It returns the successfully unmounted paths; on any failure the error is an
// *UnmountError that also carries that partial list.
func (u *Unmounter) Unmount(ctx context.Context, dev device.BlockDevice) ([]string, error) {
	targets := unmountOrder(dev.Mountpoints)
	if len(targets) == 0 {
		return nil, nil
	}

	var unmounted, failed []string
	for _, target := range targets {
		if u.unmountTarget(ctx, target) {
			unmounted = append(unmounted, target)
		} else {
			failed = append(failed, target)
		}
	}

	if len(failed) > 0 {
		return unmounted, &UnmountError{Failed: failed, Unmounted: unmounted}
	}
	return unmounted, nil
}

// unmountOrder deduplicates and sorts targets by decreasing path length.
func unmountOrder(mountpoints []string) []string {
	seen := map[string]struct{}{}
	targets := make([]string, 0, len(mountpoints))
	for _, mp := range mountpoints {
		if mp == "" {
			continue
		}
		if _, ok := seen[mp]; ok {
			continue
		}
		seen[mp] = struct{}{}
		targets = append(targets, mp)
	}
	sort.Slice(targets, func(i, j int) bool {
		if len(targets[i]) != len(targets[j]) {
			return len(targets[i]) > len(targets[j])
		}
		return targets[i] < targets[j]
	})
	return targets
}

// unmountTarget tries each strategy in order; the first success wins. A
// target counts as failed only once every strategy is exhausted.
func (u *Unmounter) unmountTarget(ctx context.Context, target string) bool {
	if u.plainUnmount(ctx, target) {
		return true
	}
	if u.serviceUnmount(ctx, target) {
		return true
	}
	return u.lazyUnmount(ctx, target)
}

// plainUnmount is the direct syscall with the umount command as a fallback
// for environments where the syscall is denied but the tool is setuid-aware.
func (u *Unmounter) plainUnmount(ctx context.Context, target string) bool {
	if u.syscallUnmount != nil && u.syscallUnmount(target) == nil {
		return true
	}
	return u.runOK(ctx, "umount", target)
}

// serviceUnmount asks udisks to unmount by block-device source rather than
// path, which succeeds for mounts owned by the desktop session.
func (u *Unmounter) serviceUnmount(ctx context.Context, target string) bool {
	source := u.mountSource(ctx, target)
	if source == "" {
		return false
	}
	if _, err := u.lookPath("udisksctl"); err != nil {
		return false
	}
	return u.runOK(ctx, "udisksctl", "unmount", "-b", source)
}

// lazyUnmount detaches the mount even if it is still busy. Last resort.
func (u *Unmounter) lazyUnmount(ctx context.Context, target string) bool {
	return u.runOK(ctx, "umount", "-l", target)
}

// mountSource resolves the kernel-level mount source for a target, e.g.
// /dev/sdb1 for /media/user/STICK. Empty when findmnt is missing or fails.
func (u *Unmounter) mountSource(ctx context.Context, target string) string {
	out, err := u.run(ctx, "findmnt", "-no", "SOURCE", "--", target)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func (u *Unmounter) runOK(ctx context.Context, name string, args ...string) bool {
	_, err := u.run(ctx, name, args...)
	return err == nil
}
