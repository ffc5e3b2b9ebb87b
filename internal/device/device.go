// Package device enumerates block devices and classifies whether they are
// safe targets for a destructive image write.
package device

import (
	"context"
	"fmt"
	"strings"
)

// BlockDevice describes one disk as reported by the platform backend. A value
// is a snapshot taken at enumeration time and is never updated afterwards.
type BlockDevice struct {
	Name        string
	Path        string
	SizeBytes   int64
	Model       string
	Transport   string
	Removable   bool
	Mountpoints []string
}

// IsWritable reports whether flashing this device is allowed at all.
// Loop and ram pseudo-devices are never writable, removable or not.
func (d BlockDevice) IsWritable() bool {
	return !strings.HasPrefix(d.Path, "/dev/loop") && !strings.HasPrefix(d.Path, "/dev/ram")
}

// Mounted reports whether any filesystem on the device is currently mounted.
func (d BlockDevice) Mounted() bool {
	return len(d.Mountpoints) > 0
}

// Description returns a short human-readable summary of the device.
func (d BlockDevice) Description() string {
	label := d.Model
	if label == "" {
		label = "Generic Device"
	}
	if d.Transport != "" {
		label = fmt.Sprintf("%s (%s)", label, d.Transport)
	}
	return fmt.Sprintf("%s - %s - %s", d.Name, FormatSize(d.SizeBytes), label)
}

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// FormatSize renders a byte count using binary units with one decimal place.
// Zero or negative sizes render as "Unknown".
func FormatSize(n int64) string {
	if n <= 0 {
		return "Unknown"
	}
	value := float64(n)
	unit := sizeUnits[0]
	for _, unit = range sizeUnits {
		if value < 1024.0 {
			break
		}
		value /= 1024.0
	}
	return fmt.Sprintf("%.1f %s", value, unit)
}

// EnumerationError reports that the platform backend could not produce a
// device list: the backing tool is missing, its output was malformed, or the
// platform has no backend at all.
type EnumerationError struct {
	Reason string
	Err    error
}

func (e *EnumerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// backend is the per-platform enumeration capability. Exactly one backend is
// selected at call time; unsupported platforms get one that always fails.
type backend interface {
	probe(ctx context.Context) ([]BlockDevice, error)
}

// List enumerates all disks visible to the OS. With requireRemovable set the
// result is filtered to removable media after classification, so explicitly
// requested fixed disks can still be inspected through Find.
func List(ctx context.Context, requireRemovable bool) ([]BlockDevice, error) {
	return list(ctx, activeBackend(), requireRemovable)
}

func list(ctx context.Context, b backend, requireRemovable bool) ([]BlockDevice, error) {
	devices, err := b.probe(ctx)
	if err != nil {
		return nil, err
	}
	if !requireRemovable {
		return devices, nil
	}
	removable := make([]BlockDevice, 0, len(devices))
	for _, d := range devices {
		if d.Removable {
			removable = append(removable, d)
		}
	}
	return removable, nil
}

// Find returns the device whose path matches exactly, or nil when the device
// is not present or enumeration fails. Callers must treat nil as "unknown",
// not as proof the device does not exist.
func Find(ctx context.Context, path string) *BlockDevice {
	return find(ctx, activeBackend(), path)
}

func find(ctx context.Context, b backend, path string) *BlockDevice {
	devices, err := list(ctx, b, false)
	if err != nil {
		return nil
	}
	for i := range devices {
		if devices[i].Path == path {
			d := devices[i]
			return &d
		}
	}
	return nil
}
