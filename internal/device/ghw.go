package device

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"
)

// ghwBackend enumerates disks through the ghw library. It serves as the
// fallback probe on hosts where lsblk is not installed.
type ghwBackend struct{}

func (ghwBackend) probe(_ context.Context) ([]BlockDevice, error) {
	info, err := block.New(ghw.WithDisableTools())
	if err != nil {
		return nil, &EnumerationError{Reason: "block device probe failed", Err: err}
	}

	devices := make([]BlockDevice, 0, len(info.Disks))
	for _, disk := range info.Disks {
		if disk.Name == "" {
			continue
		}
		mounts := map[string]struct{}{}
		for _, part := range disk.Partitions {
			if part.MountPoint != "" {
				mounts[part.MountPoint] = struct{}{}
			}
		}
		mountpoints := make([]string, 0, len(mounts))
		for m := range mounts {
			mountpoints = append(mountpoints, m)
		}
		sort.Strings(mountpoints)

		devices = append(devices, BlockDevice{
			Name:        disk.Name,
			Path:        filepath.Join("/dev", disk.Name),
			SizeBytes:   int64(disk.SizeBytes),
			Model:       ghwModel(disk.Model),
			Transport:   ghwTransport(disk.BusPath),
			Removable:   disk.IsRemovable || strings.Contains(disk.BusPath, "usb"),
			Mountpoints: mountpoints,
		})
	}
	return devices, nil
}

func ghwModel(model string) string {
	model = strings.TrimSpace(model)
	if strings.EqualFold(model, "unknown") {
		return ""
	}
	return model
}

func ghwTransport(busPath string) string {
	if strings.Contains(busPath, "usb") {
		return "usb"
	}
	return ""
}
