package device

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/siderolabs/go-cmd/pkg/cmd"
)

// lsblkColumns is the exact output set requested from lsblk. MOUNTPOINT and
// MOUNTPOINTS are both asked for so the parser works against old and new
// util-linux alike.
const lsblkColumns = "NAME,TYPE,SIZE,RM,MODEL,TRAN,MOUNTPOINT,MOUNTPOINTS"

// lsblkBackend enumerates disks by parsing `lsblk --json` output.
type lsblkBackend struct {
	run func(ctx context.Context, name string, args ...string) (string, error)
}

func newLsblkBackend() lsblkBackend {
	return lsblkBackend{run: cmd.RunContext}
}

func (b lsblkBackend) probe(ctx context.Context) ([]BlockDevice, error) {
	out, err := b.run(ctx, "lsblk", "--bytes", "--all", "--json", "--output", lsblkColumns)
	if err != nil {
		return nil, &EnumerationError{Reason: "lsblk failed", Err: err}
	}
	return parseLsblk([]byte(out))
}

type lsblkTree struct {
	Blockdevices []lsblkNode `json:"blockdevices"`
}

// lsblkNode mirrors one node of the lsblk JSON tree. SIZE and RM are typed
// loosely because util-linux switched them from strings to native JSON types
// over the years.
type lsblkNode struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Size        any         `json:"size"`
	RM          any         `json:"rm"`
	Model       *string     `json:"model"`
	Tran        *string     `json:"tran"`
	Mountpoint  *string     `json:"mountpoint"`
	Mountpoints []*string   `json:"mountpoints"`
	Children    []lsblkNode `json:"children"`
}

func parseLsblk(data []byte) ([]BlockDevice, error) {
	var tree lsblkTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, &EnumerationError{Reason: "failed to parse lsblk output", Err: err}
	}

	devices := make([]BlockDevice, 0, len(tree.Blockdevices))
	for _, node := range tree.Blockdevices {
		// Partitions are folded into their parent disk below.
		if node.Type != "disk" || node.Name == "" {
			continue
		}
		mounts := map[string]struct{}{}
		collectMountpoints(node, mounts)
		mountpoints := make([]string, 0, len(mounts))
		for m := range mounts {
			mountpoints = append(mountpoints, m)
		}
		sort.Strings(mountpoints)

		devices = append(devices, BlockDevice{
			Name:        node.Name,
			Path:        filepath.Join("/dev", node.Name),
			SizeBytes:   normalizeSize(node.Size),
			Model:       strings.TrimSpace(stringValue(node.Model)),
			Transport:   stringValue(node.Tran),
			Removable:   normalizeBool(node.RM),
			Mountpoints: mountpoints,
		})
	}
	return devices, nil
}

// collectMountpoints gathers mountpoints from a node and every descendant, so
// a disk counts as mounted when any of its partitions is.
func collectMountpoints(node lsblkNode, into map[string]struct{}) {
	if mp := stringValue(node.Mountpoint); mp != "" {
		into[mp] = struct{}{}
	}
	for _, mp := range node.Mountpoints {
		if v := stringValue(mp); v != "" {
			into[v] = struct{}{}
		}
	}
	for _, child := range node.Children {
		collectMountpoints(child, into)
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func normalizeSize(v any) int64 {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0
		}
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		return n
	case json.Number:
		n, err := t.Int64()
		if err != nil || n < 0 {
			return 0
		}
		return n
	default:
		return 0
	}
}

func normalizeBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	default:
		return false
	}
}
