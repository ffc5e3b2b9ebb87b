package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   int64
		want string
	}{
		{"zero", 0, "Unknown"},
		{"negative", -1, "Unknown"},
		{"bytes", 512, "512.0 B"},
		{"just below a kibibyte", 1023, "1023.0 B"},
		{"exact kibibyte", 1024, "1.0 KiB"},
		{"half megabyte", 1536 * 1024, "1.5 MiB"},
		{"four mebibytes", 4 * 1024 * 1024, "4.0 MiB"},
		{"marketing 500GB disk", 500107862016, "465.8 GiB"},
		{"terabytes", 2 * 1024 * 1024 * 1024 * 1024, "2.0 TiB"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FormatSize(tt.in))
		})
	}
}

func TestIsWritable(t *testing.T) {
	t.Parallel()

	assert.True(t, BlockDevice{Path: "/dev/sdb"}.IsWritable())
	assert.True(t, BlockDevice{Path: "/dev/mmcblk0"}.IsWritable())
	assert.False(t, BlockDevice{Path: "/dev/loop0"}.IsWritable())
	assert.False(t, BlockDevice{Path: "/dev/ram3"}.IsWritable())
	// Removability never overrides the pseudo-device classification.
	assert.False(t, BlockDevice{Path: "/dev/loop7", Removable: true}.IsWritable())
}

func TestDescription(t *testing.T) {
	t.Parallel()

	dev := BlockDevice{Name: "sdb", SizeBytes: 15931539456, Model: "Cruzer Blade", Transport: "usb"}
	assert.Equal(t, "sdb - 14.8 GiB - Cruzer Blade (usb)", dev.Description())

	bare := BlockDevice{Name: "sdc", SizeBytes: 0}
	assert.Equal(t, "sdc - Unknown - Generic Device", bare.Description())
}

func TestMounted(t *testing.T) {
	t.Parallel()

	assert.False(t, BlockDevice{}.Mounted())
	assert.True(t, BlockDevice{Mountpoints: []string{"/mnt"}}.Mounted())
}
