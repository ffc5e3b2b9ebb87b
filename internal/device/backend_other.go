//go:build !linux

package device

import (
	"context"
	"runtime"
)

// Only Linux enumeration is implemented. Other platforms plug in here by
// providing their own backend and build-tagged activeBackend.
func activeBackend() backend {
	return unsupportedBackend{goos: runtime.GOOS}
}

type unsupportedBackend struct {
	goos string
}

func (b unsupportedBackend) probe(_ context.Context) ([]BlockDevice, error) {
	return nil, &EnumerationError{Reason: "unsupported platform: " + b.goos}
}
