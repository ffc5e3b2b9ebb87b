//go:build !linux && !darwin

package flash

import (
	"fmt"
	"os"
	"runtime"
)

func openDevice(path string) (*os.File, error) {
	return nil, &FlashError{Device: path, Msg: fmt.Sprintf("raw device writes are not supported on %s", runtime.GOOS)}
}

func syncDevice(f *os.File) {
	_ = f.Sync()
}
