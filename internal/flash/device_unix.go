//go:build linux || darwin

package flash

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// openDevice opens the raw device for synchronous writes so every chunk is
// on the medium before the next one is issued.
func openDevice(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return nil, &FlashError{Device: path, Msg: fmt.Sprintf("permission denied when opening %s, try running as root", path), Err: err}
		case errors.Is(err, os.ErrNotExist):
			return nil, &FlashError{Device: path, Msg: fmt.Sprintf("device not found: %s", path), Err: err}
		default:
			return nil, &FlashError{Device: path, Msg: fmt.Sprintf("unable to open device %s: %v", path, err), Err: err}
		}
	}
	return f, nil
}

func syncDevice(f *os.File) {
	_ = unix.Fsync(int(f.Fd()))
}
