//go:build linux || darwin

package mount

import "golang.org/x/sys/unix"

func platformUnmount(target string) error {
	return unix.Unmount(target, 0)
}
