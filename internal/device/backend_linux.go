//go:build linux

package device

import "os/exec"

func activeBackend() backend {
	if _, err := exec.LookPath("lsblk"); err == nil {
		return newLsblkBackend()
	}
	return ghwBackend{}
}
