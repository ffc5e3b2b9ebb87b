//go:build !linux && !darwin

package mount

import "errors"

func platformUnmount(string) error {
	return errors.ErrUnsupported
}
