// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import (
	"errors"
	"syscall"
)

// Win32 error codes that leave ReadDirectoryChangesW unusable.
const (
	errTooManyOpenFiles syscall.Errno = 4
	errInvalidHandle    syscall.Errno = 6
	errNotEnoughMemory  syscall.Errno = 8
)

// isFatal reports errors after which no more events arrive.
func isFatal(err error) bool {
	for _, errno := range []syscall.Errno{errTooManyOpenFiles, errInvalidHandle, errNotEnoughMemory} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
