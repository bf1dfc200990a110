// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import (
	"errors"
	"syscall"
)

// brokenErrnos are Win32 errors after which ReadDirectoryChangesW stops
// reporting changes: too many open files, an invalid handle (the watched
// directory went away) and an unallocatable notification buffer.
var brokenErrnos = []syscall.Errno{4, 6, 8}

func watcherBroken(err error) bool {
	for _, errno := range brokenErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
