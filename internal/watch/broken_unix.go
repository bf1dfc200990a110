// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import (
	"errors"
	"syscall"
)

// brokenErrnos are inotify resource exhaustion errors. After one of them the
// watcher no longer sees changes to the manifest inputs.
var brokenErrnos = []syscall.Errno{
	syscall.ENOSPC, // fs.inotify.max_user_watches reached
	syscall.EMFILE,
	syscall.ENFILE,
}

func watcherBroken(err error) bool {
	for _, errno := range brokenErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
