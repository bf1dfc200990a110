// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"errors"
	"fmt"
	"testing"
)

func TestWatcherBroken(t *testing.T) {
	t.Parallel()

	for _, errno := range brokenErrnos {
		if !watcherBroken(errno) {
			t.Errorf("watcherBroken(%v) = false", errno)
		}
		if !watcherBroken(fmt.Errorf("fsnotify: %w", errno)) {
			t.Errorf("wrapped %v should be detected", errno)
		}
	}
	if watcherBroken(errors.New("event queue overflow")) {
		t.Error("a generic error must not stop the watcher")
	}
}
