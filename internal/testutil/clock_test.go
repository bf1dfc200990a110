// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"testing"
	"time"
)

func TestFakeClock_AfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	c := NewFakeClock(time.Time{})
	ch := c.After(time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}
	if c.Waiters() != 1 {
		t.Fatalf("Waiters() = %d, want 1", c.Waiters())
	}

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at deadline")
	}
	if c.Waiters() != 0 {
		t.Fatalf("Waiters() = %d after firing, want 0", c.Waiters())
	}
}

func TestInstantClock_RecordsSchedule(t *testing.T) {
	t.Parallel()

	var c InstantClock
	<-c.After(time.Millisecond)
	<-c.After(2 * time.Millisecond)

	got := c.Slept()
	if len(got) != 2 || got[0] != time.Millisecond || got[1] != 2*time.Millisecond {
		t.Fatalf("Slept() = %v", got)
	}
}
