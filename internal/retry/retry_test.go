// SPDX-License-Identifier: MPL-2.0

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"rtpi-cli/internal/testutil"
)

func testPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: 10 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterKAttempts(t *testing.T) {
	t.Parallel()

	for _, k := range []int{1, 2, 3, 5} {
		calls := 0
		clock := &testutil.InstantClock{}
		got, err := Do(context.Background(), testPolicy(5), func(_ context.Context, attempt int) (string, error) {
			calls++
			if attempt < k {
				return "", errors.New("transient")
			}
			return "ok", nil
		}, WithClock(clock))
		if err != nil {
			t.Fatalf("k=%d: unexpected error: %v", k, err)
		}
		if got != "ok" {
			t.Fatalf("k=%d: got %q, want ok", k, got)
		}
		if calls != k {
			t.Fatalf("k=%d: expected %d calls, got %d", k, k, calls)
		}
		if len(clock.Slept()) != k-1 {
			t.Fatalf("k=%d: expected %d sleeps, got %d", k, k-1, len(clock.Slept()))
		}
	}
}

func TestDo_ExhaustsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	last := errors.New("always transient")
	_, err := Do(context.Background(), testPolicy(3), func(context.Context, int) (int, error) {
		calls++
		return 0, last
	}, WithClock(&testutil.InstantClock{}))

	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got: %v", err)
	}
	if !errors.Is(err, last) {
		t.Fatalf("exhausted error should unwrap to last failure, got: %v", err)
	}
	if errors.Is(err, ErrCancelled) {
		t.Fatal("exhaustion must not be reported as cancellation")
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 {
		t.Fatalf("expected *ExhaustedError with 3 attempts, got %#v", err)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	notFound := errors.New("manifest unknown")
	_, err := Do(context.Background(), testPolicy(5), func(context.Context, int) (struct{}, error) {
		calls++
		return struct{}{}, Permanent(notFound)
	}, WithClock(&testutil.InstantClock{}))

	if err != notFound {
		t.Fatalf("expected the unwrapped permanent error, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_BackoffSchedule(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	clock := &testutil.InstantClock{}
	_, _ = Do(context.Background(), p, func(context.Context, int) (int, error) {
		return 0, errors.New("retry")
	}, WithClock(clock))

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	got := clock.Slept()
	if len(got) != len(want) {
		t.Fatalf("slept %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sleep %d = %v, want %v (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestDo_JitterAddedWithinDelay(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true}
	clock := &testutil.InstantClock{}
	var limits []time.Duration
	_, _ = Do(context.Background(), p, func(context.Context, int) (int, error) {
		return 0, errors.New("retry")
	}, WithClock(clock), WithJitterSource(func(limit time.Duration) time.Duration {
		limits = append(limits, limit)
		return limit / 2
	}))

	if len(limits) != 2 || limits[0] != 100*time.Millisecond || limits[1] != 200*time.Millisecond {
		t.Fatalf("jitter limits = %v", limits)
	}
	got := clock.Slept()
	if got[0] != 150*time.Millisecond || got[1] != 300*time.Millisecond {
		t.Fatalf("slept %v, want [150ms 300ms]", got)
	}
}

func TestDo_CancelledDuringSleep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	clock := testutil.NewFakeClock(time.Time{})
	calls := 0

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, testPolicy(5), func(context.Context, int) (int, error) {
			calls++
			return 0, errors.New("transient")
		}, WithClock(clock))
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for clock.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("retry loop never started sleeping")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	err := <-done
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got: %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Fatal("cancellation must not be reported as exhaustion")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, testPolicy(3), func(context.Context, int) (int, error) {
		calls++
		return 1, nil
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected 0 calls, got %d", calls)
	}
}

func TestDo_NotifyReportsRetries(t *testing.T) {
	t.Parallel()

	var attempts []int
	_, _ = Do(context.Background(), testPolicy(3), func(context.Context, int) (int, error) {
		return 0, errors.New("retry")
	}, WithClock(&testutil.InstantClock{}), WithNotify(func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	}))

	// No notification after the final attempt: nothing is retried.
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("notify attempts = %v, want [1 2]", attempts)
	}
}

func TestDo_InvalidPolicy(t *testing.T) {
	t.Parallel()

	_, err := Do(context.Background(), Policy{}, func(context.Context, int) (int, error) {
		t.Fatal("op must not run with an invalid policy")
		return 0, nil
	})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got: %v", err)
	}
}
