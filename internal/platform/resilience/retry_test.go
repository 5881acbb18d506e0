package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

// TestRetrySucceedsAfterTransientFailures verifies recovery within the
// attempt budget
func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(3), nil,
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})

	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if result != "ok" {
		t.Errorf("Expected %q, got %q", "ok", result)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	t.Log("✓ retry recovers from transient failures")
}

// TestRetryExhaustsAttempts verifies the budget is respected and the last
// error is wrapped
func TestRetryExhaustsAttempts(t *testing.T) {
	base := errors.New("still failing")
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(3), nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, base
		})

	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !errors.Is(err, base) {
		t.Errorf("Expected wrapped base error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	t.Log("✓ attempt budget is bounded")
}

// TestRetryNonRetryableAbortsImmediately verifies the predicate short-circuit
func TestRetryNonRetryableAbortsImmediately(t *testing.T) {
	terminal := errors.New("bad credentials")
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(5),
		func(err error) bool { return false },
		func(ctx context.Context) (int, error) {
			calls++
			return 0, terminal
		})

	if !errors.Is(err, terminal) {
		t.Errorf("Expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for non-retryable error, got %d", calls)
	}

	t.Log("✓ non-retryable errors abort immediately")
}

// TestRetryRespectsContextCancellation verifies that cancellation stops the
// loop during backoff
func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := RetryWithResult(ctx, RetryConfig{
			MaxAttempts: 10,
			BaseDelay:   time.Second,
			MaxDelay:    time.Second,
		}, nil, func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("fail")
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not stop on cancellation")
	}
	if calls != 1 {
		t.Errorf("Expected cancellation during first backoff, got %d calls", calls)
	}

	t.Log("✓ cancellation interrupts backoff")
}

// TestCalculateBackoffGrowsAndCaps verifies exponential growth up to the cap
func TestCalculateBackoffGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	if d := calculateBackoff(0, base, max, 0); d != base {
		t.Errorf("Expected base delay for attempt 0, got %v", d)
	}
	if d := calculateBackoff(1, base, max, 0); d != 2*base {
		t.Errorf("Expected doubled delay for attempt 1, got %v", d)
	}
	if d := calculateBackoff(10, base, max, 0); d != max {
		t.Errorf("Expected capped delay, got %v", d)
	}

	// Jitter stays within the configured band
	for i := 0; i < 20; i++ {
		d := calculateBackoff(1, base, max, 0.5)
		if d < 100*time.Millisecond || d > 300*time.Millisecond {
			t.Errorf("Jittered delay out of band: %v", d)
		}
	}

	t.Log("✓ backoff doubles, caps, and jitters in band")
}
