// ABOUTME: Tests for retry policies: backoff delay math and the context-aware retry loop.
// ABOUTME: Uses deterministic no-jitter configs so delays are exact.
package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayForAttemptGrowsAndCaps(t *testing.T) {
	b := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2.0,
		MaxDelay:     500 * time.Millisecond,
		Jitter:       false,
	}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond, // capped
		500 * time.Millisecond,
	}
	for attempt, expect := range want {
		if got := b.DelayForAttempt(attempt); got != expect {
			t.Errorf("attempt %d delay = %v, want %v", attempt, got, expect)
		}
	}
}

func TestDelayForAttemptJitterBounds(t *testing.T) {
	b := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
	for i := 0; i < 20; i++ {
		d := b.DelayForAttempt(1)
		if d < 0 || d > 200*time.Millisecond {
			t.Fatalf("jittered delay %v out of [0, 200ms]", d)
		}
	}
}

func TestPolicyForAttempts(t *testing.T) {
	if got := PolicyForAttempts(0).MaxAttempts; got != 1 {
		t.Errorf("zero retries gives %d attempts", got)
	}
	if got := PolicyForAttempts(3).MaxAttempts; got != 4 {
		t.Errorf("three retries gives %d attempts", got)
	}
}

func TestRetryWithPolicySucceedsAfterFailures(t *testing.T) {
	policy := RetryPolicyStandard()
	policy.Backoff.InitialDelay = time.Millisecond
	policy.Backoff.Jitter = false

	calls := 0
	err := retryWithPolicy(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRetryWithPolicyExhaustsAttempts(t *testing.T) {
	policy := PolicyForAttempts(2)
	policy.Backoff.InitialDelay = time.Millisecond
	policy.Backoff.Jitter = false

	calls := 0
	wantErr := errors.New("still failing")
	err := retryWithPolicy(context.Background(), policy, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRetryWithPolicyHonorsShouldRetry(t *testing.T) {
	policy := RetryPolicyStandard()
	policy.ShouldRetry = func(error) bool { return false }

	calls := 0
	err := retryWithPolicy(context.Background(), policy, func() error {
		calls++
		return errors.New("permanent")
	})
	if err == nil || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRetryWithPolicyStopsOnCancel(t *testing.T) {
	policy := RetryPolicyStandard()
	policy.Backoff.InitialDelay = time.Hour
	policy.Backoff.Jitter = false

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- retryWithPolicy(ctx, policy, func() error {
			calls++
			return errors.New("transient")
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}
