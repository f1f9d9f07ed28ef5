package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient error")
var errPermanent = errors.New("permanent error")

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func TestDo(t *testing.T) {
	tests := []struct {
		name      string
		retryable func(error) bool
		failures  []error
		wantErr   error
		wantCalls int
	}{
		{
			name:      "succeeds first attempt",
			retryable: isTransient,
			wantCalls: 1,
		},
		{
			name:      "retries transient errors",
			retryable: isTransient,
			failures:  []error{errTransient, errTransient},
			wantCalls: 3,
		},
		{
			name:      "stops on permanent error",
			retryable: isTransient,
			failures:  []error{errPermanent},
			wantErr:   errPermanent,
			wantCalls: 1,
		},
		{
			name:      "exhausts retries",
			retryable: isTransient,
			failures:  []error{errTransient, errTransient, errTransient, errTransient},
			wantErr:   errTransient,
			wantCalls: 3,
		},
		{
			name:      "nil predicate retries everything",
			failures:  []error{errPermanent, errPermanent, errPermanent},
			wantErr:   errPermanent,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			result, err := Do(context.Background(), LinearConfig(2, time.Millisecond), tt.retryable, nil, func() (int, error) {
				calls++
				if calls <= len(tt.failures) {
					return 0, tt.failures[calls-1]
				}
				return 42, nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != 42 {
				t.Errorf("result = %d, want 42", result)
			}
		})
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := LinearConfig(10, 100*time.Millisecond)

	onRetry := func(attempt int, err error, backoff time.Duration) {
		cancel()
	}

	_, err := Do(ctx, cfg, isTransient, onRetry, func() (int, error) {
		calls++
		return 0, errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDo_LinearBackoff(t *testing.T) {
	var backoffs []time.Duration
	onRetry := func(attempt int, err error, backoff time.Duration) {
		backoffs = append(backoffs, backoff)
	}

	_, _ = Do(context.Background(), LinearConfig(3, 2*time.Millisecond), isTransient, onRetry, func() (int, error) {
		return 0, errTransient
	})

	expected := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 6 * time.Millisecond}
	if len(backoffs) != len(expected) {
		t.Fatalf("expected %d backoffs, got %d", len(expected), len(backoffs))
	}
	for i, exp := range expected {
		if backoffs[i] != exp {
			t.Errorf("backoff[%d]: expected %v, got %v", i, exp, backoffs[i])
		}
	}
}

func TestDo_ExponentialBackoff(t *testing.T) {
	cfg := Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		BackoffFactor:  2.0,
	}

	var backoffs []time.Duration
	onRetry := func(attempt int, err error, backoff time.Duration) {
		backoffs = append(backoffs, backoff)
	}

	_, _ = Do(context.Background(), cfg, isTransient, onRetry, func() (int, error) {
		return 0, errTransient
	})

	// Expected: 10ms, 20ms, 40ms
	expected := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	for i, exp := range expected {
		if i >= len(backoffs) {
			t.Errorf("missing backoff at index %d", i)
			continue
		}
		if backoffs[i] != exp {
			t.Errorf("backoff[%d]: expected %v, got %v", i, exp, backoffs[i])
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	backoff := Exponential(50*time.Millisecond, 100*time.Millisecond, 2.0)
	for attempt := 1; attempt <= 6; attempt++ {
		if got := backoff(attempt); got > 100*time.Millisecond {
			t.Errorf("attempt %d: backoff %v exceeds max", attempt, got)
		}
	}
	if got := backoff(5); got != 100*time.Millisecond {
		t.Errorf("expected capped backoff 100ms, got %v", got)
	}
}

func TestDoVoid_RetriesAndSucceeds(t *testing.T) {
	calls := 0
	err := DoVoid(context.Background(), LinearConfig(3, time.Millisecond), isTransient, nil, func() error {
		calls++
		if calls < 2 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}
