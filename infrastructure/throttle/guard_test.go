package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprisk/domain/contracts"
)

// newTestGuard returns a guard whose sleeps are recorded instead of
// executed and whose jitter is deterministic.
func newTestGuard(maxRetries int, initialBackoff time.Duration) (*Guard, *[]time.Duration) {
	g := NewGuardWithPolicy(maxRetries, initialBackoff)
	var slept []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) {
		slept = append(slept, d)
	}
	g.jitter = func(max time.Duration) time.Duration { return 0 }
	return g, &slept
}

func TestGuard_Execute_SucceedsAfterThrottles(t *testing.T) {
	// Arrange
	guard, slept := newTestGuard(5, 10*time.Millisecond)

	calls := 0
	call := func() error {
		calls++
		if calls <= 3 {
			return &contracts.ThrottleError{Operation: "list_sites", Err: errors.New("429 too many requests")}
		}
		return nil
	}

	// Act
	err := guard.Execute(context.Background(), "list_sites", call)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Len(t, *slept, 3)

	retries, throttleEvents := guard.Counters()
	assert.Equal(t, 3, retries)
	assert.Equal(t, 3, throttleEvents)
}

func TestGuard_Execute_TimeoutsRetrySameTrack(t *testing.T) {
	// Arrange
	guard, _ := newTestGuard(5, 10*time.Millisecond)

	calls := 0
	call := func() error {
		calls++
		if calls == 1 {
			return &contracts.TimeoutError{Operation: "list_items", Err: context.DeadlineExceeded}
		}
		return nil
	}

	// Act
	err := guard.Execute(context.Background(), "list_items", call)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	retries, throttleEvents := guard.Counters()
	assert.Equal(t, 1, retries)
	assert.Equal(t, 0, throttleEvents, "timeouts retry but are not throttle events")
}

func TestGuard_Execute_ExhaustionReRaisesOriginalError(t *testing.T) {
	// Arrange
	guard, slept := newTestGuard(2, 10*time.Millisecond)
	throttleErr := &contracts.ThrottleError{Operation: "get_role_assignments", Err: errors.New("server busy")}

	calls := 0
	call := func() error {
		calls++
		return throttleErr
	}

	// Act
	err := guard.Execute(context.Background(), "get_role_assignments", call)

	// Assert
	require.Error(t, err)
	assert.Same(t, error(throttleErr), err, "exhaustion must re-raise the original error unchanged")
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Len(t, *slept, 2)
}

func TestGuard_Execute_FatalErrorReturnsImmediately(t *testing.T) {
	// Arrange
	guard, slept := newTestGuard(5, 10*time.Millisecond)
	fatal := errors.New("connection refused")

	calls := 0
	call := func() error {
		calls++
		return fatal
	}

	// Act
	err := guard.Execute(context.Background(), "list_sites", call)

	// Assert
	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)

	retries, _ := guard.Counters()
	assert.Equal(t, 0, retries)
}

func TestGuard_Execute_BackoffDoublesAndCaps(t *testing.T) {
	// Arrange: enough retries that doubling would exceed the cap.
	guard, slept := newTestGuard(8, 10*time.Second)

	calls := 0
	call := func() error {
		calls++
		if calls <= 8 {
			return &contracts.ThrottleError{Operation: "op", Err: errors.New("429")}
		}
		return nil
	}

	// Act
	err := guard.Execute(context.Background(), "op", call)

	// Assert
	require.NoError(t, err)
	require.Len(t, *slept, 8)

	prev := time.Duration(0)
	for _, wait := range *slept {
		assert.GreaterOrEqual(t, wait, prev, "waits must be non-decreasing")
		assert.LessOrEqual(t, wait, MaxBackoff, "waits must never exceed the cap")
		prev = wait
	}
	assert.Equal(t, MaxBackoff, (*slept)[len(*slept)-1])
}

func TestGuard_Execute_JitterStaysWithinBound(t *testing.T) {
	// Arrange: real jitter, recorded sleeps. Small initial backoff keeps
	// every doubled-plus-jittered wait far below the cap.
	guard := NewGuardWithPolicy(5, 100*time.Millisecond)
	var slept []time.Duration
	guard.sleep = func(ctx context.Context, d time.Duration) {
		slept = append(slept, d)
	}

	calls := 0
	call := func() error {
		calls++
		if calls <= 5 {
			return &contracts.ThrottleError{Operation: "op", Err: errors.New("429")}
		}
		return nil
	}

	// Act
	err := guard.Execute(context.Background(), "op", call)

	// Assert: the first wait carries no jitter; each later wait is the
	// previous one doubled plus at most 25% random jitter.
	require.NoError(t, err)
	require.Len(t, slept, 5)
	assert.Equal(t, 100*time.Millisecond, slept[0])
	for k := 1; k < len(slept); k++ {
		doubled := 2 * slept[k-1]
		assert.GreaterOrEqual(t, slept[k], doubled)
		assert.LessOrEqual(t, slept[k], time.Duration(float64(doubled)*1.25))
		assert.LessOrEqual(t, slept[k], MaxBackoff)
	}
}

func TestGuard_Execute_HonorsRetryAfterHint(t *testing.T) {
	// Arrange
	guard, slept := newTestGuard(3, 1*time.Second)

	calls := 0
	call := func() error {
		calls++
		if calls == 1 {
			return &contracts.ThrottleError{
				Operation:  "op",
				RetryAfter: 30 * time.Second,
				Err:        errors.New("429"),
			}
		}
		return nil
	}

	// Act
	err := guard.Execute(context.Background(), "op", call)

	// Assert
	require.NoError(t, err)
	require.Len(t, *slept, 1)
	assert.Equal(t, 30*time.Second, (*slept)[0], "explicit hint wins over computed backoff")
}

func TestGuard_Execute_ContextCancellationStopsRetrying(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	guard := NewGuardWithPolicy(5, 10*time.Millisecond)
	guard.sleep = func(ctx context.Context, d time.Duration) { cancel() }
	guard.jitter = func(max time.Duration) time.Duration { return 0 }

	call := func() error {
		return &contracts.ThrottleError{Operation: "op", Err: errors.New("429")}
	}

	// Act
	err := guard.Execute(ctx, "op", call)

	// Assert
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGuard_ResetCounters(t *testing.T) {
	// Arrange
	guard, _ := newTestGuard(5, time.Millisecond)
	calls := 0
	_ = guard.Execute(context.Background(), "op", func() error {
		calls++
		if calls == 1 {
			return &contracts.ThrottleError{Operation: "op", Err: errors.New("429")}
		}
		return nil
	})

	// Act
	guard.ResetCounters()

	// Assert
	retries, throttleEvents := guard.Counters()
	assert.Equal(t, 0, retries)
	assert.Equal(t, 0, throttleEvents)
}
