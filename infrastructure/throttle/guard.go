package throttle

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"sprisk/domain/contracts"
	"sprisk/logging"
)

const (
	// DefaultMaxRetries bounds retry attempts for throttled or timed-out
	// remote calls.
	DefaultMaxRetries = 5

	// DefaultInitialBackoff is the first backoff delay.
	DefaultInitialBackoff = 2 * time.Second

	// MaxBackoff caps the computed backoff regardless of doubling.
	MaxBackoff = 60 * time.Second

	// jitterFraction bounds the random jitter added after doubling.
	jitterFraction = 0.25
)

// Guard executes remote calls, classifies their failures, and retries
// throttle-class and timeout-class failures with exponential backoff and
// jitter. Fatal failures and retry exhaustion re-raise the original error
// unchanged so callers can distinguish "gave up after retrying" from
// "never going to work".
type Guard struct {
	maxRetries     int
	initialBackoff time.Duration
	logger         *logging.Logger

	sleep  func(ctx context.Context, d time.Duration)
	jitter func(max time.Duration) time.Duration

	mu             sync.Mutex
	totalRetries   int
	throttleEvents int
}

// NewGuard creates a throttle guard with the default retry policy.
func NewGuard() *Guard {
	return NewGuardWithPolicy(DefaultMaxRetries, DefaultInitialBackoff)
}

// NewGuardWithPolicy creates a throttle guard with an explicit retry
// ceiling and initial backoff.
func NewGuardWithPolicy(maxRetries int, initialBackoff time.Duration) *Guard {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Guard{
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		logger:         logging.Default().WithComponent("throttle_guard"),
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rng.Int63n(int64(max)))
		},
	}
}

// Execute invokes call, retrying throttle-class and timeout-class failures
// until the retry ceiling is reached. The backoff doubles on every retry,
// gains up to 25% jitter, is capped at 60 seconds, and yields to an
// explicit Retry-After hint when the hint is larger.
func (g *Guard) Execute(ctx context.Context, operationName string, call func() error) error {
	backoff := g.initialBackoff

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}

		throttled := contracts.IsThrottle(lastErr)
		timedOut := contracts.IsTimeout(lastErr)
		if !throttled && !timedOut {
			// Fatal: re-raise unchanged.
			return lastErr
		}
		if attempt >= g.maxRetries {
			g.logger.Warn("Retry ceiling reached, giving up",
				"operation", operationName,
				"attempts", attempt+1,
				"error", lastErr.Error())
			return lastErr
		}

		wait := backoff
		if hint := contracts.RetryAfterHint(lastErr); hint > wait {
			wait = hint
		}

		g.mu.Lock()
		g.totalRetries++
		if throttled {
			g.throttleEvents++
		}
		g.mu.Unlock()

		g.logger.Warn("Remote call retrying after backoff",
			"operation", operationName,
			"attempt", attempt+1,
			"throttled", throttled,
			"backoff_ms", wait.Milliseconds())

		g.sleep(ctx, wait)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Double, add bounded jitter, cap.
		backoff *= 2
		backoff += g.jitter(time.Duration(float64(backoff) * jitterFraction))
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
	}
}

// Counters returns the running totals of retries and throttle events.
func (g *Guard) Counters() (retries, throttleEvents int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalRetries, g.throttleEvents
}

// ResetCounters clears the diagnostic counters at the start of an
// operation.
func (g *Guard) ResetCounters() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.totalRetries = 0
	g.throttleEvents = 0
}
