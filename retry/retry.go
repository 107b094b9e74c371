// Package retry implements the bounded, classifier-gated retry engine used
// around external boundary calls. Deterministic failures short-circuit;
// transient and unknown failures back off exponentially with jitter until
// the budget is spent.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360studio/ralph/classify"
)

// Config tunes one retry envelope.
type Config struct {
	// Retries is the number of re-attempts after the first call. Zero means
	// a single attempt.
	Retries int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// Classify maps an error to a disposition. Defaults to the package
	// classifier when nil.
	Classify func(error) classify.Disposition

	// OnRetry, when set, is invoked once per scheduled retry, before the
	// backoff sleep. Used to feed the retries counter.
	OnRetry func(attempt int, backoff time.Duration, err error)
}

// ExhaustedError is returned when the retry budget is spent or a
// deterministic error ends the envelope early.
type ExhaustedError struct {
	Err         error
	Attempts    int
	LastBackoff time.Duration
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do invokes fn(attempt) starting at attempt 1 and returns its value plus
// the backoff that preceded the last attempt. The context cancels both the
// active call (via fn's own plumbing) and the backoff sleep.
func Do[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, time.Duration, error) {
	var zero T

	classifyFn := cfg.Classify
	if classifyFn == nil {
		classifyFn = func(err error) classify.Disposition {
			return classify.Classify(err).Disposition()
		}
	}

	var lastBackoff time.Duration
	attempt := 0
	for {
		attempt++

		value, err := fn(attempt)
		if err == nil {
			return value, lastBackoff, nil
		}

		if classifyFn(err) == classify.DispositionDeterministic {
			return zero, lastBackoff, &ExhaustedError{Err: err, Attempts: attempt, LastBackoff: lastBackoff}
		}

		if attempt > cfg.Retries {
			return zero, lastBackoff, &ExhaustedError{Err: err, Attempts: attempt, LastBackoff: lastBackoff}
		}

		backoff := Backoff(cfg.BaseDelay, cfg.MaxDelay, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, backoff, err)
		}
		lastBackoff = backoff

		select {
		case <-ctx.Done():
			return zero, lastBackoff, &ExhaustedError{Err: ctx.Err(), Attempts: attempt, LastBackoff: lastBackoff}
		case <-time.After(backoff):
		}
	}
}

// Backoff computes min(max, base·2^(attempt−1)) with ±20% jitter. Jitter
// keeps synchronized clients from retrying in lockstep.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if max > 0 && backoff >= max {
			backoff = max
			break
		}
	}
	if max > 0 && backoff > max {
		backoff = max
	}

	jitter := float64(backoff) * 0.2 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
