// Package retry generalizes the teacher's ADS-B backoff retry helper
// (pkg/adsb/retry.go) for any network call to an out-of-scope external
// collaborator: the astronomy provider and the optional Alpaca dome
// adapter both see transient failures the same way the original
// airplanes.live client did.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (default: 3).
	MaxRetries int

	// InitialDelay is the initial backoff delay (default: 1 second).
	InitialDelay time.Duration

	// MaxDelay is the maximum backoff delay (default: 30 seconds).
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0 for exponential).
	Multiplier float64
}

// DefaultConfig returns sensible defaults for retry behavior.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// WithBackoff executes fn with exponential backoff and returns its result.
// It respects ctx cancellation between attempts — a STOP or shutdown must
// be able to interrupt a retry wait just as it interrupts any other
// cooperative sleep in the core (§5).
func WithBackoff[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}
		result = res
		lastErr = err

		if attempt == cfg.MaxRetries {
			break
		}

		nextDelay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt)))
		if nextDelay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		} else {
			delay = nextDelay
		}
	}

	return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}
