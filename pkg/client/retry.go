package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter is the relative randomisation applied to each wait (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration. The first wait
// matches the three second pause the Census API tolerates well.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    3 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// FixedRetryConfig returns a profile that waits exactly interval between
// attempts, up to maxAttempts.
func FixedRetryConfig(interval time.Duration, maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    interval,
		MaxBackoff:        interval,
		BackoffMultiplier: 1.0,
		Jitter:            0,
	}
}

// Validate checks that the retry configuration is usable.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", c.BackoffMultiplier)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1) (got %v)", c.Jitter)
	}
	return nil
}

// retrier runs an operation under a RetryConfig.
type retrier struct {
	config RetryConfig
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

func newRetrier(config RetryConfig, logger zerolog.Logger) *retrier {
	return &retrier{
		config: config,
		logger: logger,
		sleep:  sleepContext,
		random: rand.Float64,
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns the wait before the attempt following attempt n (1-based).
func (r *retrier) backoff(n int) time.Duration {
	d := float64(r.config.InitialBackoff)
	for i := 1; i < n; i++ {
		d *= r.config.BackoffMultiplier
		if d > float64(r.config.MaxBackoff) {
			d = float64(r.config.MaxBackoff)
			break
		}
	}
	if r.config.Jitter > 0 {
		d *= 1 - r.config.Jitter + r.random()*2*r.config.Jitter
	}
	return time.Duration(d)
}

// do executes fn until it succeeds, fails terminally, attempts run out or ctx
// is cancelled. fields is attached to every log line for the operation.
func (r *retrier) do(ctx context.Context, fields map[string]any, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info().
					Fields(fields).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errClass := ClassOf(err)

		if isContextError(ctx, err) {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}

		if !shouldRetry(errClass) {
			return lastErr
		}

		if attempt >= r.config.MaxAttempts {
			break
		}

		wait := r.backoff(attempt)
		censusRetriesTotal.WithLabelValues(string(errClass)).Inc()
		censusRetryBackoffSeconds.WithLabelValues(string(errClass)).Observe(wait.Seconds())

		r.logger.Warn().
			Err(err).
			Fields(fields).
			Str("error_class", string(errClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Census request failed, retrying after backoff")

		if err := r.sleep(ctx, wait); err != nil {
			r.logger.Warn().
				Fields(fields).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	errClass := ClassOf(lastErr)
	censusRetryExhaustedTotal.WithLabelValues(string(errClass)).Inc()
	r.logger.Error().
		Err(lastErr).
		Fields(fields).
		Str("error_class", string(errClass)).
		Int("max_attempts", r.config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, r.config.MaxAttempts, lastErr)
}
