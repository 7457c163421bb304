package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	censusRateLimitPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "census_rate_limit_pauses_total",
		Help: "Total number of pause windows opened by 429 responses",
	})

	censusRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "census_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for the limiter or a pause window",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
	})
)

// Config holds pacing configuration.
type Config struct {
	// RequestsPerSecond is the sustained request rate (<= 0 disables pacing).
	RequestsPerSecond float64

	// Burst is the number of requests allowed back to back.
	Burst int

	// MaxPause caps a single pause window regardless of Retry-After.
	MaxPause time.Duration
}

// DefaultConfig returns a conservative pacing configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             5,
		MaxPause:          2 * time.Minute,
	}
}

// Tracker paces requests and gates them during pause windows.
// It is safe for concurrent use. Redis is optional; when present the pause
// window is shared across processes.
type Tracker struct {
	limiter *rate.Limiter
	redis   *redis.Client
	config  Config
	logger  zerolog.Logger

	mu    sync.Mutex
	state State

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a new tracker. redisClient may be nil.
func NewTracker(cfg Config, redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	if cfg.MaxPause <= 0 {
		cfg.MaxPause = DefaultConfig().MaxPause
	}

	return &Tracker{
		limiter: rate.NewLimiter(limit, burst),
		redis:   redisClient,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

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

// GetState returns the current pause window, merging the shared Redis window
// into the local one.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()

	if t.redis == nil {
		return &state, nil
	}

	ms, err := t.redis.Get(ctx, RedisKeyPausedUntil).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return &state, fmt.Errorf("get pause window: %w", err)
	}
	if err == nil {
		shared := time.UnixMilli(ms)
		if shared.After(state.PausedUntil) {
			state.PausedUntil = shared
		}
	}

	return &state, nil
}

// Pause opens (or extends) the pause window by d from now.
func (t *Tracker) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if d > t.config.MaxPause {
		d = t.config.MaxPause
	}

	now := t.now()
	until := now.Add(d)

	t.mu.Lock()
	extended := until.After(t.state.PausedUntil)
	if extended {
		t.state.PausedUntil = until
		t.state.LastUpdate = now
	}
	t.mu.Unlock()

	if !extended {
		return nil
	}

	censusRateLimitPausesTotal.Inc()
	t.logger.Warn().
		Dur("pause", d).
		Time("paused_until", until).
		Msg("Census rate limit hit, pausing requests")

	if t.redis != nil {
		err := t.redis.Set(ctx, RedisKeyPausedUntil, strconv.FormatInt(until.UnixMilli(), 10), d).Err()
		if err != nil {
			return fmt.Errorf("store pause window in redis: %w", err)
		}
	}

	return nil
}

// Wait blocks until the pause window is over and the limiter grants a token.
func (t *Tracker) Wait(ctx context.Context) error {
	start := t.now()
	defer func() {
		censusRateLimitWaitSeconds.Observe(t.now().Sub(start).Seconds())
	}()

	state, err := t.GetState(ctx)
	if err != nil {
		// A broken Redis must not stop the run; fall back to the local window.
		t.logger.Warn().Err(err).Msg("Failed to read shared pause window")
	}

	if wait := state.TimeUntilResume(t.now()); wait > 0 {
		t.logger.Debug().Dur("wait", wait).Msg("Waiting for pause window to close")
		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}

	return t.limiter.Wait(ctx)
}
