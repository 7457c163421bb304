package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestTracker(cfg Config, redisClient *redis.Client) (*Tracker, *[]time.Duration) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tr := NewTracker(cfg, redisClient, logger)

	slept := &[]time.Duration{}
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return tr, slept
}

func TestNewTracker_Defaults(t *testing.T) {
	tr, _ := newTestTracker(Config{}, nil)

	if tr.limiter.Burst() != 1 {
		t.Errorf("Burst = %d, want 1", tr.limiter.Burst())
	}
	if tr.config.MaxPause != DefaultConfig().MaxPause {
		t.Errorf("MaxPause = %v, want default", tr.config.MaxPause)
	}
}

func TestTracker_WaitWithoutPause(t *testing.T) {
	tr, slept := newTestTracker(Config{RequestsPerSecond: 0, Burst: 1}, nil)

	for i := 0; i < 10; i++ {
		if err := tr.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if len(*slept) != 0 {
		t.Errorf("expected no pause sleeps, got %v", *slept)
	}
}

func TestTracker_PauseBlocksWait(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tr, slept := newTestTracker(Config{MaxPause: time.Minute}, nil)
	tr.now = func() time.Time { return now }

	if err := tr.Pause(context.Background(), 10*time.Second); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := tr.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if len(*slept) != 1 || (*slept)[0] != 10*time.Second {
		t.Errorf("slept = %v, want [10s]", *slept)
	}
}

func TestTracker_PauseCappedAndMonotonic(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(Config{MaxPause: 30 * time.Second}, nil)
	tr.now = func() time.Time { return now }
	ctx := context.Background()

	if err := tr.Pause(ctx, time.Hour); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	state, _ := tr.GetState(ctx)
	if !state.PausedUntil.Equal(now.Add(30 * time.Second)) {
		t.Errorf("PausedUntil = %v, want capped to 30s", state.PausedUntil)
	}

	// A shorter pause never shrinks the window.
	if err := tr.Pause(ctx, 5*time.Second); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	state, _ = tr.GetState(ctx)
	if !state.PausedUntil.Equal(now.Add(30 * time.Second)) {
		t.Errorf("PausedUntil shrank to %v", state.PausedUntil)
	}
}

func TestTracker_WaitCancelled(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(Config{MaxPause: time.Minute}, nil)
	tr.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_ = tr.Pause(context.Background(), 10*time.Second)
	if err := tr.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestTracker_SharedWindowThroughRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	client.Del(ctx, RedisKeyPausedUntil)
	t.Cleanup(func() {
		client.Del(context.Background(), RedisKeyPausedUntil)
		client.Close()
	})

	first, _ := newTestTracker(Config{MaxPause: time.Minute}, client)
	second, _ := newTestTracker(Config{MaxPause: time.Minute}, client)

	if err := first.Pause(ctx, 20*time.Second); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	state, err := second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsPaused(time.Now()) {
		t.Error("second tracker should observe the shared pause window")
	}
}
