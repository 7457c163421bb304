// Package ratelimit paces Census API requests and coordinates the pause
// window opened by 429 Too Many Requests responses.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// RedisKeyPausedUntil holds the Unix millisecond timestamp until which no
// process sharing the Redis instance should call the API.
const RedisKeyPausedUntil = "census:rate_limit:paused_until"

// State represents the current pause window.
type State struct {
	// PausedUntil is the end of the current pause window (zero when not paused).
	PausedUntil time.Time `json:"paused_until"`

	// LastUpdate is when the window was last extended.
	LastUpdate time.Time `json:"last_update"`
}

// IsPaused reports whether requests must wait at time now.
func (s *State) IsPaused(now time.Time) bool {
	return now.Before(s.PausedUntil)
}

// TimeUntilResume returns how long requests must wait at time now.
// Returns 0 if the window has already passed.
func (s *State) TimeUntilResume(now time.Time) time.Duration {
	d := s.PausedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form.
func ParseRetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
