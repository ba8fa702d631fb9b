package log

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter drops messages above a fixed rate. Used for state transitions
// that a flapping link or a misbehaving guest could otherwise flood.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows perMinute messages with the given burst.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(perMinute/60), burst)}
}

// DefaultRateLimiter allows 5 messages per minute with a burst of 20.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(5, 20)
}

// Allow reports whether a message may be emitted now.
func (rl *RateLimiter) Allow() bool {
	return rl.lim.AllowN(time.Now(), 1)
}

// Infof logs at info level if allowed.
func (rl *RateLimiter) Infof(format string, args ...any) {
	if rl.Allow() {
		logf(slog.LevelInfo, format, args...)
	}
}

// Warnf logs at warn level if allowed.
func (rl *RateLimiter) Warnf(format string, args ...any) {
	if rl.Allow() {
		logf(slog.LevelWarn, format, args...)
	}
}

// Errorf logs at error level if allowed.
func (rl *RateLimiter) Errorf(format string, args ...any) {
	if rl.Allow() {
		logf(slog.LevelError, format, args...)
	}
}
