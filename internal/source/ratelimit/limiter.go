// Package ratelimit paces outbound requests to rating sources.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Limiter enforces a per-key minimum interval between calls, giving a
// steady requests-per-second ceiling for each rating source.
type Limiter struct {
	clock  clockwork.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	nextAt  map[string]time.Time
	minGaps map[string]time.Duration
}

// New creates a limiter using the real clock.
func New(logger zerolog.Logger) *Limiter {
	return NewWithClock(clockwork.NewRealClock(), logger)
}

// NewWithClock creates a limiter with an injected clock for tests.
func NewWithClock(clock clockwork.Clock, logger zerolog.Logger) *Limiter {
	return &Limiter{
		clock:   clock,
		logger:  logger.With().Str("component", "rate-limiter").Logger(),
		nextAt:  make(map[string]time.Time),
		minGaps: make(map[string]time.Duration),
	}
}

// SetRate configures the allowed requests per second for a key.
// A rate of zero or less disables pacing for that key.
func (l *Limiter) SetRate(key string, perSecond float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if perSecond <= 0 {
		delete(l.minGaps, key)
		return
	}
	l.minGaps[key] = time.Duration(float64(time.Second) / perSecond)
}

// Wait blocks until the key is allowed another call, or until the
// context is done. The slot is reserved before waiting so concurrent
// callers queue up instead of bursting.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	gap, limited := l.minGaps[key]
	if !limited {
		l.mu.Unlock()
		return ctx.Err()
	}

	now := l.clock.Now()
	at := l.nextAt[key]
	if at.Before(now) {
		at = now
	}
	l.nextAt[key] = at.Add(gap)
	l.mu.Unlock()

	delay := at.Sub(now)
	if delay <= 0 {
		return ctx.Err()
	}

	l.logger.Trace().Str("key", key).Dur("delay", delay).Msg("Pacing request")

	timer := l.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
