package scheduler

import (
	"sync"
	"time"

	"arbwatch/internal/checkpoint"
)

const (
	// trailing window inside which repeated 429s escalate the backoff
	rateLimitWindow = 30 * time.Minute
	// cadence of interval relaxation once the clean streak is established
	cooldownStep = 10 * time.Minute

	firstBackoff  = 30 * time.Second
	secondBackoff = 60 * time.Second
	thirdBackoff  = 120 * time.Second
)

// RateLimitState tracks 429 pressure and the resulting polling interval.
// The scheduler owns it; the checkpointer reads it through Snapshot, so all
// access is guarded.
type RateLimitState struct {
	mu             sync.Mutex
	base           time.Duration
	current        time.Duration
	last429        time.Time
	recent429      int
	cooldownAnchor time.Time
}

// NewRateLimitState starts at the configured base interval.
func NewRateLimitState(base time.Duration) *RateLimitState {
	return &RateLimitState{base: base, current: base}
}

// Base returns the configured floor interval.
func (r *RateLimitState) Base() time.Duration { return r.base }

// Current returns the interval in effect.
func (r *RateLimitState) Current() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Observe429 applies one backoff step and returns the immediate sleep to
// impose plus whether the escalation threshold was hit. Occurrences are
// counted within a trailing 30-minute window; a clean streak longer than
// that resets the count.
func (r *RateLimitState) Observe429(now time.Time) (sleep time.Duration, alert bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last429.IsZero() || now.Sub(r.last429) >= rateLimitWindow {
		r.recent429 = 1
	} else {
		r.recent429++
	}
	r.last429 = now
	r.cooldownAnchor = time.Time{}

	switch r.recent429 {
	case 1:
		sleep = firstBackoff
		r.current = time.Duration(float64(r.current) * 1.5)
	case 2:
		sleep = secondBackoff
		r.current *= 2
	default:
		sleep = thirdBackoff
		r.current *= 2
		alert = true
	}
	return sleep, alert
}

// MaybeRelax walks the interval back toward base: once 30 consecutive
// minutes pass without a 429, every further 10 minutes take 10% off, never
// dropping below base. Returns the new interval when a step was applied.
func (r *RateLimitState) MaybeRelax(now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current <= r.base {
		r.cooldownAnchor = time.Time{}
		return r.current, false
	}
	if !r.last429.IsZero() && now.Sub(r.last429) < rateLimitWindow {
		return r.current, false
	}
	if r.cooldownAnchor.IsZero() {
		r.cooldownAnchor = now
		return r.current, false
	}
	if now.Sub(r.cooldownAnchor) < cooldownStep {
		return r.current, false
	}

	r.cooldownAnchor = now
	relaxed := time.Duration(float64(r.current) * 0.9)
	if relaxed < r.base {
		relaxed = r.base
	}
	r.current = relaxed
	return r.current, true
}

// Snapshot exports the state for checkpointing.
func (r *RateLimitState) Snapshot() checkpoint.RateLimit {
	r.mu.Lock()
	defer r.mu.Unlock()

	rl := checkpoint.RateLimit{
		CurrentInterval: r.current.Seconds(),
		Recent429Count:  r.recent429,
	}
	if !r.last429.IsZero() {
		t := r.last429.UTC()
		rl.Last429Time = &t
	}
	return rl
}

// Restore loads checkpointed state, keeping the base as the floor.
func (r *RateLimitState) Restore(rl checkpoint.RateLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if iv := time.Duration(rl.CurrentInterval * float64(time.Second)); iv > r.base {
		r.current = iv
	}
	r.recent429 = rl.Recent429Count
	if rl.Last429Time != nil {
		r.last429 = *rl.Last429Time
	}
}
