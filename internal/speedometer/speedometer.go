// Package speedometer implements a rolling-window rate counter, used by
// the server hub to report pool- and address-level hashrate/share speed.
package speedometer

import (
	"sync"
	"time"
)

type event struct {
	at    time.Time
	value uint64
}

// Speedometer reports the rate of Event calls (weighted by value) over a
// trailing time window, optionally caching the computed rate for a short
// interval so a burst of stat requests doesn't re-walk the event buffer
// every time.
type Speedometer struct {
	mu     sync.Mutex
	window time.Duration
	events []event

	cacheTTL   time.Duration
	cachedAt   time.Time
	cachedRate float64
	hasCache   bool
}

// New returns a Speedometer with no result caching.
func New(window time.Duration) *Speedometer {
	return &Speedometer{window: window}
}

// NewCached returns a Speedometer whose Speed() result is reused for up
// to cacheTTL before being recomputed.
func NewCached(window, cacheTTL time.Duration) *Speedometer {
	return &Speedometer{window: window, cacheTTL: cacheTTL}
}

// Event records value (typically a share's weight, or 1 for a simple
// count) as having occurred now.
func (s *Speedometer) Event(value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event{at: time.Now(), value: value})
	s.trim()
}

// Speed returns the current rate, in value-units per second, over the
// trailing window.
func (s *Speedometer) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cacheTTL > 0 && s.hasCache && time.Since(s.cachedAt) < s.cacheTTL {
		return s.cachedRate
	}

	s.trim()

	var total uint64
	for _, e := range s.events {
		total += e.value
	}
	rate := float64(total) / s.window.Seconds()

	if s.cacheTTL > 0 {
		s.cachedAt = time.Now()
		s.cachedRate = rate
		s.hasCache = true
	}

	return rate
}

// Reset clears all recorded events.
func (s *Speedometer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.hasCache = false
}

// trim drops events older than the window. Caller must hold s.mu.
func (s *Speedometer) trim() {
	cutoff := time.Now().Add(-s.window)
	i := 0
	for i < len(s.events) && s.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.events = s.events[i:]
	}
}
