// Package batch tunes the persistence batch size from a rolling window of
// recent write outcomes, growing while writes are fast and reliable and
// shrinking when they slow down or fail.
package batch

import (
	"sync"
	"time"
)

const (
	historyCap = 50 // retained samples
	evalMin    = 5  // samples required before the size may move
	evalWindow = 10 // most recent samples considered per evaluation
)

// Config bounds and tunes a Sizer. Zero fields take the listed defaults.
type Config struct {
	Min     int // default 50
	Max     int // default 5000
	Initial int // default Min

	// AdjustmentFactor is the fractional step per adjustment (default 0.2).
	AdjustmentFactor float64
	// FastBound is the average write duration below which the size may grow
	// (default 500ms).
	FastBound time.Duration
	// SlowBound is the average write duration above which the size shrinks
	// (default 2s).
	SlowBound time.Duration
	// GrowThreshold is the success rate required to grow (default 0.95).
	GrowThreshold float64
	// ShrinkThreshold is the success rate below which the size shrinks
	// (default 0.8).
	ShrinkThreshold float64
}

func (c Config) withDefaults() Config {
	if c.Min <= 0 {
		c.Min = 50
	}
	if c.Max <= 0 {
		c.Max = 5000
	}
	if c.Initial <= 0 {
		c.Initial = c.Min
	}
	if c.AdjustmentFactor <= 0 {
		c.AdjustmentFactor = 0.2
	}
	if c.FastBound <= 0 {
		c.FastBound = 500 * time.Millisecond
	}
	if c.SlowBound <= 0 {
		c.SlowBound = 2 * time.Second
	}
	if c.GrowThreshold <= 0 {
		c.GrowThreshold = 0.95
	}
	if c.ShrinkThreshold <= 0 {
		c.ShrinkThreshold = 0.8
	}
	return c
}

type outcome struct {
	success  bool
	duration time.Duration
}

// Sizer holds the current batch size and the outcome history. Each Sizer is
// owned by exactly one worker; the mutex covers incidental cross-goroutine
// reads of Size.
type Sizer struct {
	cfg Config

	mu      sync.Mutex
	current int
	history []outcome // ring buffer, newest last
}

// NewSizer creates a Sizer with the given bounds.
func NewSizer(cfg Config) *Sizer {
	cfg = cfg.withDefaults()
	cur := cfg.Initial
	if cur < cfg.Min {
		cur = cfg.Min
	}
	if cur > cfg.Max {
		cur = cfg.Max
	}
	return &Sizer{cfg: cfg, current: cur}
}

// Record appends one write outcome and re-evaluates the batch size. With
// fewer than five samples the size never changes.
func (s *Sizer) Record(success bool, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, outcome{success: success, duration: duration})
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	if len(s.history) < evalMin {
		return
	}
	s.evaluate()
}

// Size returns the current batch size without side effects.
func (s *Sizer) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reset clears the history and returns the size to its minimum.
func (s *Sizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = s.history[:0]
	s.current = s.cfg.Min
}

// evaluate adjusts the size from the most recent samples. Caller holds the
// mutex.
func (s *Sizer) evaluate() {
	window := s.history
	if len(window) > evalWindow {
		window = window[len(window)-evalWindow:]
	}

	successes := 0
	var total time.Duration
	for _, o := range window {
		if o.success {
			successes++
		}
		total += o.duration
	}
	failures := len(window) - successes
	successRate := float64(successes) / float64(len(window))
	avg := total / time.Duration(len(window))

	switch {
	case successRate < s.cfg.ShrinkThreshold || avg > s.cfg.SlowBound || failures > successes:
		s.current = clamp(scaleDown(s.current, s.cfg.AdjustmentFactor), s.cfg.Min, s.cfg.Max)
	case successRate >= s.cfg.GrowThreshold && avg < s.cfg.FastBound && s.current < s.cfg.Max:
		s.current = clamp(scaleUp(s.current, s.cfg.AdjustmentFactor), s.cfg.Min, s.cfg.Max)
	}
}

// scaleUp grows n by factor, always by at least one.
func scaleUp(n int, factor float64) int {
	next := int(float64(n) * (1 + factor))
	if next <= n {
		next = n + 1
	}
	return next
}

// scaleDown shrinks n by factor, always by at least one.
func scaleDown(n int, factor float64) int {
	next := int(float64(n) * (1 - factor))
	if next >= n {
		next = n - 1
	}
	return next
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
