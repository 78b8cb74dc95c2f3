// Package window plans extraction time ranges: where the next incremental
// window starts and ends, and how large ranges are cut into bounded chunks.
package window

import (
	"log/slog"
	"time"
)

// Planner computes extraction windows from the last persisted timestamp.
type Planner struct {
	// Overlap is subtracted from the last timestamp so records that landed
	// late are re-absorbed (idempotent downstream writes make this safe).
	Overlap time.Duration
	// MaxCatchup bounds how far back a single incremental run will reach.
	MaxCatchup time.Duration
	// EndBuffer keeps the window clear of buckets the upstream has not
	// closed yet.
	EndBuffer time.Duration

	Log *slog.Logger
}

// Range is a half-open time range [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Plan returns the next extraction window given the last persisted
// timestamp. ok is false when the computed window is empty, meaning there
// is no new data to extract; callers skip the symbol rather than erroring.
func (p *Planner) Plan(lastTimestamp, now time.Time) (r Range, ok bool) {
	start := lastTimestamp.Add(-p.Overlap)

	if p.MaxCatchup > 0 {
		floor := now.Add(-p.MaxCatchup)
		if start.Before(floor) {
			if p.Log != nil {
				p.Log.Warn("extraction window clamped to max catch-up",
					"requestedStart", start,
					"clampedStart", floor,
					"maxCatchup", p.MaxCatchup,
				)
			}
			start = floor
		}
	}

	end := now.Add(-p.EndBuffer)
	if !start.Before(end) {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

// Chunk splits [start, end) into ordered, contiguous, non-overlapping
// sub-ranges of at most size each, covering the range exactly.
func Chunk(start, end time.Time, size time.Duration) []Range {
	if !start.Before(end) || size <= 0 {
		return nil
	}

	var out []Range
	for cur := start; cur.Before(end); {
		next := cur.Add(size)
		if next.After(end) {
			next = end
		}
		out = append(out, Range{Start: cur, End: next})
		cur = next
	}
	return out
}
