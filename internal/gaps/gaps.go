// Package gaps computes missing sub-intervals of a time series given the
// observed timestamps, the expected cadence, and the range that should be
// covered.
package gaps

import (
	"sort"
	"time"
)

// Gap is a half-open sub-range [Start, End) with no corresponding records.
type Gap struct {
	Start time.Time
	End   time.Time
}

// Duration returns the width of the gap.
func (g Gap) Duration() time.Duration { return g.End.Sub(g.Start) }

// Find returns the gaps in [start, end) not represented by timestamps, one
// record expected per interval. Timestamps may arrive in any order; they
// are sorted here. Tolerance absorbs sub-interval jitter in observed
// timestamps: consecutive records further apart than interval+tolerance
// open a gap. The result is sorted ascending and non-overlapping by
// construction.
func Find(timestamps []time.Time, interval time.Duration, start, end time.Time, tolerance time.Duration) []Gap {
	if !start.Before(end) || interval <= 0 {
		return nil
	}

	if len(timestamps) == 0 {
		return []Gap{{Start: start, End: end}}
	}

	ts := make([]time.Time, len(timestamps))
	copy(ts, timestamps)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	var out []Gap

	// Leading gap: the first record arrives more than one interval in.
	if ts[0].After(start.Add(interval)) {
		out = append(out, Gap{Start: start, End: ts[0]})
	}

	// Interior gaps between consecutive records.
	for i := 1; i < len(ts); i++ {
		prev, next := ts[i-1], ts[i]
		if next.After(prev.Add(interval + tolerance)) {
			out = append(out, Gap{Start: prev.Add(interval), End: next})
		}
	}

	// Trailing gap: the last record's bucket ends short of the range.
	last := ts[len(ts)-1]
	if last.Before(end.Add(-interval)) {
		out = append(out, Gap{Start: last.Add(interval), End: end})
	}

	return out
}
