package gaps

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestFindEmptyTimestamps(t *testing.T) {
	iv := time.Minute
	got := Find(nil, iv, t0, t0.Add(3*iv), 0)

	if len(got) != 1 {
		t.Fatalf("Find = %v, want exactly one gap", got)
	}
	if !got[0].Start.Equal(t0) || !got[0].End.Equal(t0.Add(3*iv)) {
		t.Errorf("gap = [%v, %v), want [%v, %v)", got[0].Start, got[0].End, t0, t0.Add(3*iv))
	}
}

func TestFindInteriorGap(t *testing.T) {
	iv := time.Minute
	ts := []time.Time{t0, t0.Add(iv), t0.Add(3 * iv)}
	got := Find(ts, iv, t0, t0.Add(4*iv), 0)

	if len(got) != 1 {
		t.Fatalf("Find = %v, want exactly one gap", got)
	}
	if !got[0].Start.Equal(t0.Add(2*iv)) || !got[0].End.Equal(t0.Add(3*iv)) {
		t.Errorf("gap = [%v, %v), want [%v, %v)", got[0].Start, got[0].End, t0.Add(2*iv), t0.Add(3*iv))
	}
}

func TestFindLeadingAndTrailingGaps(t *testing.T) {
	iv := time.Hour
	// Records at t0+2h and t0+3h inside [t0, t0+6h).
	ts := []time.Time{t0.Add(2 * iv), t0.Add(3 * iv)}
	got := Find(ts, iv, t0, t0.Add(6*iv), 0)

	if len(got) != 2 {
		t.Fatalf("Find = %v, want leading and trailing gaps", got)
	}
	if !got[0].Start.Equal(t0) || !got[0].End.Equal(t0.Add(2*iv)) {
		t.Errorf("leading gap = [%v, %v), want [%v, %v)", got[0].Start, got[0].End, t0, t0.Add(2*iv))
	}
	if !got[1].Start.Equal(t0.Add(4*iv)) || !got[1].End.Equal(t0.Add(6*iv)) {
		t.Errorf("trailing gap = [%v, %v), want [%v, %v)", got[1].Start, got[1].End, t0.Add(4*iv), t0.Add(6*iv))
	}
}

func TestFindNoGaps(t *testing.T) {
	iv := 5 * time.Minute
	ts := make([]time.Time, 12)
	for i := range ts {
		ts[i] = t0.Add(time.Duration(i) * iv)
	}
	if got := Find(ts, iv, t0, t0.Add(12*iv), 0); len(got) != 0 {
		t.Errorf("Find = %v, want none for a complete series", got)
	}
}

func TestFindUnsortedInput(t *testing.T) {
	iv := time.Minute
	ts := []time.Time{t0.Add(3 * iv), t0, t0.Add(iv)}
	got := Find(ts, iv, t0, t0.Add(4*iv), 0)

	if len(got) != 1 || !got[0].Start.Equal(t0.Add(2*iv)) {
		t.Errorf("Find with unsorted input = %v, want single gap at t0+2m", got)
	}
}

func TestFindToleranceAbsorbsJitter(t *testing.T) {
	iv := time.Minute
	// Second record lands 10s late; within a 30s tolerance that is not a gap.
	ts := []time.Time{t0, t0.Add(iv + 10*time.Second), t0.Add(2*iv + 10*time.Second)}

	if got := Find(ts, iv, t0, t0.Add(3*iv), 30*time.Second); len(got) != 0 {
		t.Errorf("Find with tolerance = %v, want no gaps for jittered series", got)
	}
	if got := Find(ts, iv, t0, t0.Add(3*iv), time.Second); len(got) == 0 {
		t.Error("Find with tight tolerance should flag the jittered spacing")
	}
}

func TestFindDegenerateRange(t *testing.T) {
	if got := Find(nil, time.Minute, t0, t0, 0); got != nil {
		t.Errorf("Find over empty range = %v, want nil", got)
	}
	if got := Find(nil, time.Minute, t0.Add(time.Hour), t0, 0); got != nil {
		t.Errorf("Find over inverted range = %v, want nil", got)
	}
}

// TestFindCoverage verifies the reconstruction property: detected gaps plus
// observed buckets [t, t+interval) exactly cover [start, end) without
// overlap.
func TestFindCoverage(t *testing.T) {
	iv := time.Minute
	cases := [][]int{
		{},                    // empty
		{0},                   // single leading record
		{0, 1, 2, 3},          // complete
		{0, 1, 3},             // one interior hole
		{2, 3},                // leading hole
		{0, 5},                // wide interior hole
		{3, 7, 8, 15},         // several holes
		{0, 1, 2, 3, 4, 5, 6}, // longer complete prefix
	}

	const n = 20 // range is [t0, t0+20m)
	start, end := t0, t0.Add(n*iv)

	for _, offsets := range cases {
		var ts []time.Time
		covered := make([]bool, n)
		for _, o := range offsets {
			ts = append(ts, t0.Add(time.Duration(o)*iv))
			covered[o] = true
		}

		for _, g := range Find(ts, iv, start, end, 0) {
			from := int(g.Start.Sub(t0) / iv)
			to := int(g.End.Sub(t0) / iv)
			for m := from; m < to; m++ {
				if covered[m] {
					t.Errorf("offsets %v: minute %d covered twice", offsets, m)
				}
				covered[m] = true
			}
		}

		for m, ok := range covered {
			if !ok {
				t.Errorf("offsets %v: minute %d not covered by records or gaps", offsets, m)
			}
		}
	}
}
