package lane

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"
)

var base = time.Date(2026, 2, 5, 8, 0, 0, 0, time.UTC)

func iv(id string, startMin, endMin int) Interval {
	return Interval{
		ID:    id,
		Start: base.Add(time.Duration(startMin) * time.Minute),
		End:   base.Add(time.Duration(endMin) * time.Minute),
	}
}

func intPtr(n int) *int { return &n }

func TestOverlaps(t *testing.T) {
	tests := []struct {
		a, b Interval
		want bool
	}{
		{iv("a", 0, 60), iv("b", 30, 90), true},
		{iv("a", 0, 60), iv("b", 60, 90), false}, // touching
		{iv("a", 0, 60), iv("b", 10, 20), true},  // containment
		{iv("a", 0, 60), iv("b", 90, 120), false},
	}

	for _, tt := range tests {
		if got := Overlaps(tt.a, tt.b); got != tt.want {
			t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if Overlaps(tt.a, tt.b) != Overlaps(tt.b, tt.a) {
			t.Errorf("Overlaps not symmetric for %v, %v", tt.a, tt.b)
		}
	}
}

func TestAssignEmpty(t *testing.T) {
	placements, lanes := Assign(nil)
	if len(placements) != 0 {
		t.Errorf("placements = %d, want 0", len(placements))
	}
	if lanes != 1 {
		t.Errorf("lanes = %d, want 1", lanes)
	}
}

func TestAssignGreedy(t *testing.T) {
	items := []Interval{
		iv("c", 60, 120),
		iv("a", 0, 60),
		iv("b", 30, 90),
		iv("d", 90, 150),
	}

	placements, lanes := Assign(items)
	if lanes != 2 {
		t.Fatalf("lanes = %d, want 2", lanes)
	}

	want := map[string]int{"a": 0, "b": 1, "c": 0, "d": 1}
	order := []string{"a", "b", "c", "d"}
	for i, p := range placements {
		if p.ID != order[i] {
			t.Errorf("placement[%d] = %s, want %s", i, p.ID, order[i])
		}
		if p.Lane != want[p.ID] {
			t.Errorf("%s lane = %d, want %d", p.ID, p.Lane, want[p.ID])
		}
	}
}

func TestAssignTieBreakByID(t *testing.T) {
	items := []Interval{iv("b", 0, 60), iv("a", 0, 60)}
	placements, _ := Assign(items)
	if placements[0].ID != "a" || placements[0].Lane != 0 {
		t.Errorf("first placement = %s lane %d, want a lane 0", placements[0].ID, placements[0].Lane)
	}
	if placements[1].ID != "b" || placements[1].Lane != 1 {
		t.Errorf("second placement = %s lane %d, want b lane 1", placements[1].ID, placements[1].Lane)
	}
}

func TestAssignHonorsFreeHint(t *testing.T) {
	b := iv("b", 0, 60)
	b.Hint = intPtr(1)
	items := []Interval{iv("a", 0, 60), b, iv("c", 120, 180)}

	placements, lanes := Assign(items)
	got := map[string]int{}
	for _, p := range placements {
		got[p.ID] = p.Lane
	}
	if got["b"] != 1 {
		t.Errorf("b lane = %d, want hinted 1", got["b"])
	}
	if got["a"] != 0 {
		t.Errorf("a lane = %d, want 0", got["a"])
	}
	if lanes != 2 {
		t.Errorf("lanes = %d, want 2", lanes)
	}
}

func TestAssignRevalidatesCollidingHints(t *testing.T) {
	a := iv("a", 0, 60)
	a.Hint = intPtr(0)
	b := iv("b", 30, 90)
	b.Hint = intPtr(0)

	placements, lanes := Assign([]Interval{a, b})
	if placements[0].Lane != 0 {
		t.Errorf("a lane = %d, want 0", placements[0].Lane)
	}
	if placements[1].Lane != 1 {
		t.Errorf("b lane = %d, want 1 (hint collided)", placements[1].Lane)
	}
	if lanes != 2 {
		t.Errorf("lanes = %d, want 2", lanes)
	}
	assertNoSameLaneOverlap(t, placements)
}

func TestAssignIgnoresOutOfRangeHint(t *testing.T) {
	a := iv("a", 0, 60)
	a.Hint = intPtr(50)
	_, lanes := Assign([]Interval{a})
	if lanes != 1 {
		t.Errorf("lanes = %d, want 1", lanes)
	}
}

func randomIntervals(r *rand.Rand, n, spanMin, maxLen int) []Interval {
	items := make([]Interval, n)
	for i := range items {
		start := r.IntN(spanMin)
		length := 1 + r.IntN(maxLen)
		items[i] = iv(fmt.Sprintf("t%03d", i), start, start+length)
	}
	return items
}

func assertNoSameLaneOverlap(t *testing.T, placements []Placement) {
	t.Helper()
	for i := range placements {
		for j := i + 1; j < len(placements); j++ {
			a, b := placements[i], placements[j]
			if a.Lane == b.Lane && Overlaps(a.Interval, b.Interval) {
				t.Fatalf("%s and %s share lane %d and overlap", a.ID, b.ID, a.Lane)
			}
		}
	}
}

func TestAssignLaneMinimality(t *testing.T) {
	densities := []struct {
		n, span, maxLen int
	}{
		{10, 1000, 30},  // sparse
		{40, 600, 120},  // medium
		{80, 300, 240},  // dense
		{120, 60, 600},  // nearly all overlapping
		{25, 100000, 5}, // almost disjoint
	}

	for seed := uint64(1); seed <= 40; seed++ {
		r := rand.New(rand.NewPCG(seed, seed*7919))
		for _, d := range densities {
			items := randomIntervals(r, d.n, d.span, d.maxLen)
			placements, lanes := Assign(items)

			want := MaxOverlap(items)
			if want == 0 {
				want = 1
			}
			if lanes != want {
				t.Fatalf("seed %d n=%d: lanes = %d, max overlap = %d", seed, d.n, lanes, want)
			}
			if len(placements) != len(items) {
				t.Fatalf("placements = %d, want %d", len(placements), len(items))
			}
			assertNoSameLaneOverlap(t, placements)
		}
	}
}

func TestAssignDeterministic(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 42))
	items := randomIntervals(r, 50, 500, 90)

	first, _ := Assign(items)
	// Reverse the input order; output must not change.
	reversed := make([]Interval, len(items))
	for i := range items {
		reversed[len(items)-1-i] = items[i]
	}
	second, _ := Assign(reversed)

	for i := range first {
		if first[i].ID != second[i].ID || first[i].Lane != second[i].Lane {
			t.Fatalf("placement %d differs: %s/%d vs %s/%d", i, first[i].ID, first[i].Lane, second[i].ID, second[i].Lane)
		}
	}
}

func TestMaxOverlap(t *testing.T) {
	items := []Interval{iv("a", 0, 60), iv("b", 60, 120), iv("c", 30, 90), iv("d", 40, 50)}
	if got := MaxOverlap(items); got != 3 {
		t.Errorf("MaxOverlap = %d, want 3", got)
	}
	if got := MaxOverlap(nil); got != 0 {
		t.Errorf("MaxOverlap(nil) = %d, want 0", got)
	}
}
