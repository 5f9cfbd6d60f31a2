// Package lane assigns time intervals to horizontal tracks so that no two
// intervals on the same track overlap, and reports which intervals collide
// in time.
package lane

import (
	"cmp"
	"slices"
	"time"
)

// Interval is a half-open [Start, End) range. Hint is a lane the caller
// would like the interval placed on; it is honored only when the lane is
// free.
type Interval struct {
	ID    string
	Start time.Time
	End   time.Time
	Hint  *int
}

type Placement struct {
	Interval
	Lane int
}

// Overlaps reports whether a and b share any instant. Touching endpoints do
// not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Sort orders intervals by start time, breaking ties by ID.
func Sort(items []Interval) {
	slices.SortStableFunc(items, func(a, b Interval) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Assign places every interval on a lane and returns the placements in
// start order along with the number of lanes used (at least 1).
//
// Hinted intervals are placed first, each on its hinted lane unless that
// lane already holds an overlapping interval. Everything else goes on the
// lowest-numbered lane that is free for its whole range. Without hints this
// uses exactly MaxOverlap(items) lanes.
func Assign(items []Interval) ([]Placement, int) {
	sorted := slices.Clone(items)
	Sort(sorted)

	var lanes [][]Interval
	assigned := make([]int, len(sorted))
	for i := range assigned {
		assigned[i] = -1
	}

	for i, it := range sorted {
		if it.Hint == nil || *it.Hint < 0 || *it.Hint >= len(sorted) {
			continue
		}
		l := *it.Hint
		for len(lanes) <= l {
			lanes = append(lanes, nil)
		}
		if fits(lanes[l], it) {
			lanes[l] = append(lanes[l], it)
			assigned[i] = l
		}
	}

	for i, it := range sorted {
		if assigned[i] >= 0 {
			continue
		}
		l := 0
		for l < len(lanes) && !fits(lanes[l], it) {
			l++
		}
		if l == len(lanes) {
			lanes = append(lanes, nil)
		}
		lanes[l] = append(lanes[l], it)
		assigned[i] = l
	}

	placements := make([]Placement, len(sorted))
	for i, it := range sorted {
		placements[i] = Placement{Interval: it, Lane: assigned[i]}
	}

	count := len(lanes)
	if count == 0 {
		count = 1
	}
	return placements, count
}

func fits(lane []Interval, it Interval) bool {
	for _, other := range lane {
		if Overlaps(other, it) {
			return false
		}
	}
	return true
}

// MaxOverlap returns the largest number of intervals covering a single
// instant.
func MaxOverlap(items []Interval) int {
	type edge struct {
		at    time.Time
		delta int
	}
	edges := make([]edge, 0, 2*len(items))
	for _, it := range items {
		if !it.End.After(it.Start) {
			continue
		}
		edges = append(edges, edge{it.Start, 1}, edge{it.End, -1})
	}
	// Ends sort before starts at the same instant.
	slices.SortFunc(edges, func(a, b edge) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return cmp.Compare(a.delta, b.delta)
	})

	depth, best := 0, 0
	for _, e := range edges {
		depth += e.delta
		best = max(best, depth)
	}
	return best
}
