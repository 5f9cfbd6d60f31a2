package lane

import (
	"slices"
	"time"
)

const SeverityWarning = "warning"

// Conflict is a pair of intervals whose time ranges overlap. A precedes B in
// start order.
type Conflict struct {
	A            string    `json:"a"`
	B            string    `json:"b"`
	OverlapStart time.Time `json:"overlap_start"`
	OverlapEnd   time.Time `json:"overlap_end"`
	Severity     string    `json:"severity"`
}

// Conflicts returns every overlapping pair, independent of lanes. An
// interval is never reported against itself.
func Conflicts(items []Interval) []Conflict {
	sorted := slices.Clone(items)
	Sort(sorted)

	var out []Conflict
	for i := range sorted {
		a := sorted[i]
		for j := i + 1; j < len(sorted) && sorted[j].Start.Before(a.End); j++ {
			b := sorted[j]
			if a.ID == b.ID || !Overlaps(a, b) {
				continue
			}
			out = append(out, Conflict{
				A:            a.ID,
				B:            b.ID,
				OverlapStart: later(a.Start, b.Start),
				OverlapEnd:   earlier(a.End, b.End),
				Severity:     SeverityWarning,
			})
		}
	}
	return out
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
