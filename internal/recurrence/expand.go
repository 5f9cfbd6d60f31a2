package recurrence

import (
	"time"

	"github.com/dukerupert/timeline/internal/model"
)

// MaxSteps bounds every generation loop when no other cap is configured.
const MaxSteps = 1000

type ExhaustReason string

const (
	ReasonEndDate        ExhaustReason = "end_date"
	ReasonMaxOccurrences ExhaustReason = "max_occurrences"
	ReasonSafetyCap      ExhaustReason = "safety_cap"
)

// NextOccurrence returns the occurrence one step after last.
func NextOccurrence(last time.Time, freq model.Frequency, interval int) time.Time {
	return Occurrence(last, freq, interval, 1)
}

// Occurrence returns the k-th occurrence after anchor. Monthly steps keep
// the anchor's day of month, clamped to the last day of shorter months, so
// a series started on Jan 31 yields Feb 28 and then Mar 31.
func Occurrence(anchor time.Time, freq model.Frequency, interval, k int) time.Time {
	switch freq {
	case model.FrequencyWeekly:
		return anchor.AddDate(0, 0, 7*interval*k)
	case model.FrequencyMonthly:
		return addMonthsClamped(anchor, interval*k)
	default: // DAILY, CUSTOM
		return anchor.AddDate(0, 0, interval*k)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	ty, tm, _ := first.Date()
	if last := daysInMonth(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Limits bound one generation run.
type Limits struct {
	// Steps is how many candidates to compute. A skipped date consumes a
	// step. Zero means no step limit; Horizon, Until, Remaining or the
	// safety cap must then end the run.
	Steps int
	// After resumes a series: candidates at or before it are passed over
	// without consuming steps.
	After time.Time
	// Horizon ends the run, without exhausting the series, at the first
	// candidate that does not start before it.
	Horizon *time.Time
	// Until is the series' hard end. A candidate starting after it
	// exhausts the series.
	Until *time.Time
	// Remaining is how many more instances the series may produce.
	// Negative means unlimited.
	Remaining int
	SkipDates map[model.Date]struct{}
	// Want stops the run once this many dates are produced. Zero means no
	// limit.
	Want int
	// SafetyCap overrides MaxSteps when positive.
	SafetyCap int
}

type Outcome struct {
	Dates     []time.Time
	Exhausted bool
	Reason    ExhaustReason
}

// GenerateUpTo computes occurrence starts of rule from anchor under lim.
// It always terminates: every run is bounded by the safety cap.
func GenerateUpTo(anchor time.Time, rule Rule, lim Limits) Outcome {
	limit := MaxSteps
	if lim.SafetyCap > 0 {
		limit = lim.SafetyCap
	}

	k := 0
	if !lim.After.IsZero() {
		k = stepsThrough(anchor, rule, lim.After)
	}

	var out Outcome
	for step := 1; lim.Steps <= 0 || step <= lim.Steps; step++ {
		if lim.Remaining == 0 {
			return exhausted(out, ReasonMaxOccurrences)
		}
		if step > limit {
			return exhausted(out, ReasonSafetyCap)
		}

		k++
		candidate := Occurrence(anchor, rule.Frequency, rule.Interval, k)
		if lim.Until != nil && candidate.After(*lim.Until) {
			return exhausted(out, ReasonEndDate)
		}
		if lim.Horizon != nil && !candidate.Before(*lim.Horizon) {
			break
		}
		if _, skip := lim.SkipDates[model.DateOf(candidate)]; skip {
			continue
		}

		out.Dates = append(out.Dates, candidate)
		if lim.Remaining > 0 {
			lim.Remaining--
		}
		if lim.Want > 0 && len(out.Dates) == lim.Want {
			return out
		}
	}
	if lim.Remaining == 0 {
		return exhausted(out, ReasonMaxOccurrences)
	}
	return out
}

func exhausted(out Outcome, reason ExhaustReason) Outcome {
	out.Exhausted = true
	out.Reason = reason
	return out
}

// stepsThrough returns the largest k with Occurrence(anchor, k) not after t.
func stepsThrough(anchor time.Time, rule Rule, t time.Time) int {
	if !t.After(anchor) || rule.Interval < 1 {
		return 0
	}

	var k int
	switch rule.Frequency {
	case model.FrequencyMonthly:
		months := (t.Year()-anchor.Year())*12 + int(t.Month()) - int(anchor.Month())
		k = months / rule.Interval
	case model.FrequencyWeekly:
		k = int(t.Sub(anchor).Hours()/24) / (7 * rule.Interval)
	default:
		k = int(t.Sub(anchor).Hours()/24) / rule.Interval
	}

	// The estimate is off by at most one around DST shifts and month ends.
	for k > 0 && Occurrence(anchor, rule.Frequency, rule.Interval, k).After(t) {
		k--
	}
	for !Occurrence(anchor, rule.Frequency, rule.Interval, k+1).After(t) {
		k++
	}
	return k
}
