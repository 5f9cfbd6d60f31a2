package model

import (
	"cmp"
	"fmt"
	"time"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

// RecurrencePattern is a series' rule plus its generation progress.
// GeneratedCount and LastOccurrence cover every instance ever produced,
// including ones since detached or deleted.
type RecurrencePattern struct {
	ID             string     `json:"id"`
	Frequency      Frequency  `json:"frequency"`
	Interval       int        `json:"interval"`
	SkipDates      []Date     `json:"skip_dates"`
	GeneratedCount int        `json:"generated_count"`
	LastOccurrence *time.Time `json:"last_occurrence,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SkipSet returns SkipDates as a lookup set.
func (p RecurrencePattern) SkipSet() map[Date]struct{} {
	set := make(map[Date]struct{}, len(p.SkipDates))
	for _, d := range p.SkipDates {
		set[d] = struct{}{}
	}
	return set
}

// Date is a calendar day without a time or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Compare returns -1, 0 or +1 as d is before, equal to or after o.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmp.Compare(d.Year, o.Year)
	case d.Month != o.Month:
		return cmp.Compare(int(d.Month), int(o.Month))
	default:
		return cmp.Compare(d.Day, o.Day)
	}
}
