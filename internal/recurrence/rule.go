package recurrence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dukerupert/timeline/internal/model"
	"github.com/dukerupert/timeline/internal/schederr"
)

const (
	MinInterval = 1
	MaxInterval = 365
)

var frequencies = map[string]model.Frequency{
	"DAILY":   model.FrequencyDaily,
	"WEEKLY":  model.FrequencyWeekly,
	"MONTHLY": model.FrequencyMonthly,
	"CUSTOM":  model.FrequencyCustom,
}

// ParseFrequency accepts a frequency name in any case.
func ParseFrequency(s string) (model.Frequency, error) {
	f, ok := frequencies[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return "", schederr.Validation("frequency", fmt.Sprintf("unknown frequency %q", s))
	}
	return f, nil
}

// Rule is how often a series repeats. CUSTOM reads Interval as raw days.
type Rule struct {
	Frequency model.Frequency `json:"frequency"`
	Interval  int             `json:"interval"`
}

func (r Rule) Validate() error {
	if _, err := ParseFrequency(string(r.Frequency)); err != nil {
		return err
	}
	if r.Interval < MinInterval || r.Interval > MaxInterval {
		return schederr.Validation("interval",
			fmt.Sprintf("interval must be between %d and %d, got %d", MinInterval, MaxInterval, r.Interval))
	}
	return nil
}

// ParseRule parses the compact form "FREQ=WEEKLY;INTERVAL=2". INTERVAL
// defaults to 1.
func ParseRule(s string) (Rule, error) {
	if strings.TrimSpace(s) == "" {
		return Rule{}, schederr.Validation("rule", "empty rule")
	}

	r := Rule{Interval: 1}
	var hasFreq bool

	for _, part := range strings.Split(s, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return Rule{}, schederr.Validation("rule", fmt.Sprintf("invalid rule part %q", part))
		}

		switch strings.ToUpper(key) {
		case "FREQ":
			f, err := ParseFrequency(val)
			if err != nil {
				return Rule{}, err
			}
			r.Frequency = f
			hasFreq = true

		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Rule{}, schederr.Validation("interval", fmt.Sprintf("invalid interval %q", val))
			}
			r.Interval = n

		default:
			return Rule{}, schederr.Validation("rule", fmt.Sprintf("unsupported rule key %q", key))
		}
	}

	if !hasFreq {
		return Rule{}, schederr.Validation("rule", "FREQ is required")
	}
	return r, r.Validate()
}

// String serializes the rule back to its compact form.
func (r Rule) String() string {
	s := "FREQ=" + string(r.Frequency)
	if r.Interval > 1 {
		s += fmt.Sprintf(";INTERVAL=%d", r.Interval)
	}
	return s
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	switch r.Frequency {
	case model.FrequencyDaily, model.FrequencyCustom:
		if r.Interval > 1 {
			return fmt.Sprintf("Repeats every %d days", r.Interval)
		}
		return "Repeats daily"
	case model.FrequencyWeekly:
		if r.Interval > 1 {
			return fmt.Sprintf("Repeats every %d weeks", r.Interval)
		}
		return "Repeats weekly"
	case model.FrequencyMonthly:
		if r.Interval > 1 {
			return fmt.Sprintf("Repeats every %d months", r.Interval)
		}
		return "Repeats monthly"
	}
	return ""
}
