package recurrence

import (
	"testing"

	"github.com/dukerupert/timeline/internal/model"
	"github.com/dukerupert/timeline/internal/schederr"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		input string
		want  model.Frequency
	}{
		{"DAILY", model.FrequencyDaily},
		{"weekly", model.FrequencyWeekly},
		{" Monthly ", model.FrequencyMonthly},
		{"CUSTOM", model.FrequencyCustom},
	}
	for _, tt := range tests {
		got, err := ParseFrequency(tt.input)
		if err != nil {
			t.Errorf("ParseFrequency(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFrequency(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}

	if _, err := ParseFrequency("YEARLY"); !schederr.Is(err, schederr.KindValidation) {
		t.Errorf("YEARLY: err = %v, want validation", err)
	}
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		rule  Rule
		valid bool
	}{
		{Rule{model.FrequencyDaily, 1}, true},
		{Rule{model.FrequencyCustom, 365}, true},
		{Rule{model.FrequencyDaily, 0}, false},
		{Rule{model.FrequencyWeekly, 366}, false},
		{Rule{"HOURLY", 1}, false},
	}
	for _, tt := range tests {
		err := tt.rule.Validate()
		if (err == nil) != tt.valid {
			t.Errorf("Validate(%+v) = %v, want valid=%v", tt.rule, err, tt.valid)
		}
	}
}

func TestParseRule(t *testing.T) {
	r, err := ParseRule("FREQ=WEEKLY;INTERVAL=2")
	if err != nil {
		t.Fatalf("ParseRule error: %v", err)
	}
	if r.Frequency != model.FrequencyWeekly || r.Interval != 2 {
		t.Errorf("got %+v, want WEEKLY/2", r)
	}

	r, err = ParseRule("FREQ=DAILY")
	if err != nil || r.Interval != 1 {
		t.Errorf("default interval: %+v, %v", r, err)
	}

	for _, bad := range []string{"", "INTERVAL=2", "FREQ=DAILY;INTERVAL=0", "FREQ=DAILY;BYDAY=MO", "FREQ"} {
		if _, err := ParseRule(bad); err == nil {
			t.Errorf("ParseRule(%q) should fail", bad)
		}
	}
}

func TestRuleStringRoundTrip(t *testing.T) {
	for _, s := range []string{"FREQ=DAILY", "FREQ=WEEKLY;INTERVAL=2", "FREQ=MONTHLY;INTERVAL=3", "FREQ=CUSTOM;INTERVAL=10"} {
		r, err := ParseRule(s)
		if err != nil {
			t.Fatalf("ParseRule(%q): %v", s, err)
		}
		if r.String() != s {
			t.Errorf("String() = %q, want %q", r.String(), s)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		rule Rule
		want string
	}{
		{Rule{model.FrequencyDaily, 1}, "Repeats daily"},
		{Rule{model.FrequencyCustom, 10}, "Repeats every 10 days"},
		{Rule{model.FrequencyWeekly, 2}, "Repeats every 2 weeks"},
		{Rule{model.FrequencyMonthly, 1}, "Repeats monthly"},
	}
	for _, tt := range tests {
		if got := tt.rule.Describe(); got != tt.want {
			t.Errorf("Describe(%+v) = %q, want %q", tt.rule, got, tt.want)
		}
	}
}
