package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

func TestParseRRULEFreqOnly(t *testing.T) {
	tests := []struct {
		input string
		freq  model.Frequency
	}{
		{"FREQ=DAILY", model.FreqDaily},
		{"FREQ=WEEKLY", model.FreqWeekly},
		{"RRULE:FREQ=MONTHLY", model.FreqMonthly},
		{"FREQ=YEARLY", model.FreqYearly},
	}

	for _, tt := range tests {
		r, err := ParseRRULE(tt.input)
		if err != nil {
			t.Errorf("ParseRRULE(%q) error: %v", tt.input, err)
			continue
		}
		if r.Frequency != tt.freq {
			t.Errorf("ParseRRULE(%q).Frequency = %q, want %q", tt.input, r.Frequency, tt.freq)
		}
		if r.Interval != 1 {
			t.Errorf("ParseRRULE(%q).Interval = %d, want 1", tt.input, r.Interval)
		}
	}
}

func TestParseRRULECountAndUntil(t *testing.T) {
	r, err := ParseRRULE("FREQ=WEEKLY;INTERVAL=2;COUNT=4")
	if err != nil {
		t.Fatalf("ParseRRULE error: %v", err)
	}
	if r.Interval != 2 || r.Count != 4 || r.Until != nil {
		t.Errorf("got %+v, want interval 2 count 4", r)
	}

	r, err = ParseRRULE("FREQ=DAILY;UNTIL=20260301T000000Z")
	if err != nil {
		t.Fatalf("ParseRRULE error: %v", err)
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if r.Until == nil || !r.Until.Equal(want) {
		t.Errorf("until = %v, want %v", r.Until, want)
	}
}

func TestParseRRULEUnsupported(t *testing.T) {
	for _, input := range []string{
		"FREQ=WEEKLY;BYDAY=MO,WE",
		"FREQ=MONTHLY;BYMONTHDAY=15",
		"FREQ=HOURLY",
	} {
		_, err := ParseRRULE(input)
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("ParseRRULE(%q) error = %v, want ErrUnsupported", input, err)
		}
	}
}

func TestParseRRULEErrors(t *testing.T) {
	for _, input := range []string{"", "FREQ", "FREQ=DAILY;COUNT=2;UNTIL=20260301T000000Z"} {
		if _, err := ParseRRULE(input); err == nil {
			t.Errorf("ParseRRULE(%q) expected error", input)
		}
	}
}

func TestFormatRoundTrip(t *testing.T) {
	until := time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)
	tests := []model.RecurrenceRule{
		{Frequency: model.FreqDaily, Interval: 1},
		{Frequency: model.FreqWeekly, Interval: 2, Count: 10},
		{Frequency: model.FreqMonthly, Interval: 1, Until: &until},
		{Frequency: model.FreqYearly, Interval: 3},
	}

	for _, rule := range tests {
		s := Format(rule)
		got, err := ParseRRULE(s)
		if err != nil {
			t.Errorf("ParseRRULE(Format(%+v)) = %v", rule, err)
			continue
		}
		if got.Frequency != rule.Frequency || got.Interval != rule.Interval || got.Count != rule.Count {
			t.Errorf("round trip %q = %+v, want %+v", s, got, rule)
		}
		if (got.Until == nil) != (rule.Until == nil) || (got.Until != nil && !got.Until.Equal(*rule.Until)) {
			t.Errorf("round trip %q until = %v, want %v", s, got.Until, rule.Until)
		}
	}
}

func TestFormat(t *testing.T) {
	got := Format(model.RecurrenceRule{Frequency: model.FreqWeekly, Interval: 2, Count: 4})
	if want := "FREQ=WEEKLY;INTERVAL=2;COUNT=4"; got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	start := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)
	after := start.AddDate(0, 1, 0)

	tests := []struct {
		name    string
		rule    *model.RecurrenceRule
		wantErr bool
	}{
		{"nil", nil, false},
		{"daily", &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1}, false},
		{"with until", &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1, Until: &after}, false},
		{"bad frequency", &model.RecurrenceRule{Frequency: "hourly", Interval: 1}, true},
		{"zero interval", &model.RecurrenceRule{Frequency: model.FreqDaily}, true},
		{"count and until", &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1, Count: 2, Until: &after}, true},
		{"until before start", &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1, Until: &before}, true},
		{"negative count", &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1, Count: -1}, true},
	}

	for _, tt := range tests {
		err := Validate(tt.rule, start)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestDescribe(t *testing.T) {
	until := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		rule model.RecurrenceRule
		want string
	}{
		{model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1}, "Daily"},
		{model.RecurrenceRule{Frequency: model.FreqWeekly, Interval: 2}, "Every 2 weeks"},
		{model.RecurrenceRule{Frequency: model.FreqMonthly, Interval: 1, Count: 6}, "Monthly, 6 times"},
		{model.RecurrenceRule{Frequency: model.FreqYearly, Interval: 1, Until: &until}, "Yearly, until Jun 30, 2026"},
	}

	for _, tt := range tests {
		if got := Describe(tt.rule); got != tt.want {
			t.Errorf("Describe(%+v) = %q, want %q", tt.rule, got, tt.want)
		}
	}
}
