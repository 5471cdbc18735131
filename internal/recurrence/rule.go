package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/dukerupert/famcal/internal/model"
)

// ErrUnsupported is returned for RRULE features beyond fixed-step
// daily/weekly/monthly/yearly rules.
var ErrUnsupported = errors.New("unsupported recurrence rule")

const untilLayout = "20060102T150405Z"

var freqNames = map[model.Frequency]string{
	model.FreqDaily:   "DAILY",
	model.FreqWeekly:  "WEEKLY",
	model.FreqMonthly: "MONTHLY",
	model.FreqYearly:  "YEARLY",
}

var freqFromRRule = map[rrule.Frequency]model.Frequency{
	rrule.DAILY:   model.FreqDaily,
	rrule.WEEKLY:  model.FreqWeekly,
	rrule.MONTHLY: model.FreqMonthly,
	rrule.YEARLY:  model.FreqYearly,
}

// Validate checks a rule against the event start it is attached to.
func Validate(rule *model.RecurrenceRule, start time.Time) error {
	if rule == nil {
		return nil
	}
	if !rule.Frequency.Valid() {
		return fmt.Errorf("unknown frequency %q", rule.Frequency)
	}
	if rule.Interval < 1 {
		return fmt.Errorf("interval must be at least 1")
	}
	if rule.Count < 0 {
		return fmt.Errorf("count must not be negative")
	}
	if rule.Count > 0 && rule.Until != nil {
		return fmt.Errorf("count and until are mutually exclusive")
	}
	if rule.Until != nil && rule.Until.Before(start) {
		return fmt.Errorf("until must not be before the event start")
	}
	return nil
}

// Format renders the rule as RRULE text, e.g. "FREQ=WEEKLY;INTERVAL=2;COUNT=4".
// Exception dates are not part of RRULE and are omitted.
func Format(rule model.RecurrenceRule) string {
	parts := []string{"FREQ=" + freqNames[rule.Frequency]}
	if rule.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", rule.Interval))
	}
	if rule.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", rule.Count))
	}
	if rule.Until != nil {
		parts = append(parts, "UNTIL="+rule.Until.UTC().Format(untilLayout))
	}
	return strings.Join(parts, ";")
}

// FormatExDates renders exception dates as an iCalendar EXDATE line value.
func FormatExDates(dates []time.Time) string {
	parts := make([]string, len(dates))
	for i, d := range dates {
		parts[i] = d.UTC().Format(untilLayout)
	}
	return strings.Join(parts, ",")
}

// ParseRRULE converts RRULE text from a provider or feed into a rule.
// Rules using BY* parts or sub-daily frequencies return ErrUnsupported.
func ParseRRULE(s string) (*model.RecurrenceRule, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "RRULE:"))
	if s == "" {
		return nil, fmt.Errorf("empty rule")
	}

	opt, err := rrule.StrToROption(s)
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}

	freq, ok := freqFromRRule[opt.Freq]
	if !ok {
		return nil, fmt.Errorf("%w: frequency %s", ErrUnsupported, opt.Freq)
	}
	if len(opt.Bysetpos)+len(opt.Bymonth)+len(opt.Bymonthday)+len(opt.Byyearday)+len(opt.Byweekno)+
		len(opt.Byweekday)+len(opt.Byhour)+len(opt.Byminute)+len(opt.Bysecond)+len(opt.Byeaster) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, s)
	}
	if opt.Count > 0 && !opt.Until.IsZero() {
		return nil, fmt.Errorf("count and until are mutually exclusive")
	}

	rule := &model.RecurrenceRule{
		Frequency: freq,
		Interval:  opt.Interval,
		Count:     opt.Count,
	}
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	if !opt.Until.IsZero() {
		until := opt.Until.UTC()
		rule.Until = &until
	}
	return rule, nil
}

// Describe returns a human-readable description of a rule.
func Describe(rule model.RecurrenceRule) string {
	unit := map[model.Frequency]string{
		model.FreqDaily:   "day",
		model.FreqWeekly:  "week",
		model.FreqMonthly: "month",
		model.FreqYearly:  "year",
	}[rule.Frequency]

	var desc string
	if rule.Interval <= 1 {
		switch rule.Frequency {
		case model.FreqDaily:
			desc = "Daily"
		case model.FreqWeekly:
			desc = "Weekly"
		case model.FreqMonthly:
			desc = "Monthly"
		case model.FreqYearly:
			desc = "Yearly"
		}
	} else {
		desc = fmt.Sprintf("Every %d %ss", rule.Interval, unit)
	}

	switch {
	case rule.Count == 1:
		desc += ", once"
	case rule.Count > 1:
		desc += fmt.Sprintf(", %d times", rule.Count)
	case rule.Until != nil:
		desc += ", until " + rule.Until.Format("Jan 2, 2006")
	}
	return desc
}
