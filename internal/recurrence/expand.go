package recurrence

import (
	"cmp"
	"slices"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

// maxIterations bounds candidate generation for rules with no effective
// upper bound. Rules without a count start counting at the window, not at
// the template start.
const maxIterations = 10000

// Expand returns the occurrences of tmpl that overlap the closed window
// [rangeStart, rangeEnd]. A zero bound leaves that side of the window open.
// Occurrences keep every template field except start and end time, and are
// ordered by start.
//
// Count is consumed by every generated candidate, including candidates
// outside the window or listed as exceptions. A candidate whose start
// instant equals an exception date is not emitted.
func Expand(tmpl model.Event, rangeStart, rangeEnd time.Time) []model.Event {
	rule := tmpl.Recurrence
	if rule == nil {
		if tmpl.Overlaps(rangeStart, rangeEnd) {
			return []model.Event{tmpl}
		}
		return nil
	}

	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	excluded := make(map[int64]struct{}, len(rule.ExceptionDates))
	for _, d := range rule.ExceptionDates {
		excluded[d.UnixNano()] = struct{}{}
	}

	duration := tmpl.Duration()
	base := tmpl.StartTime

	first := 0
	if rule.Count == 0 && !rangeStart.IsZero() {
		first = firstIndex(base, rule.Frequency, interval, rangeStart.Add(-duration))
	}

	var out []model.Event
	generated := 0
	for i := first; i < first+maxIterations; i++ {
		start, ok := step(base, rule.Frequency, i*interval)
		if !ok {
			continue
		}
		if rule.Count > 0 && generated >= rule.Count {
			break
		}
		if rule.Until != nil && start.After(*rule.Until) {
			break
		}
		if !rangeEnd.IsZero() && start.After(rangeEnd) {
			break
		}
		generated++

		if _, skip := excluded[start.UnixNano()]; skip {
			continue
		}

		occ := tmpl
		occ.StartTime = start
		occ.EndTime = start.Add(duration)
		if occ.Overlaps(rangeStart, rangeEnd) {
			out = append(out, occ)
		}
	}
	return out
}

// firstIndex returns a step index whose candidate starts no later than
// from. It undershoots by one step so clock changes and short months never
// skip an occurrence.
func firstIndex(base time.Time, freq model.Frequency, interval int, from time.Time) int {
	if !from.After(base) {
		return 0
	}
	var units int
	switch freq {
	case model.FreqDaily:
		units = int(from.Sub(base) / (24 * time.Hour))
	case model.FreqWeekly:
		units = int(from.Sub(base) / (7 * 24 * time.Hour))
	case model.FreqMonthly:
		units = (from.Year()-base.Year())*12 + int(from.Month()) - int(base.Month())
	case model.FreqYearly:
		units = from.Year() - base.Year()
	}
	return max(units/interval-1, 0)
}

// step advances base by n units of freq in base's location. Monthly and
// yearly steps that land on a day the target month lacks report false.
func step(base time.Time, freq model.Frequency, n int) (time.Time, bool) {
	switch freq {
	case model.FreqDaily:
		return base.AddDate(0, 0, n), true
	case model.FreqWeekly:
		return base.AddDate(0, 0, 7*n), true
	case model.FreqMonthly:
		t := base.AddDate(0, n, 0)
		return t, t.Day() == base.Day()
	case model.FreqYearly:
		t := base.AddDate(n, 0, 0)
		return t, t.Day() == base.Day() && t.Month() == base.Month()
	}
	return time.Time{}, false
}

// ExpandAll expands every template over the window and returns the merged
// occurrences in Sort order.
func ExpandAll(templates []model.Event, rangeStart, rangeEnd time.Time) []model.Event {
	var out []model.Event
	for _, tmpl := range templates {
		out = append(out, Expand(tmpl, rangeStart, rangeEnd)...)
	}
	Sort(out)
	return out
}

// Sort orders events by start time, breaking ties by id.
func Sort(events []model.Event) {
	slices.SortStableFunc(events, func(a, b model.Event) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
