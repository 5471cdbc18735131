package google

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
)

const dateLayout = "2006-01-02"

// fromAPIEvents decodes a listing. Cancelled instances of a recurring event
// listed in the same batch become exception dates of that series; those
// whose series is not listed are passed on with SeriesID set so the caller
// can amend the stored series.
func fromAPIEvents(raw []*calendar.Event) ([]model.RemoteEvent, int) {
	items := make([]model.RemoteEvent, 0, len(raw))
	index := make(map[string]int, len(raw))
	var cancelled []*calendar.Event
	dropped := 0

	for _, ev := range raw {
		if ev.RecurringEventId != "" && ev.Status == "cancelled" {
			cancelled = append(cancelled, ev)
			continue
		}
		item, err := fromAPIEvent(ev)
		if err != nil {
			dropped++
			continue
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}

	for _, ev := range cancelled {
		if ev.OriginalStartTime == nil {
			continue
		}
		at, _, err := parseDateTime(ev.OriginalStartTime)
		if err != nil {
			continue
		}
		i, ok := index[ev.RecurringEventId]
		if !ok {
			items = append(items, model.RemoteEvent{ID: ev.Id, SeriesID: ev.RecurringEventId, OriginalStart: at})
			continue
		}
		if items[i].Recurrence == nil {
			continue
		}
		items[i].Recurrence.ExceptionDates = append(items[i].Recurrence.ExceptionDates, at)
	}
	return items, dropped
}

func fromAPIEvent(ev *calendar.Event) (model.RemoteEvent, error) {
	if ev.Status == "cancelled" {
		return model.RemoteEvent{ID: ev.Id, Deleted: true}, nil
	}

	item := model.RemoteEvent{
		ID:          ev.Id,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      model.EventStatus(ev.Status),
	}
	if !item.Status.Valid() {
		item.Status = model.StatusConfirmed
	}

	var err error
	if item.Start, item.AllDay, err = parseDateTime(ev.Start); err != nil {
		return item, fmt.Errorf("event %s start: %w", ev.Id, err)
	}
	if ev.End != nil {
		if item.End, _, err = parseDateTime(ev.End); err != nil {
			return item, fmt.Errorf("event %s end: %w", ev.Id, err)
		}
	}

	rule, err := parseRecurrence(ev.Recurrence)
	if err != nil {
		return item, fmt.Errorf("event %s recurrence: %w", ev.Id, err)
	}
	item.Recurrence = rule
	return item, nil
}

// parseDateTime reads a timed or all-day boundary.
func parseDateTime(dt *calendar.EventDateTime) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		loc := time.UTC
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation(dateLayout, dt.Date, loc)
		return t, true, err
	}
	return time.Time{}, false, fmt.Errorf("missing time")
}

// parseRecurrence reads RRULE and EXDATE lines. RDATE and EXRULE are not
// supported.
func parseRecurrence(lines []string) (*model.RecurrenceRule, error) {
	var (
		rule    *model.RecurrenceRule
		exdates []time.Time
	)
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		params := strings.Split(name, ";")
		switch strings.ToUpper(params[0]) {
		case "RRULE":
			r, err := recurrence.ParseRRULE(value)
			if err != nil {
				return nil, err
			}
			rule = r
		case "EXDATE":
			dates, err := parseExDates(params[1:], value)
			if err != nil {
				return nil, err
			}
			exdates = append(exdates, dates...)
		default:
			return nil, fmt.Errorf("%w: %s", recurrence.ErrUnsupported, params[0])
		}
	}
	if rule != nil {
		rule.ExceptionDates = exdates
	}
	return rule, nil
}

func parseExDates(params []string, value string) ([]time.Time, error) {
	loc := time.UTC
	for _, p := range params {
		if tz, ok := strings.CutPrefix(p, "TZID="); ok {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			loc = l
		}
	}

	var out []time.Time
	for _, v := range strings.Split(value, ",") {
		var (
			t   time.Time
			err error
		)
		switch {
		case strings.HasSuffix(v, "Z"):
			t, err = time.Parse("20060102T150405Z", v)
		case len(v) == len("20060102"):
			t, err = time.ParseInLocation("20060102", v, loc)
		default:
			t, err = time.ParseInLocation("20060102T150405", v, loc)
		}
		if err != nil {
			return nil, fmt.Errorf("exdate %q: %w", v, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func toAPIEvent(ev model.Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      string(ev.Status),
	}
	if ev.AllDay {
		end := ev.EndTime
		if !end.After(ev.StartTime) {
			end = ev.StartTime.AddDate(0, 0, 1)
		}
		out.Start = &calendar.EventDateTime{Date: ev.StartTime.Format(dateLayout)}
		out.End = &calendar.EventDateTime{Date: end.Format(dateLayout)}
	} else {
		out.Start = &calendar.EventDateTime{DateTime: ev.StartTime.Format(time.RFC3339)}
		out.End = &calendar.EventDateTime{DateTime: ev.EndTime.Format(time.RFC3339)}
	}
	if rule := ev.Recurrence; rule != nil {
		out.Recurrence = []string{"RRULE:" + recurrence.Format(*rule)}
		if len(rule.ExceptionDates) > 0 {
			out.Recurrence = append(out.Recurrence, "EXDATE:"+recurrence.FormatExDates(rule.ExceptionDates))
		}
	}
	return out
}
