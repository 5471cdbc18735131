package ical

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
)

// Parse decodes VEVENTs from an iCalendar body. Floating times are read in
// loc. Events that cannot be decoded are counted and skipped.
//
// An override instance (RECURRENCE-ID) becomes an exception of its series
// plus a standalone event.
func Parse(body []byte, loc *time.Location) ([]model.RemoteEvent, int, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, 0, errors.New("empty feed")
	}
	if loc == nil {
		loc = time.UTC
	}
	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("parse feed: %w", err)
	}

	var (
		items     []model.RemoteEvent
		overrides = make(map[string][]time.Time)
		skipped   int
	)
	index := make(map[string]int)
	for _, ve := range cal.Events() {
		item, rid, err := parseEvent(ve, loc)
		if err != nil {
			skipped++
			continue
		}
		if !rid.IsZero() {
			overrides[item.ID] = append(overrides[item.ID], rid)
			item.ID = item.ID + "_" + rid.UTC().Format("20060102T150405Z")
		}
		if i, ok := index[item.ID]; ok {
			items[i] = item
			continue
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}

	for uid, dates := range overrides {
		i, ok := index[uid]
		if !ok || items[i].Recurrence == nil {
			continue
		}
		items[i].Recurrence.ExceptionDates = append(items[i].Recurrence.ExceptionDates, dates...)
	}
	return items, skipped, nil
}

func text(ve *ics.VEvent, p ics.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func parseEvent(ve *ics.VEvent, loc *time.Location) (model.RemoteEvent, time.Time, error) {
	var rid time.Time
	item := model.RemoteEvent{
		ID:          text(ve, ics.ComponentPropertyUniqueId),
		Title:       text(ve, ics.ComponentPropertySummary),
		Description: text(ve, ics.ComponentPropertyDescription),
		Location:    text(ve, ics.ComponentPropertyLocation),
	}
	if item.ID == "" {
		return item, rid, errors.New("missing UID")
	}

	switch strings.ToUpper(text(ve, ics.ComponentPropertyStatus)) {
	case "TENTATIVE":
		item.Status = model.StatusTentative
	case "CANCELLED":
		item.Deleted = true
		item.Status = model.StatusCancelled
	default:
		item.Status = model.StatusConfirmed
	}

	start := ve.GetProperty(ics.ComponentPropertyDtStart)
	if start == nil {
		return item, rid, errors.New("missing DTSTART")
	}
	item.AllDay = isDate(start)

	var err error
	if item.Start, err = propTime(start, loc); err != nil {
		return item, rid, fmt.Errorf("DTSTART: %w", err)
	}
	if end := ve.GetProperty(ics.ComponentPropertyDtEnd); end != nil {
		if item.End, err = propTime(end, loc); err != nil {
			return item, rid, fmt.Errorf("DTEND: %w", err)
		}
	} else if item.AllDay {
		item.End = item.Start.AddDate(0, 0, 1)
	}

	if p := ve.GetProperty(ics.ComponentPropertyRecurrenceId); p != nil {
		if rid, err = propTime(p, loc); err != nil {
			return item, rid, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
	}

	if p := ve.GetProperty(ics.ComponentPropertyRrule); p != nil {
		rule, err := recurrence.ParseRRULE(p.Value)
		if err != nil {
			return item, rid, err
		}
		for _, ex := range ve.GetProperties(ics.ComponentPropertyExdate) {
			dates, err := exDates(ex, loc)
			if err != nil {
				return item, rid, fmt.Errorf("EXDATE: %w", err)
			}
			rule.ExceptionDates = append(rule.ExceptionDates, dates...)
		}
		item.Recurrence = rule
	}
	return item, rid, nil
}

func isDate(p *ics.IANAProperty) bool {
	if vs := p.ICalParameters[string(ics.ParameterValue)]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func propLocation(p *ics.IANAProperty, loc *time.Location) (*time.Location, error) {
	tz := p.ICalParameters[string(ics.ParameterTzid)]
	if len(tz) == 0 {
		return loc, nil
	}
	l, err := time.LoadLocation(tz[0])
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", tz[0])
	}
	return l, nil
}

func propTime(p *ics.IANAProperty, loc *time.Location) (time.Time, error) {
	l, err := propLocation(p, loc)
	if err != nil {
		return time.Time{}, err
	}
	return parseValue(strings.TrimSpace(p.Value), l)
}

func parseValue(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func exDates(p *ics.IANAProperty, loc *time.Location) ([]time.Time, error) {
	l, err := propLocation(p, loc)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for _, v := range strings.Split(p.Value, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		t, err := parseValue(v, l)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
