package calsync

import (
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
)

const untitled = "(No title)"

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

type op struct {
	kind    opKind
	localID string
	remote  model.RemoteEvent
}

type plan struct {
	ops       []op
	unchanged int
	skipped   int
}

// usable normalizes a remote item and reports whether it can be stored.
func usable(item *model.RemoteEvent) bool {
	if item.ID == "" || item.Start.IsZero() {
		return false
	}
	if item.End.IsZero() {
		item.End = item.Start
	}
	if item.End.Before(item.Start) {
		return false
	}
	if strings.TrimSpace(item.Title) == "" {
		item.Title = untitled
	}
	if item.Status == "" {
		item.Status = model.StatusConfirmed
	}
	if item.Recurrence != nil && recurrence.Validate(item.Recurrence, item.Start) != nil {
		return false
	}
	return true
}

// diff plans the operations that make local match items. With full set,
// local events whose external id is absent from items are deleted; with
// mirror set, local events without an external id are deleted as well.
// A cancelled occurrence of a series that is not in items becomes an
// exception date on the stored series.
func diff(local []model.Event, items []model.RemoteEvent, full, mirror bool) plan {
	byExternal := make(map[string]model.Event, len(local))
	for _, ev := range local {
		if ev.ExternalID != "" {
			byExternal[ev.ExternalID] = ev
		}
	}

	// Later entries for the same id supersede earlier ones.
	latest := make(map[string]int, len(items))
	for i, item := range items {
		latest[item.ID] = i
	}

	var p plan
	seen := make(map[string]bool, len(items))
	cancelled := make(map[string][]time.Time)
	var series []string
	for i, item := range items {
		if item.SeriesID != "" {
			if _, ok := cancelled[item.SeriesID]; !ok {
				series = append(series, item.SeriesID)
			}
			cancelled[item.SeriesID] = append(cancelled[item.SeriesID], item.OriginalStart)
			continue
		}
		if item.ID != "" && latest[item.ID] != i {
			continue
		}
		if item.Deleted {
			if ev, ok := byExternal[item.ID]; ok && !seen[item.ID] {
				p.ops = append(p.ops, op{kind: opDelete, localID: ev.ID})
			}
			seen[item.ID] = true
			continue
		}
		if !usable(&item) {
			p.skipped++
			continue
		}
		seen[item.ID] = true

		ev, ok := byExternal[item.ID]
		switch {
		case !ok:
			p.ops = append(p.ops, op{kind: opCreate, remote: item})
		case sameContent(ev, item):
			p.unchanged++
		default:
			p.ops = append(p.ops, op{kind: opUpdate, localID: ev.ID, remote: item})
		}
	}

	// A series listed in items already carries its exceptions, and one
	// missing from a full listing is deleted below.
	if !full {
		for _, id := range series {
			if seen[id] {
				continue
			}
			ev, ok := byExternal[id]
			if !ok || ev.Recurrence == nil {
				p.skipped++
				continue
			}
			rule, changed := withExceptions(*ev.Recurrence, cancelled[id])
			if !changed {
				p.unchanged++
				continue
			}
			p.ops = append(p.ops, op{kind: opUpdate, localID: ev.ID, remote: asRemote(ev, &rule)})
		}
	}

	if full {
		for _, ev := range local {
			switch {
			case ev.ExternalID != "" && !seen[ev.ExternalID]:
				p.ops = append(p.ops, op{kind: opDelete, localID: ev.ID})
			case ev.ExternalID == "" && mirror:
				p.ops = append(p.ops, op{kind: opDelete, localID: ev.ID})
			}
		}
	}
	return p
}

// withExceptions adds the dates rule does not exclude yet.
func withExceptions(rule model.RecurrenceRule, dates []time.Time) (model.RecurrenceRule, bool) {
	exdates := slices.Clone(rule.ExceptionDates)
	changed := false
	for _, d := range dates {
		if d.IsZero() || slices.ContainsFunc(exdates, d.Equal) {
			continue
		}
		exdates = append(exdates, d)
		changed = true
	}
	slices.SortFunc(exdates, time.Time.Compare)
	rule.ExceptionDates = exdates
	return rule, changed
}

// asRemote describes a stored event as the remote item it mirrors.
func asRemote(ev model.Event, rule *model.RecurrenceRule) model.RemoteEvent {
	return model.RemoteEvent{
		ID:          ev.ExternalID,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       ev.StartTime,
		End:         ev.EndTime,
		AllDay:      ev.AllDay,
		Status:      ev.Status,
		Recurrence:  rule,
	}
}

func sameContent(ev model.Event, item model.RemoteEvent) bool {
	return ev.Title == item.Title &&
		ev.Description == item.Description &&
		ev.Location == item.Location &&
		ev.StartTime.Equal(item.Start) &&
		ev.EndTime.Equal(item.End) &&
		ev.AllDay == item.AllDay &&
		ev.Status == item.Status &&
		sameRule(ev.Recurrence, item.Recurrence)
}

func sameRule(a, b *model.RecurrenceRule) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Frequency != b.Frequency || a.Interval != b.Interval || a.Count != b.Count {
		return false
	}
	if (a.Until == nil) != (b.Until == nil) || (a.Until != nil && !a.Until.Equal(*b.Until)) {
		return false
	}
	return slices.EqualFunc(a.ExceptionDates, b.ExceptionDates, time.Time.Equal)
}

func eventInput(calendarID string, item model.RemoteEvent) calendar.EventInput {
	return calendar.EventInput{
		CalendarID:  calendarID,
		Title:       item.Title,
		Description: item.Description,
		Location:    item.Location,
		StartTime:   item.Start,
		EndTime:     item.End,
		AllDay:      item.AllDay,
		Status:      item.Status,
		ExternalID:  item.ID,
		Recurrence:  item.Recurrence,
	}
}

func eventPatch(item model.RemoteEvent) calendar.EventPatch {
	return calendar.EventPatch{
		Title:           &item.Title,
		Description:     &item.Description,
		Location:        &item.Location,
		StartTime:       &item.Start,
		EndTime:         &item.End,
		AllDay:          &item.AllDay,
		Status:          &item.Status,
		Recurrence:      item.Recurrence,
		ClearRecurrence: item.Recurrence == nil,
	}
}
