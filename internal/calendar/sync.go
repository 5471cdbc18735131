package calendar

import (
	"context"
	"fmt"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

// SyncUpdate patches one stored event of the calendar being synced.
type SyncUpdate struct {
	ID    string
	Patch EventPatch
}

// SyncBatch holds the provider-sourced changes of one sync pass.
type SyncBatch struct {
	Creates []EventInput
	Updates []SyncUpdate
	Deletes []string
}

// SyncApplied lists the events a batch created, updated and deleted.
type SyncApplied struct {
	Created []model.Event
	Updated []model.Event
	Deleted []model.Event
}

// ApplySyncBatch validates every change of b, then writes them all in one
// transaction. A rejected change leaves the calendar untouched. Nothing is
// written back to the provider, and deletes of events that are already gone
// are ignored.
//
// The event limit applies to the calendar as it would be after the batch;
// exceeding it fails with a SyncError.
func (s *Service) ApplySyncBatch(ctx context.Context, calendarID, actorID string, b SyncBatch) (*SyncApplied, error) {
	cal, err := s.authorizedCalendar(ctx, calendarID, actorID, model.CapEdit)
	if err != nil {
		return nil, err
	}

	var batch model.EventBatch
	for _, in := range b.Creates {
		in.CalendarID = cal.ID
		ev := newEvent(cal, in, actorID)
		if err := validateEvent(ev); err != nil {
			return nil, fmt.Errorf("create %s: %w", in.ExternalID, err)
		}
		batch.Create = append(batch.Create, *ev)
	}

	for _, u := range b.Updates {
		ev, err := s.loadEvent(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		if ev.CalendarID != cal.ID {
			return nil, calerr.Validation(fmt.Sprintf("event %s does not belong to calendar %s", ev.ID, cal.ID))
		}
		applyPatch(ev, u.Patch)
		if err := validateEvent(ev); err != nil {
			return nil, fmt.Errorf("update %s: %w", ev.ExternalID, err)
		}
		batch.Update = append(batch.Update, *ev)
	}

	var deleted []model.Event
	for _, id := range b.Deletes {
		ev, err := s.events.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get event: %w", err)
		}
		if ev == nil || ev.CalendarID != cal.ID {
			continue
		}
		batch.Delete = append(batch.Delete, id)
		deleted = append(deleted, *ev)
	}

	if batch.Empty() {
		return &SyncApplied{}, nil
	}

	if grow := len(batch.Create) - len(batch.Delete); grow > 0 {
		room, err := s.capacity(ctx, cal.ID)
		if err != nil {
			return nil, err
		}
		if room >= 0 && grow > room {
			return nil, calerr.Sync(fmt.Sprintf("calendar %s would exceed the limit of %d events: remote source adds %d, room for %d",
				cal.ID, s.opts.MaxEventsPerCalendar, grow, room), nil)
		}
	}

	created, updated, err := s.events.ApplyBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("apply sync batch: %w", err)
	}

	for _, ev := range created {
		s.publish(model.NotifyEventCreated, ev)
		s.scheduleReminder(ev)
	}
	for _, ev := range updated {
		typ := model.NotifyEventUpdated
		if ev.Status == model.StatusCancelled {
			typ = model.NotifyEventCancelled
		}
		s.publish(typ, ev)
		s.scheduleReminder(ev)
	}
	for _, ev := range deleted {
		s.cancelReminder(ev.ID)
		s.publish(model.NotifyEventCancelled, ev)
	}

	s.logger.Debug("sync batch applied", "calendar_id", cal.ID,
		"created", len(created), "updated", len(updated), "deleted", len(deleted))
	return &SyncApplied{Created: created, Updated: updated, Deleted: deleted}, nil
}
