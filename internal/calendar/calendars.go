package calendar

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

const defaultCalendarName = "Family Calendar"

type CalendarInput struct {
	Name        string
	Description string
	Color       string
	Type        model.CalendarType
	FamilyID    string
	IsDefault   bool
	Timezone    string
	External    model.ExternalConfig
}

// CalendarPatch updates the non-nil fields of a calendar.
type CalendarPatch struct {
	Name        *string
	Description *string
	Color       *string
	IsDefault   *bool
	Timezone    *string
}

func validTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return calerr.InvalidField("timezone", fmt.Sprintf("unknown timezone %q", tz))
	}
	return nil
}

// CreateCalendar creates a calendar owned by actorID and provisions its
// default permissions.
func (s *Service) CreateCalendar(ctx context.Context, in CalendarInput, actorID string) (*model.Calendar, error) {
	return s.createCalendar(ctx, in, actorID, actorID)
}

func (s *Service) createCalendar(ctx context.Context, in CalendarInput, actorID, ownerID string) (*model.Calendar, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, calerr.InvalidField("name", "is required")
	}
	if in.Type == "" {
		in.Type = model.CalendarLocal
	}
	if !in.Type.Valid() {
		return nil, calerr.InvalidField("type", fmt.Sprintf("unknown calendar type %q", in.Type))
	}
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}
	if err := validTimezone(in.Timezone); err != nil {
		return nil, err
	}

	var memberIDs []string
	if in.FamilyID != "" {
		ids, err := s.members.ListMemberIDs(ctx, in.FamilyID)
		if err != nil {
			return nil, fmt.Errorf("list family members: %w", err)
		}
		if !slices.Contains(ids, actorID) {
			return nil, calerr.PermissionDenied(fmt.Sprintf("user %s is not a member of family %s", actorID, in.FamilyID))
		}
		memberIDs = ids
	}

	cal, err := s.calendars.Create(ctx, &model.Calendar{
		Name:        in.Name,
		Description: in.Description,
		Color:       in.Color,
		Type:        in.Type,
		FamilyID:    in.FamilyID,
		OwnerID:     ownerID,
		IsDefault:   in.IsDefault,
		Timezone:    in.Timezone,
		External:    in.External,
	})
	if err != nil {
		return nil, fmt.Errorf("create calendar: %w", err)
	}

	if _, err := s.authority.ProvisionDefaults(ctx, cal, ownerID, memberIDs); err != nil {
		if delErr := s.calendars.Delete(ctx, cal.ID); delErr != nil {
			s.logger.Error("failed to remove calendar after provisioning error", "calendar_id", cal.ID, "error", delErr)
		}
		return nil, err
	}

	s.logger.Info("calendar created", "calendar_id", cal.ID, "type", cal.Type, "family_id", cal.FamilyID)
	return cal, nil
}

// loadCalendar returns the calendar or CalendarNotFound.
func (s *Service) loadCalendar(ctx context.Context, id string) (*model.Calendar, error) {
	cal, err := s.calendars.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	if cal == nil {
		return nil, calerr.CalendarNotFound(id)
	}
	return cal, nil
}

// authorizedCalendar checks existence before permission.
func (s *Service) authorizedCalendar(ctx context.Context, id, actorID string, required model.Capability) (*model.Calendar, error) {
	cal, err := s.loadCalendar(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authority.Require(ctx, id, actorID, required); err != nil {
		return nil, err
	}
	return cal, nil
}

func (s *Service) GetCalendar(ctx context.Context, id, actorID string) (*model.Calendar, error) {
	return s.authorizedCalendar(ctx, id, actorID, model.CapView)
}

func (s *Service) GetUserCalendars(ctx context.Context, userID string) ([]model.Calendar, error) {
	cals, err := s.calendars.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user calendars: %w", err)
	}
	return cals, nil
}

// GetFamilyCalendars returns the family's calendars the actor can view.
func (s *Service) GetFamilyCalendars(ctx context.Context, familyID, actorID string) ([]model.Calendar, error) {
	all, err := s.calendars.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family calendars: %w", err)
	}
	visible := make([]model.Calendar, 0, len(all))
	for _, c := range all {
		ok, err := s.authority.Check(ctx, c.ID, actorID, model.CapView)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

func (s *Service) UpdateCalendar(ctx context.Context, id string, patch CalendarPatch, actorID string) (*model.Calendar, error) {
	cal, err := s.authorizedCalendar(ctx, id, actorID, model.CapEdit)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, calerr.InvalidField("name", "is required")
		}
		cal.Name = name
	}
	if patch.Description != nil {
		cal.Description = *patch.Description
	}
	if patch.Color != nil {
		cal.Color = *patch.Color
	}
	if patch.IsDefault != nil {
		cal.IsDefault = *patch.IsDefault
	}
	if patch.Timezone != nil {
		if err := validTimezone(*patch.Timezone); err != nil {
			return nil, err
		}
		cal.Timezone = *patch.Timezone
	}

	updated, err := s.calendars.Update(ctx, cal)
	if err != nil {
		return nil, fmt.Errorf("update calendar: %w", err)
	}
	return updated, nil
}

// DeleteCalendar removes the calendar with its events, permissions and
// stored credentials. It requires share access.
func (s *Service) DeleteCalendar(ctx context.Context, id, actorID string) error {
	if _, err := s.authorizedCalendar(ctx, id, actorID, model.CapShare); err != nil {
		return err
	}

	events, err := s.events.ListByCalendars(ctx, []string{id}, nil)
	if err != nil {
		return fmt.Errorf("list calendar events: %w", err)
	}
	if err := s.calendars.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete calendar: %w", err)
	}
	for _, ev := range events {
		s.cancelReminder(ev.ID)
	}

	s.logger.Info("calendar deleted", "calendar_id", id, "events", len(events))
	return nil
}

// GetOrCreateDefaultCalendar returns the default calendar of the family, or
// of the user when familyID is empty, creating it on first use. A family
// default has no owner; every member gets view and edit access. Concurrent
// first calls for one scope share a single creation.
func (s *Service) GetOrCreateDefaultCalendar(ctx context.Context, familyID, userID string) (*model.Calendar, error) {
	ownerID := userID
	if familyID != "" {
		ownerID = ""
	}

	cal, err := s.calendars.GetDefault(ctx, familyID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get default calendar: %w", err)
	}
	if cal != nil {
		return cal, nil
	}

	v, err, _ := s.defaults.Do(familyID+"\x00"+ownerID, func() (any, error) {
		cal, err := s.calendars.GetDefault(ctx, familyID, ownerID)
		if err != nil {
			return nil, fmt.Errorf("get default calendar: %w", err)
		}
		if cal != nil {
			return cal, nil
		}
		return s.createCalendar(ctx, CalendarInput{
			Name:      defaultCalendarName,
			Type:      model.CalendarLocal,
			FamilyID:  familyID,
			IsDefault: true,
		}, userID, ownerID)
	})
	if err != nil {
		return nil, err
	}
	shared := *v.(*model.Calendar)
	return &shared, nil
}

// JoinFamily records userID as a member of familyID. A new member gets view
// and edit access to the family calendars that already exist, the same
// grant a family calendar gives its members when it is created.
func (s *Service) JoinFamily(ctx context.Context, familyID, userID, role string) error {
	if familyID == "" || userID == "" {
		return nil
	}
	added, err := s.members.EnsureMember(ctx, familyID, userID, role)
	if err != nil {
		return fmt.Errorf("record family member: %w", err)
	}
	if !added {
		return nil
	}

	cals, err := s.calendars.ListByFamily(ctx, familyID)
	if err != nil {
		return fmt.Errorf("list family calendars: %w", err)
	}
	for _, c := range cals {
		if err := s.authority.GrantMember(ctx, c.ID, userID); err != nil {
			return err
		}
	}
	s.logger.Info("family member joined", "family_id", familyID, "user_id", userID, "calendars", len(cals))
	return nil
}

// EditableCalendar returns the calendar when the actor may edit it.
func (s *Service) EditableCalendar(ctx context.Context, id, actorID string) (*model.Calendar, error) {
	return s.authorizedCalendar(ctx, id, actorID, model.CapEdit)
}
