// Package permission answers capability questions about calendars and
// owns the per-(calendar, user) permission rows.
package permission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

// Repository persists permission rows. Get returns (nil, nil) when the pair
// has no row.
type Repository interface {
	Get(ctx context.Context, calendarID, userID string) (*model.CalendarPermission, error)
	Create(ctx context.Context, p model.CalendarPermission) (*model.CalendarPermission, error)
	Upsert(ctx context.Context, p model.CalendarPermission) (*model.CalendarPermission, error)
	Update(ctx context.Context, p model.CalendarPermission) (*model.CalendarPermission, error)
	Delete(ctx context.Context, calendarID, userID string) error
	ListByCalendar(ctx context.Context, calendarID string) ([]model.CalendarPermission, error)
}

type Authority struct {
	repo   Repository
	logger *slog.Logger
}

func NewAuthority(repo Repository, logger *slog.Logger) *Authority {
	return &Authority{repo: repo, logger: logger}
}

// Check reports whether the user holds every flag set in required. A
// missing row grants nothing, including to the calendar owner.
func (a *Authority) Check(ctx context.Context, calendarID, userID string, required model.Capability) (bool, error) {
	if userID == "" {
		return false, nil
	}
	p, err := a.repo.Get(ctx, calendarID, userID)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	if p == nil {
		return false, nil
	}
	return p.Allows(required), nil
}

// Require is Check that fails with a PermissionDenied error.
func (a *Authority) Require(ctx context.Context, calendarID, userID string, required model.Capability) error {
	ok, err := a.Check(ctx, calendarID, userID, required)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.Debug("permission denied", "calendar_id", calendarID, "user_id", userID, "required", required.String())
		return calerr.PermissionDenied(fmt.Sprintf("insufficient permission: %s access required on calendar %s", required, calendarID))
	}
	return nil
}

// ProvisionDefaults grants the owner full access and, for family-scoped
// calendars, view and edit to every other family member.
func (a *Authority) ProvisionDefaults(ctx context.Context, cal *model.Calendar, ownerID string, familyMemberIDs []string) ([]model.CalendarPermission, error) {
	var granted []model.CalendarPermission

	if ownerID != "" {
		p, err := a.repo.Upsert(ctx, model.CalendarPermission{
			CalendarID: cal.ID,
			UserID:     ownerID,
			CanView:    true,
			CanEdit:    true,
			CanShare:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("provision owner permission: %w", err)
		}
		granted = append(granted, *p)
	}

	if cal.FamilyID == "" {
		return granted, nil
	}

	for _, memberID := range familyMemberIDs {
		if memberID == "" || memberID == ownerID {
			continue
		}
		p, err := a.repo.Upsert(ctx, model.CalendarPermission{
			CalendarID: cal.ID,
			UserID:     memberID,
			CanView:    true,
			CanEdit:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("provision member permission: %w", err)
		}
		granted = append(granted, *p)
	}

	a.logger.Debug("provisioned calendar permissions", "calendar_id", cal.ID, "grants", len(granted))
	return granted, nil
}

// GrantMember gives a family member view and edit access. A user who
// already holds a row keeps it unchanged.
func (a *Authority) GrantMember(ctx context.Context, calendarID, userID string) error {
	existing, err := a.repo.Get(ctx, calendarID, userID)
	if err != nil {
		return fmt.Errorf("grant member: %w", err)
	}
	if existing != nil {
		return nil
	}
	if _, err := a.repo.Upsert(ctx, model.CalendarPermission{
		CalendarID: calendarID,
		UserID:     userID,
		CanView:    true,
		CanEdit:    true,
	}); err != nil {
		return fmt.Errorf("grant member: %w", err)
	}
	return nil
}

// AddUser creates a permission row. It fails if the user already has one.
func (a *Authority) AddUser(ctx context.Context, calendarID, userID string, caps model.Capability) (*model.CalendarPermission, error) {
	if userID == "" {
		return nil, calerr.InvalidField("user_id", "is required")
	}
	existing, err := a.repo.Get(ctx, calendarID, userID)
	if err != nil {
		return nil, fmt.Errorf("add user: %w", err)
	}
	if existing != nil {
		return nil, calerr.Validation(fmt.Sprintf("user %s already has access to calendar %s", userID, calendarID))
	}
	return a.repo.Create(ctx, model.CalendarPermission{
		CalendarID: calendarID,
		UserID:     userID,
		CanView:    caps.View,
		CanEdit:    caps.Edit,
		CanShare:   caps.Share,
	})
}

// UpdatePermission replaces the flags of an existing row.
func (a *Authority) UpdatePermission(ctx context.Context, calendarID, userID string, caps model.Capability) (*model.CalendarPermission, error) {
	existing, err := a.repo.Get(ctx, calendarID, userID)
	if err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}
	if existing == nil {
		return nil, calerr.PermissionNotFound(calendarID, userID)
	}
	existing.CanView = caps.View
	existing.CanEdit = caps.Edit
	existing.CanShare = caps.Share
	return a.repo.Update(ctx, *existing)
}

// RemoveUser deletes the user's row. Who may call this is decided by the
// caller.
func (a *Authority) RemoveUser(ctx context.Context, calendarID, userID string) error {
	existing, err := a.repo.Get(ctx, calendarID, userID)
	if err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	if existing == nil {
		return calerr.PermissionNotFound(calendarID, userID)
	}
	return a.repo.Delete(ctx, calendarID, userID)
}

func (a *Authority) List(ctx context.Context, calendarID string) ([]model.CalendarPermission, error) {
	return a.repo.ListByCalendar(ctx, calendarID)
}
