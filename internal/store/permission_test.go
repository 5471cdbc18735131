package store

import (
	"context"
	"testing"

	"github.com/dukerupert/famcal/internal/model"
)

func TestPermissionCreateGetUpdateDelete(t *testing.T) {
	db := setupTestDB(t)
	cs := NewCalendarStore(db)
	ps := NewPermissionStore(db)
	ctx := context.Background()

	c := createTestCalendar(t, cs, model.Calendar{Name: "Cal", OwnerID: "owner"})

	p, err := ps.Create(ctx, model.CalendarPermission{CalendarID: c.ID, UserID: "u1", CanView: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !p.CanView || p.CanEdit || p.CanShare {
		t.Errorf("flags = %+v, want view only", p.Capability())
	}

	if _, err := ps.Create(ctx, model.CalendarPermission{CalendarID: c.ID, UserID: "u1"}); err == nil {
		t.Error("expected duplicate create to fail")
	}

	p.CanEdit = true
	updated, err := ps.Update(ctx, *p)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CanEdit {
		t.Error("can_edit should be true after update")
	}

	if err := ps.Delete(ctx, c.ID, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := ps.Get(ctx, c.ID, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestPermissionUpsert(t *testing.T) {
	db := setupTestDB(t)
	cs := NewCalendarStore(db)
	ps := NewPermissionStore(db)
	ctx := context.Background()

	c := createTestCalendar(t, cs, model.Calendar{Name: "Cal", OwnerID: "owner"})

	if _, err := ps.Upsert(ctx, model.CalendarPermission{CalendarID: c.ID, UserID: "u1", CanView: true}); err != nil {
		t.Fatalf("upsert insert: %v", err)
	}
	p, err := ps.Upsert(ctx, model.CalendarPermission{CalendarID: c.ID, UserID: "u1", CanView: true, CanEdit: true, CanShare: true})
	if err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	if p.Capability() != model.CapFull {
		t.Errorf("capability = %+v, want full", p.Capability())
	}

	perms, err := ps.ListByCalendar(ctx, c.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(perms) != 1 {
		t.Errorf("len = %d, want 1", len(perms))
	}
}
