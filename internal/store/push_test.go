package store

import (
	"context"
	"testing"

	"github.com/dukerupert/famcal/internal/model"
)

func TestPushUpsertAndList(t *testing.T) {
	db := setupTestDB(t)
	ps := NewPushStore(db)
	ctx := context.Background()

	sub, err := ps.Upsert(ctx, model.PushSubscription{
		UserID:     "alice",
		Endpoint:   "https://push.example.com/a",
		P256dhKey:  "p1",
		AuthKey:    "a1",
		DeviceName: "phone",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("expected an id")
	}

	again, err := ps.Upsert(ctx, model.PushSubscription{
		UserID:    "alice",
		Endpoint:  "https://push.example.com/a",
		P256dhKey: "p2",
		AuthKey:   "a2",
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if again.ID != sub.ID {
		t.Errorf("id = %q, want %q (same endpoint)", again.ID, sub.ID)
	}
	if again.P256dhKey != "p2" {
		t.Errorf("p256dh = %q, want %q", again.P256dhKey, "p2")
	}

	subs, err := ps.ListByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len = %d, want 1", len(subs))
	}
}

func TestPushListByFamily(t *testing.T) {
	db := setupTestDB(t)
	ps := NewPushStore(db)
	fs := NewFamilyStore(db)
	ctx := context.Background()

	fam, err := fs.Create(ctx, "Rupert")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	for _, u := range []string{"alice", "bob"} {
		if _, err := fs.AddMember(ctx, fam.ID, u, "member"); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	for _, u := range []string{"alice", "bob", "mallory"} {
		if _, err := ps.Upsert(ctx, model.PushSubscription{UserID: u, Endpoint: "https://push.example.com/" + u, P256dhKey: "p", AuthKey: "a"}); err != nil {
			t.Fatalf("upsert %s: %v", u, err)
		}
	}

	subs, err := ps.ListByFamily(ctx, fam.ID)
	if err != nil {
		t.Fatalf("list by family: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len = %d, want 2", len(subs))
	}
	for _, s := range subs {
		if s.UserID == "mallory" {
			t.Error("non-member subscription returned")
		}
	}
}

func TestPushDelete(t *testing.T) {
	db := setupTestDB(t)
	ps := NewPushStore(db)
	ctx := context.Background()

	sub, err := ps.Upsert(ctx, model.PushSubscription{UserID: "alice", Endpoint: "https://push.example.com/a", P256dhKey: "p", AuthKey: "a"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok, err := ps.Delete(ctx, sub.ID, "bob")
	if err != nil {
		t.Fatalf("delete as bob: %v", err)
	}
	if ok {
		t.Error("bob should not delete alice's subscription")
	}
	if ok, err := ps.Delete(ctx, sub.ID, "alice"); err != nil || !ok {
		t.Fatalf("delete = %v, %v; want true, nil", ok, err)
	}

	if _, err := ps.Upsert(ctx, model.PushSubscription{UserID: "alice", Endpoint: "https://push.example.com/b", P256dhKey: "p", AuthKey: "a"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := ps.DeleteByEndpoint(ctx, "https://push.example.com/b"); err != nil {
		t.Fatalf("delete by endpoint: %v", err)
	}
	got, err := ps.GetByEndpoint(ctx, "https://push.example.com/b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}
