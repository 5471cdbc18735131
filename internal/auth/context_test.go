package auth

import (
	"context"
	"testing"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{
		UserID:   "u1",
		FamilyID: "f1",
		Role:     "admin",
	}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "u1")
	}
	if got.FamilyID != "f1" {
		t.Errorf("FamilyID = %q, want %q", got.FamilyID, "f1")
	}
	if got.Role != "admin" {
		t.Errorf("Role = %q, want %q", got.Role, "admin")
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestFamilyID(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{FamilyID: "f42"})
	if FamilyID(ctx) != "f42" {
		t.Errorf("FamilyID = %q, want f42", FamilyID(ctx))
	}
	if FamilyID(context.Background()) != "" {
		t.Error("expected empty family for missing context")
	}
}

func TestUserID(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{UserID: "u7"})
	if UserID(ctx) != "u7" {
		t.Errorf("UserID = %q, want u7", UserID(ctx))
	}
	if UserID(context.Background()) != "" {
		t.Error("expected empty user for missing context")
	}
}

func TestIsAdmin(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want bool
	}{
		{"admin", WithAuth(context.Background(), AuthContext{Role: "admin"}), true},
		{"member", WithAuth(context.Background(), AuthContext{Role: "member"}), false},
		{"missing", context.Background(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAdmin(tt.ctx); got != tt.want {
				t.Errorf("IsAdmin = %v, want %v", got, tt.want)
			}
		})
	}
}
