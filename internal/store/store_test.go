package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dukerupert/famcal/internal/database"
	"github.com/dukerupert/famcal/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestCalendar(t *testing.T, cs *CalendarStore, c model.Calendar) *model.Calendar {
	t.Helper()
	if c.Type == "" {
		c.Type = model.CalendarLocal
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	created, err := cs.Create(context.Background(), &c)
	if err != nil {
		t.Fatalf("create calendar: %v", err)
	}
	return created
}
