package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/famcal/internal/model"
)

type CalendarStore struct {
	db *sql.DB
}

func NewCalendarStore(db *sql.DB) *CalendarStore {
	return &CalendarStore{db: db}
}

const calendarCols = `c.id, c.name, c.description, c.color, c.type, c.family_id, c.owner_id, c.is_default, c.timezone, c.created_at, c.updated_at,
	x.remote_calendar_id, x.feed_url, x.access_token_enc, x.refresh_token_enc, x.token_expiry, x.sync_cursor, x.etag, x.last_synced_at`

const calendarFrom = ` FROM calendars c LEFT JOIN calendar_external_configs x ON x.calendar_id = c.id`

func scanCalendar(scanner interface{ Scan(...any) error }) (*model.Calendar, error) {
	var c model.Calendar
	var familyID, ownerID sql.NullString
	var isDefault int
	var remoteID, feedURL, access, refresh, cursor, etag sql.NullString
	var expiry, synced sql.NullTime

	err := scanner.Scan(
		&c.ID, &c.Name, &c.Description, &c.Color, &c.Type, &familyID, &ownerID, &isDefault, &c.Timezone, &c.CreatedAt, &c.UpdatedAt,
		&remoteID, &feedURL, &access, &refresh, &expiry, &cursor, &etag, &synced,
	)
	if err != nil {
		return nil, err
	}

	c.FamilyID = familyID.String
	c.OwnerID = ownerID.String
	c.IsDefault = isDefault != 0
	c.External = model.ExternalConfig{
		RemoteCalendarID: remoteID.String,
		FeedURL:          feedURL.String,
		Token: model.SealedToken{
			AccessToken:  access.String,
			RefreshToken: refresh.String,
			Expiry:       timePtr(expiry),
		},
		SyncCursor:   cursor.String,
		ETag:         etag.String,
		LastSyncedAt: timePtr(synced),
	}
	return &c, nil
}

func (s *CalendarStore) queryCalendars(ctx context.Context, query string, args ...any) ([]model.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calendars []model.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		calendars = append(calendars, *c)
	}
	return calendars, rows.Err()
}

// clearDefault unsets the default flag on every other calendar in the
// (family, owner) scope.
func clearDefault(ctx context.Context, tx *sql.Tx, familyID, ownerID, keepID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE calendars SET is_default = 0, updated_at = CURRENT_TIMESTAMP
		 WHERE is_default = 1 AND family_id IS ? AND owner_id IS ? AND id != ?`,
		nullString(familyID), nullString(ownerID), keepID,
	)
	if err != nil {
		return fmt.Errorf("clear default calendar: %w", err)
	}
	return nil
}

// Create inserts the calendar and, for remote types, its external config.
func (s *CalendarStore) Create(ctx context.Context, c *model.Calendar) (*model.Calendar, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if c.IsDefault {
		if err := clearDefault(ctx, tx, c.FamilyID, c.OwnerID, id); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO calendars (id, name, description, color, type, family_id, owner_id, is_default, timezone)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.Name, c.Description, c.Color, string(c.Type), nullString(c.FamilyID), nullString(c.OwnerID), boolInt(c.IsDefault), c.Timezone,
	)
	if err != nil {
		return nil, fmt.Errorf("insert calendar: %w", err)
	}

	if c.Type.Remote() {
		ext := c.External
		_, err = tx.ExecContext(ctx,
			`INSERT INTO calendar_external_configs (calendar_id, remote_calendar_id, feed_url, access_token_enc, refresh_token_enc, token_expiry, sync_cursor, etag)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, ext.RemoteCalendarID, ext.FeedURL, ext.Token.AccessToken, ext.Token.RefreshToken, nullTime(ext.Token.Expiry), ext.SyncCursor, ext.ETag,
		)
		if err != nil {
			return nil, fmt.Errorf("insert external config: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *CalendarStore) GetByID(ctx context.Context, id string) (*model.Calendar, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+calendarCols+calendarFrom+` WHERE c.id = ?`, id)
	c, err := scanCalendar(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	return c, nil
}

// GetDefault returns the default calendar of the (family, owner) scope.
func (s *CalendarStore) GetDefault(ctx context.Context, familyID, ownerID string) (*model.Calendar, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+calendarCols+calendarFrom+` WHERE c.is_default = 1 AND c.family_id IS ? AND c.owner_id IS ?`,
		nullString(familyID), nullString(ownerID),
	)
	c, err := scanCalendar(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default calendar: %w", err)
	}
	return c, nil
}

func (s *CalendarStore) ListByFamily(ctx context.Context, familyID string) ([]model.Calendar, error) {
	calendars, err := s.queryCalendars(ctx,
		`SELECT `+calendarCols+calendarFrom+` WHERE c.family_id = ? ORDER BY c.is_default DESC, c.name ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list family calendars: %w", err)
	}
	return calendars, nil
}

// ListForUser returns calendars the user holds view permission on.
func (s *CalendarStore) ListForUser(ctx context.Context, userID string) ([]model.Calendar, error) {
	calendars, err := s.queryCalendars(ctx,
		`SELECT `+calendarCols+calendarFrom+`
		 JOIN calendar_permissions p ON p.calendar_id = c.id
		 WHERE p.user_id = ? AND p.can_view = 1
		 ORDER BY c.is_default DESC, c.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user calendars: %w", err)
	}
	return calendars, nil
}

// ListRemote returns every calendar backed by a provider or feed.
func (s *CalendarStore) ListRemote(ctx context.Context) ([]model.Calendar, error) {
	calendars, err := s.queryCalendars(ctx,
		`SELECT `+calendarCols+calendarFrom+` WHERE c.type IN (?, ?) ORDER BY c.created_at ASC`,
		string(model.CalendarProviderPush), string(model.CalendarProviderPull),
	)
	if err != nil {
		return nil, fmt.Errorf("list remote calendars: %w", err)
	}
	return calendars, nil
}

func (s *CalendarStore) Update(ctx context.Context, c *model.Calendar) (*model.Calendar, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if c.IsDefault {
		if err := clearDefault(ctx, tx, c.FamilyID, c.OwnerID, c.ID); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE calendars SET name = ?, description = ?, color = ?, is_default = ?, timezone = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		c.Name, c.Description, c.Color, boolInt(c.IsDefault), c.Timezone, c.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update calendar: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(ctx, c.ID)
}

// Delete removes the calendar with its events, permissions and stored
// credentials.
func (s *CalendarStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM events WHERE calendar_id = ?`,
		`DELETE FROM calendar_permissions WHERE calendar_id = ?`,
		`DELETE FROM calendar_external_configs WHERE calendar_id = ?`,
		`DELETE FROM calendars WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete calendar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveToken replaces the encrypted credential pair of a remote calendar.
func (s *CalendarStore) SaveToken(ctx context.Context, calendarID string, tok model.SealedToken) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calendar_external_configs
		 SET access_token_enc = ?, refresh_token_enc = ?, token_expiry = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE calendar_id = ?`,
		tok.AccessToken, tok.RefreshToken, nullTime(tok.Expiry), calendarID,
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// SaveSyncState commits the cursor and validator of a completed sync pass.
func (s *CalendarStore) SaveSyncState(ctx context.Context, calendarID, cursor, etag string, syncedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calendar_external_configs
		 SET sync_cursor = ?, etag = ?, last_synced_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE calendar_id = ?`,
		cursor, etag, syncedAt.UTC(), calendarID,
	)
	if err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

func (s *CalendarStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calendars`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count calendars: %w", err)
	}
	return n, nil
}
