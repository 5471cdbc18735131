package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/famcal/internal/model"
)

type PermissionStore struct {
	db *sql.DB
}

func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

const permissionCols = `id, calendar_id, user_id, can_view, can_edit, can_share, created_at, updated_at`

func scanPermission(scanner interface{ Scan(...any) error }) (*model.CalendarPermission, error) {
	var p model.CalendarPermission
	var view, edit, share int
	err := scanner.Scan(&p.ID, &p.CalendarID, &p.UserID, &view, &edit, &share, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.CanView = view != 0
	p.CanEdit = edit != 0
	p.CanShare = share != 0
	return &p, nil
}

func (s *PermissionStore) Get(ctx context.Context, calendarID, userID string) (*model.CalendarPermission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+permissionCols+` FROM calendar_permissions WHERE calendar_id = ? AND user_id = ?`,
		calendarID, userID,
	)
	p, err := scanPermission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get permission: %w", err)
	}
	return p, nil
}

// Create inserts a new row and fails if the pair already has one.
func (s *PermissionStore) Create(ctx context.Context, p model.CalendarPermission) (*model.CalendarPermission, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_permissions (id, calendar_id, user_id, can_view, can_edit, can_share)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), p.CalendarID, p.UserID, boolInt(p.CanView), boolInt(p.CanEdit), boolInt(p.CanShare),
	)
	if err != nil {
		return nil, fmt.Errorf("insert permission: %w", err)
	}
	return s.Get(ctx, p.CalendarID, p.UserID)
}

// Upsert creates the row or overwrites the flags of an existing one.
func (s *PermissionStore) Upsert(ctx context.Context, p model.CalendarPermission) (*model.CalendarPermission, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_permissions (id, calendar_id, user_id, can_view, can_edit, can_share)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (calendar_id, user_id) DO UPDATE SET
		   can_view = excluded.can_view,
		   can_edit = excluded.can_edit,
		   can_share = excluded.can_share,
		   updated_at = CURRENT_TIMESTAMP`,
		uuid.NewString(), p.CalendarID, p.UserID, boolInt(p.CanView), boolInt(p.CanEdit), boolInt(p.CanShare),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert permission: %w", err)
	}
	return s.Get(ctx, p.CalendarID, p.UserID)
}

func (s *PermissionStore) Update(ctx context.Context, p model.CalendarPermission) (*model.CalendarPermission, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calendar_permissions SET can_view = ?, can_edit = ?, can_share = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE calendar_id = ? AND user_id = ?`,
		boolInt(p.CanView), boolInt(p.CanEdit), boolInt(p.CanShare), p.CalendarID, p.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}
	return s.Get(ctx, p.CalendarID, p.UserID)
}

func (s *PermissionStore) Delete(ctx context.Context, calendarID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM calendar_permissions WHERE calendar_id = ? AND user_id = ?`,
		calendarID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	return nil
}

func (s *PermissionStore) ListByCalendar(ctx context.Context, calendarID string) ([]model.CalendarPermission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+permissionCols+` FROM calendar_permissions WHERE calendar_id = ? ORDER BY created_at ASC, user_id ASC`,
		calendarID,
	)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var perms []model.CalendarPermission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}
