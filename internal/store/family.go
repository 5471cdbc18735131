package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/famcal/internal/model"
)

type FamilyStore struct {
	db *sql.DB
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{db: db}
}

func scanFamily(scanner interface{ Scan(...any) error }) (*model.Family, error) {
	var f model.Family
	if err := scanner.Scan(&f.ID, &f.Name, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func scanFamilyMember(scanner interface{ Scan(...any) error }) (*model.FamilyMember, error) {
	var m model.FamilyMember
	if err := scanner.Scan(&m.ID, &m.FamilyID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

const familyCols = `id, name, created_at, updated_at`
const familyMemberCols = `id, family_id, user_id, role, created_at, updated_at`

func (s *FamilyStore) Create(ctx context.Context, name string) (*model.Family, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO families (id, name) VALUES (?, ?)`, id, name); err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *FamilyStore) GetByID(ctx context.Context, id string) (*model.Family, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+familyCols+` FROM families WHERE id = ?`, id)
	f, err := scanFamily(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return f, nil
}

func (s *FamilyStore) AddMember(ctx context.Context, familyID, userID, role string) (*model.FamilyMember, error) {
	if role == "" {
		role = "member"
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO family_members (id, family_id, user_id, role) VALUES (?, ?, ?, ?)`,
		id, familyID, userID, role,
	)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+familyMemberCols+` FROM family_members WHERE id = ?`, id)
	return scanFamilyMember(row)
}

// EnsureMember records the membership, creating the family row on first
// sight of familyID. It reports whether the membership is new; an existing
// member only has its role refreshed.
func (s *FamilyStore) EnsureMember(ctx context.Context, familyID, userID, role string) (bool, error) {
	if role == "" {
		role = "member"
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO families (id, name) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		familyID, familyID,
	); err != nil {
		return false, fmt.Errorf("ensure family: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO family_members (id, family_id, user_id, role) VALUES (?, ?, ?, ?)
		 ON CONFLICT(family_id, user_id) DO NOTHING`,
		uuid.NewString(), familyID, userID, role,
	)
	if err != nil {
		return false, fmt.Errorf("ensure member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure member: %w", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE family_members SET role = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE family_id = ? AND user_id = ? AND role != ?`,
			role, familyID, userID, role,
		); err != nil {
			return false, fmt.Errorf("update member role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

func (s *FamilyStore) RemoveMember(ctx context.Context, familyID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM family_members WHERE family_id = ? AND user_id = ?`,
		familyID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *FamilyStore) GetMember(ctx context.Context, familyID, userID string) (*model.FamilyMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+familyMemberCols+` FROM family_members WHERE family_id = ? AND user_id = ?`,
		familyID, userID,
	)
	m, err := scanFamilyMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *FamilyStore) ListMembers(ctx context.Context, familyID string) ([]model.FamilyMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+familyMemberCols+` FROM family_members WHERE family_id = ? ORDER BY created_at ASC, user_id ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.FamilyMember
	for rows.Next() {
		m, err := scanFamilyMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// ListMemberIDs returns the user ids of every member of the family.
func (s *FamilyStore) ListMemberIDs(ctx context.Context, familyID string) ([]string, error) {
	members, err := s.ListMembers(ctx, familyID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (s *FamilyStore) ListFamiliesForUser(ctx context.Context, userID string) ([]model.Family, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.name, f.created_at, f.updated_at
		 FROM families f
		 JOIN family_members fm ON f.id = fm.family_id
		 WHERE fm.user_id = ?
		 ORDER BY f.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list families for user: %w", err)
	}
	defer rows.Close()

	var families []model.Family
	for rows.Next() {
		f, err := scanFamily(rows)
		if err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		families = append(families, *f)
	}
	return families, rows.Err()
}
