package database

import (
	"context"

	"github.com/google/uuid"
)

const staffColumns = `id, email, full_name, employee_id, role, hashed_password, is_active, created_at, updated_at`

func scanStaff(row rowScanner) (Staff, error) {
	var i Staff
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.FullName,
		&i.EmployeeID,
		&i.Role,
		&i.HashedPassword,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getStaffByEmail = `SELECT ` + staffColumns + ` FROM staff WHERE email = $1 AND is_active = true`

func (q *Queries) GetStaffByEmail(ctx context.Context, email string) (Staff, error) {
	return scanStaff(q.db.QueryRow(ctx, getStaffByEmail, email))
}

const getStaffByID = `SELECT ` + staffColumns + ` FROM staff WHERE id = $1 AND is_active = true`

func (q *Queries) GetStaffByID(ctx context.Context, id uuid.UUID) (Staff, error) {
	return scanStaff(q.db.QueryRow(ctx, getStaffByID, id))
}

const upsertStaff = `
INSERT INTO staff (email, full_name, employee_id, role, hashed_password)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (email) DO UPDATE
SET full_name = EXCLUDED.full_name, role = EXCLUDED.role,
    hashed_password = EXCLUDED.hashed_password, updated_at = NOW()
RETURNING ` + staffColumns

type UpsertStaffParams struct {
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	EmployeeID     string `json:"employee_id"`
	Role           string `json:"role"`
	HashedPassword string `json:"hashed_password"`
}

func (q *Queries) UpsertStaff(ctx context.Context, arg UpsertStaffParams) (Staff, error) {
	return scanStaff(q.db.QueryRow(ctx, upsertStaff,
		arg.Email,
		arg.FullName,
		arg.EmployeeID,
		arg.Role,
		arg.HashedPassword,
	))
}
