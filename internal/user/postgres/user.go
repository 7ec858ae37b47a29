package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/user"
)

type UserRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*UserRepository)(nil)

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userQuery = `
SELECT u.id, u.email, u.name, u.role_id, u.manager_id, u.department_id, u.is_active,
       u.created_at, u.updated_at,
       COALESCE(r.name, '') AS role_name,
       COALESCE(d.name, '') AS department_name
FROM users u
LEFT JOIN roles r ON r.id = u.role_id
LEFT JOIN departments d ON d.id = u.department_id
WHERE u.id = ?`

func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*user.User, error) {
	var u user.User
	if err := r.db.GetContext(ctx, &u, r.db.Rebind(userQuery), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.NewNotFoundError(fmt.Sprintf("user %d not found", userID), internal.ErrCodeUserNotFound)
		}
		return nil, internal.NewInternalError("failed to load user", err)
	}
	return &u, nil
}

func (r *UserRepository) IsActive(ctx context.Context, userID int64) (bool, error) {
	var n int
	q := r.db.Rebind(`SELECT COUNT(*) FROM users WHERE id = ? AND is_active = ?`)
	if err := r.db.GetContext(ctx, &n, q, userID, true); err != nil {
		return false, internal.NewInternalError("failed to check user status", err)
	}
	return n > 0, nil
}

func (r *UserRepository) ManagerOf(ctx context.Context, userID int64) (int64, error) {
	var id sql.NullInt64
	q := r.db.Rebind(`SELECT manager_id FROM users WHERE id = ?`)
	return r.optionalID(ctx, &id, q, userID)
}

func (r *UserRepository) DepartmentHeadOf(ctx context.Context, userID int64) (int64, error) {
	var id sql.NullInt64
	q := r.db.Rebind(`
SELECT d.head_user_id
FROM users u
JOIN departments d ON d.id = u.department_id
WHERE u.id = ?`)
	return r.optionalID(ctx, &id, q, userID)
}

func (r *UserRepository) optionalID(ctx context.Context, dst *sql.NullInt64, query string, args ...interface{}) (int64, error) {
	if err := r.db.GetContext(ctx, dst, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, internal.NewInternalError("failed to query org chart", err)
	}
	if !dst.Valid {
		return 0, nil
	}
	return dst.Int64, nil
}

const activeHoldersQuery = `
SELECT COUNT(*)
FROM users u
JOIN roles r ON r.id = u.role_id
WHERE u.role_id = ? AND u.is_active = ? AND r.is_active = ?`

func (r *UserRepository) HasActiveRole(ctx context.Context, userID, roleID int64) (bool, error) {
	var n int
	q := r.db.Rebind(activeHoldersQuery + ` AND u.id = ?`)
	if err := r.db.GetContext(ctx, &n, q, roleID, true, true, userID); err != nil {
		return false, internal.NewInternalError("failed to check role membership", err)
	}
	return n > 0, nil
}

func (r *UserRepository) CountRoleHolders(ctx context.Context, roleID, excludeUserID int64) (int, error) {
	var n int
	q := r.db.Rebind(activeHoldersQuery + ` AND u.id <> ?`)
	if err := r.db.GetContext(ctx, &n, q, roleID, true, true, excludeUserID); err != nil {
		return 0, internal.NewInternalError("failed to count role holders", err)
	}
	return n, nil
}

func (r *UserRepository) UpdatePlacement(ctx context.Context, userID int64, p user.OrgPlacement) error {
	q := r.db.Rebind(`UPDATE users SET role_id = ?, manager_id = ?, department_id = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, p.RoleID, p.ManagerID, p.DepartmentID, time.Now().UTC(), userID)
	if err != nil {
		return internal.NewInternalError("failed to update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return internal.NewNotFoundError(fmt.Sprintf("user %d not found", userID), internal.ErrCodeUserNotFound)
	}
	return nil
}

func (r *UserRepository) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM roles WHERE id = ?`, roleID)
}

func (r *UserRepository) DepartmentExists(ctx context.Context, departmentID int64) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM departments WHERE id = ?`, departmentID)
}

func (r *UserRepository) exists(ctx context.Context, query string, id int64) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(query), id); err != nil {
		return false, internal.NewInternalError("failed to check existence", err)
	}
	return n > 0, nil
}
