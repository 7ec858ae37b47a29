package auth

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/gorm"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/auth"
)

type Repository struct {
	db *gorm.DB
}

var _ auth.Repository = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

const credentialsQuery = `SELECT id, password_hash, is_active FROM users WHERE email = ?`

func (r *Repository) GetCredentials(ctx context.Context, email string) (*auth.Credentials, error) {
	var creds auth.Credentials
	row := r.db.WithContext(ctx).Raw(credentialsQuery, email).Row()
	if err := row.Scan(&creds.UserID, &creds.PasswordHash, &creds.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.NewNotFoundError("user not found", internal.ErrCodeUserNotFound)
		}
		return nil, internal.NewInternalError("failed to load credentials", err)
	}
	return &creds, nil
}

const accountQuery = `
SELECT u.id, u.email, u.name, u.is_active, u.role_id,
       COALESCE(r.name, '') AS role_name,
       COALESCE(r.is_active, false) AS role_active,
       COALESCE(r.permissions_version, 0) AS permissions_version
FROM users u
LEFT JOIN roles r ON r.id = u.role_id
WHERE u.id = ?`

func (r *Repository) GetAccount(ctx context.Context, userID int64) (*auth.Account, error) {
	var a auth.Account
	row := r.db.WithContext(ctx).Raw(accountQuery, userID).Row()
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.IsActive, &a.RoleID, &a.Role, &a.RoleActive, &a.PermVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.NewNotFoundError("user not found", internal.ErrCodeUserNotFound)
		}
		return nil, internal.NewInternalError("failed to load account", err)
	}
	return &a, nil
}
