package user

import (
	"time"
)

type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	RoleID       *int64    `json:"role_id,omitempty" db:"role_id"`
	Role         string    `json:"role" db:"role_name"`
	ManagerID    *int64    `json:"manager_id,omitempty" db:"manager_id"`
	DepartmentID *int64    `json:"department_id,omitempty" db:"department_id"`
	Department   string    `json:"department" db:"department_name"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	Permissions  []string  `json:"permissions,omitempty" db:"-"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

func (u *User) ReportsTo(managerID int64) bool {
	return u.ManagerID != nil && *u.ManagerID == managerID
}

// OrgPlacement is the part of a user record the approval engine reads.
type OrgPlacement struct {
	RoleID       *int64 `json:"role_id" db:"role_id"`
	ManagerID    *int64 `json:"manager_id" db:"manager_id"`
	DepartmentID *int64 `json:"department_id" db:"department_id"`
}

const maxManagerDepth = 64
