package role

import "time"

// Role rows are never hard-deleted; IsActive=false withdraws every grant.
// PermissionsVersion increases on each change that affects what the role grants.
type Role struct {
	ID                 int64     `gorm:"primaryKey"`
	Name               string    `gorm:"column:name;uniqueIndex;not null"`
	Code               string    `gorm:"column:code;uniqueIndex;not null"`
	Description        string    `gorm:"column:description"`
	IsActive           bool      `gorm:"column:is_active;not null"`
	PermissionsVersion int64     `gorm:"column:permissions_version;not null"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (Role) TableName() string {
	return "roles"
}

type Permission struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"column:name;uniqueIndex;not null"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (Permission) TableName() string {
	return "permissions"
}

type RolePermission struct {
	RoleID       int64     `gorm:"column:role_id;primaryKey"`
	PermissionID int64     `gorm:"column:permission_id;primaryKey"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (RolePermission) TableName() string {
	return "role_permissions"
}
