package user

import "time"

type User struct {
	ID           int64     `gorm:"primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex;not null"`
	Name         string    `gorm:"column:name;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	RoleID       *int64    `gorm:"column:role_id;index"`
	ManagerID    *int64    `gorm:"column:manager_id;index"`
	DepartmentID *int64    `gorm:"column:department_id;index"`
	IsActive     bool      `gorm:"column:is_active;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (User) TableName() string {
	return "users"
}

type Department struct {
	ID         int64     `gorm:"primaryKey"`
	Name       string    `gorm:"column:name;uniqueIndex;not null"`
	HeadUserID *int64    `gorm:"column:head_user_id"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Department) TableName() string {
	return "departments"
}
