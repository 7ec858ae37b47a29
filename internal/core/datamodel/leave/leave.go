package leave

import "time"

type LeaveRequest struct {
	ID          int64      `gorm:"primaryKey"`
	UserID      int64      `gorm:"column:user_id;not null;index"`
	LeaveType   string     `gorm:"column:leave_type;not null"`
	StartDate   time.Time  `gorm:"column:start_date;type:date;not null"`
	EndDate     time.Time  `gorm:"column:end_date;type:date;not null"`
	Days        int        `gorm:"column:days;not null"`
	Reason      string     `gorm:"column:reason"`
	Status      string     `gorm:"column:status;not null;index"`
	InstanceID  *string    `gorm:"column:instance_id"`
	SubmittedAt time.Time  `gorm:"column:submitted_at;not null"`
	DecidedAt   *time.Time `gorm:"column:decided_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (LeaveRequest) TableName() string {
	return "leave_requests"
}
