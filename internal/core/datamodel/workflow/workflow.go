package workflow

import "time"

type ApprovalWorkflow struct {
	ID            int64                  `gorm:"primaryKey"`
	Name          string                 `gorm:"column:name;not null"`
	Module        string                 `gorm:"column:module;not null;index:idx_workflow_target"`
	Resource      string                 `gorm:"column:resource;not null;index:idx_workflow_target"`
	WorkflowType  string                 `gorm:"column:workflow_type;not null"`
	IsActive      bool                   `gorm:"column:is_active"`
	TimeoutPolicy string                 `gorm:"column:timeout_policy"`
	CreatedBy     int64                  `gorm:"column:created_by"`
	CreatedAt     time.Time              `gorm:"column:created_at"`
	UpdatedAt     time.Time              `gorm:"column:updated_at"`
	Steps         []ApprovalWorkflowStep `gorm:"foreignKey:WorkflowID"`
}

func (ApprovalWorkflow) TableName() string {
	return "approval_workflows"
}

type ApprovalWorkflowStep struct {
	ID             int64  `gorm:"primaryKey"`
	WorkflowID     int64  `gorm:"column:workflow_id;not null;index"`
	StepOrder      int    `gorm:"column:step_order;not null"`
	Name           string `gorm:"column:name"`
	ApproverType   string `gorm:"column:approver_type;not null"`
	ApproverID     *int64 `gorm:"column:approver_id"`
	IsRequired     bool   `gorm:"column:is_required"`
	CanDelegate    bool   `gorm:"column:can_delegate"`
	DelegateRoleID *int64 `gorm:"column:delegate_role_id"`
	TimeoutHours   *int   `gorm:"column:timeout_hours"`
}

func (ApprovalWorkflowStep) TableName() string {
	return "approval_workflow_steps"
}

type ApprovalInstance struct {
	ID            string                 `gorm:"primaryKey;column:id"`
	WorkflowID    int64                  `gorm:"column:workflow_id;not null"`
	WorkflowName  string                 `gorm:"column:workflow_name"`
	WorkflowType  string                 `gorm:"column:workflow_type;not null"`
	TimeoutPolicy string                 `gorm:"column:timeout_policy;not null"`
	SubjectType   string                 `gorm:"column:subject_type;not null;index:idx_instance_subject"`
	SubjectID     int64                  `gorm:"column:subject_id;not null;index:idx_instance_subject"`
	OwnerID       int64                  `gorm:"column:owner_id;not null"`
	Status        string                 `gorm:"column:status;not null"`
	BlockedReason string                 `gorm:"column:blocked_reason"`
	Version       int64                  `gorm:"column:version;not null"`
	CreatedBy     int64                  `gorm:"column:created_by"`
	CreatedAt     time.Time              `gorm:"column:created_at"`
	UpdatedAt     time.Time              `gorm:"column:updated_at"`
	CompletedAt   *time.Time             `gorm:"column:completed_at"`
	Steps         []ApprovalInstanceStep `gorm:"foreignKey:InstanceID"`
}

func (ApprovalInstance) TableName() string {
	return "approval_instances"
}

type ApprovalInstanceStep struct {
	ID             int64      `gorm:"primaryKey"`
	InstanceID     string     `gorm:"column:instance_id;not null;index"`
	StepID         int64      `gorm:"column:step_id"`
	StepOrder      int        `gorm:"column:step_order;not null"`
	Name           string     `gorm:"column:name"`
	ApproverType   string     `gorm:"column:approver_type;not null"`
	ApproverID     *int64     `gorm:"column:approver_id"`
	IsRequired     bool       `gorm:"column:is_required"`
	CanDelegate    bool       `gorm:"column:can_delegate"`
	DelegateRoleID *int64     `gorm:"column:delegate_role_id"`
	TimeoutHours   *int       `gorm:"column:timeout_hours"`
	Status         string     `gorm:"column:status;not null;index"`
	AssigneeKind   string     `gorm:"column:assignee_kind"`
	AssigneeID     *int64     `gorm:"column:assignee_id"`
	DelegatedFrom  *int64     `gorm:"column:delegated_from"`
	DecidedBy      *int64     `gorm:"column:decided_by"`
	Note           string     `gorm:"column:note"`
	Escalations    int        `gorm:"column:escalations"`
	ActivatedAt    *time.Time `gorm:"column:activated_at"`
	DueAt          *time.Time `gorm:"column:due_at;index"`
	DecidedAt      *time.Time `gorm:"column:decided_at"`
}

func (ApprovalInstanceStep) TableName() string {
	return "approval_instance_steps"
}
