package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/approval-workflow/internal/permission"
)

type Type string

const (
	TypeSequential Type = "sequential"
	TypeParallel   Type = "parallel"
	TypeAny        Type = "any"
)

type ApproverType string

const (
	ApproverRole           ApproverType = "role"
	ApproverUser           ApproverType = "user"
	ApproverManager        ApproverType = "manager"
	ApproverDepartmentHead ApproverType = "department_head"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	// StatusBlocked halts an instance on a configuration error until an operator retries it.
	StatusBlocked   Status = "blocked"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

type StepStatus string

const (
	// StepWaiting is a step whose turn has not come yet.
	StepWaiting   StepStatus = "waiting"
	StepPending   StepStatus = "pending"
	StepDelegated StepStatus = "delegated"
	StepApproved  StepStatus = "approved"
	StepRejected  StepStatus = "rejected"
	StepTimedOut  StepStatus = "timed_out"
	StepSkipped   StepStatus = "skipped"
)

// IsActionable reports whether a human decision may still be recorded on the step.
func (s StepStatus) IsActionable() bool {
	return s == StepPending || s == StepDelegated
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type ActorKind string

const (
	ActorUser ActorKind = "user"
	ActorRole ActorKind = "role"
)

// ActorRef identifies who may act on a step: one user, or any active holder of a role.
type ActorRef struct {
	Kind ActorKind `json:"kind"`
	ID   int64     `json:"id"`
}

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	UserID      int64
	Permissions permission.Set
}

// Definition is a configured approval chain for one module/resource pair.
type Definition struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Module        string    `json:"module"`
	Resource      string    `json:"resource"`
	Type          Type      `json:"workflow_type"`
	IsActive      bool      `json:"is_active"`
	TimeoutPolicy string    `json:"timeout_policy,omitempty"`
	Steps         []Step    `json:"steps"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Step struct {
	ID             int64        `json:"id"`
	StepOrder      int          `json:"step_order"`
	Name           string       `json:"name"`
	ApproverType   ApproverType `json:"approver_type"`
	ApproverID     *int64       `json:"approver_id,omitempty"`
	IsRequired     bool         `json:"is_required"`
	CanDelegate    bool         `json:"can_delegate"`
	DelegateRoleID *int64       `json:"delegate_role_id,omitempty"`
	TimeoutHours   *int         `json:"timeout_hours,omitempty"`
}

type Subject struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
}

// Instance is the runtime execution of a definition for one subject record.
type Instance struct {
	ID            uuid.UUID   `json:"id"`
	WorkflowID    int64       `json:"workflow_id"`
	WorkflowName  string      `json:"workflow_name"`
	Type          Type        `json:"workflow_type"`
	TimeoutPolicy string      `json:"timeout_policy"`
	Subject       Subject     `json:"subject"`
	Status        Status      `json:"status"`
	BlockedReason string      `json:"blocked_reason,omitempty"`
	Steps         []StepState `json:"steps"`
	Version       int64       `json:"version"`
	CreatedBy     int64       `json:"created_by"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// StepState snapshots the step configuration at start so later edits to the definition
// do not change a running instance.
type StepState struct {
	ID             int64        `json:"id"`
	StepID         int64        `json:"step_id"`
	StepOrder      int          `json:"step_order"`
	Name           string       `json:"name"`
	ApproverType   ApproverType `json:"approver_type"`
	ApproverID     *int64       `json:"approver_id,omitempty"`
	IsRequired     bool         `json:"is_required"`
	CanDelegate    bool         `json:"can_delegate"`
	DelegateRoleID *int64       `json:"delegate_role_id,omitempty"`
	TimeoutHours   *int         `json:"timeout_hours,omitempty"`

	Status        StepStatus `json:"status"`
	Assignee      *ActorRef  `json:"assignee,omitempty"`
	DelegatedFrom *int64     `json:"delegated_from,omitempty"`
	DecidedBy     *int64     `json:"decided_by,omitempty"`
	Note          string     `json:"note,omitempty"`
	Escalations   int        `json:"escalations,omitempty"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`

	// PersistedStatus is the status last read from storage, used as the compare-and-swap guard.
	PersistedStatus StepStatus `json:"-"`
}

func (inst *Instance) Step(id int64) *StepState {
	for i := range inst.Steps {
		if inst.Steps[i].ID == id {
			return &inst.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy so an operation can be retried against pristine state.
func (inst *Instance) Clone() *Instance {
	cp := *inst
	cp.Steps = make([]StepState, len(inst.Steps))
	copy(cp.Steps, inst.Steps)
	for i := range cp.Steps {
		if a := inst.Steps[i].Assignee; a != nil {
			ref := *a
			cp.Steps[i].Assignee = &ref
		}
	}
	return &cp
}
