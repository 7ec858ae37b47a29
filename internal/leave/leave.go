package leave

import (
	"time"

	leaveDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/leave"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

const (
	TypeAnnual = "annual"
	TypeSick   = "sick"
	TypeUnpaid = "unpaid"
)

// Leave requests are approved by whichever workflow is active for hrms/leave.
const (
	SubjectType      = "leave_request"
	WorkflowModule   = "hrms"
	WorkflowResource = "leave"
)

type Request struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	LeaveType   string     `json:"leave_type"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     time.Time  `json:"end_date"`
	Days        int        `json:"days"`
	Reason      string     `json:"reason,omitempty"`
	Status      Status     `json:"status"`
	InstanceID  *string    `json:"instance_id,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DaysBetween counts calendar days, both ends included.
func DaysBetween(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours()/24) + 1
}

func (r *Request) IsPending() bool {
	return r.Status == StatusPending
}

func (r *Request) Resolve(status Status, at time.Time) {
	r.Status = status
	r.DecidedAt = &at
	r.UpdatedAt = at
}

// StatusForOutcome maps a finished approval onto the request. ok is false for
// instance states that do not end a request.
func StatusForOutcome(s workflow.Status) (Status, bool) {
	switch s {
	case workflow.StatusApproved:
		return StatusApproved, true
	case workflow.StatusRejected:
		return StatusRejected, true
	case workflow.StatusCancelled:
		return StatusWithdrawn, true
	}
	return "", false
}

func (r *Request) ToDataModel() *leaveDatamodel.LeaveRequest {
	return &leaveDatamodel.LeaveRequest{
		ID:          r.ID,
		UserID:      r.UserID,
		LeaveType:   r.LeaveType,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		Days:        r.Days,
		Reason:      r.Reason,
		Status:      string(r.Status),
		InstanceID:  r.InstanceID,
		SubmittedAt: r.SubmittedAt,
		DecidedAt:   r.DecidedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func FromDataModel(row *leaveDatamodel.LeaveRequest) *Request {
	return &Request{
		ID:          row.ID,
		UserID:      row.UserID,
		LeaveType:   row.LeaveType,
		StartDate:   row.StartDate,
		EndDate:     row.EndDate,
		Days:        row.Days,
		Reason:      row.Reason,
		Status:      Status(row.Status),
		InstanceID:  row.InstanceID,
		SubmittedAt: row.SubmittedAt,
		DecidedAt:   row.DecidedAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
