package workflow

import (
	"strings"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/core/common/validation"
)

type StepDTO struct {
	StepOrder      int    `json:"step_order" validate:"required,min=1"`
	Name           string `json:"name" validate:"required,max=100"`
	ApproverType   string `json:"approver_type" validate:"required,oneof=role user manager department_head"`
	ApproverID     *int64 `json:"approver_id,omitempty" validate:"omitempty,min=1"`
	IsRequired     *bool  `json:"is_required,omitempty"`
	CanDelegate    bool   `json:"can_delegate"`
	DelegateRoleID *int64 `json:"delegate_role_id,omitempty" validate:"omitempty,min=1"`
	TimeoutHours   *int   `json:"timeout_hours,omitempty" validate:"omitempty,min=1,max=8760"`
}

// CreateWorkflowDTO is the request payload for POST /approval-workflows.
type CreateWorkflowDTO struct {
	Name          string    `json:"name" validate:"required,max=100"`
	Module        string    `json:"module" validate:"required,max=50"`
	Resource      string    `json:"resource" validate:"required,max=50"`
	WorkflowType  string    `json:"workflow_type" validate:"required,oneof=sequential parallel any"`
	TimeoutPolicy string    `json:"timeout_policy,omitempty" validate:"omitempty,oneof=approve reject escalate block"`
	Steps         []StepDTO `json:"steps" validate:"required,min=1,dive"`
}

func (dto CreateWorkflowDTO) Validate() error {
	if err := validation.Struct(dto, internal.ErrCodeInvalidWorkflow); err != nil {
		return err
	}
	return nil
}

// ToDefinition builds an active definition. Steps are required unless the payload
// says otherwise.
func (dto CreateWorkflowDTO) ToDefinition(createdBy int64) *Definition {
	def := &Definition{
		Name:          strings.TrimSpace(dto.Name),
		Module:        normalizeName(dto.Module),
		Resource:      normalizeName(dto.Resource),
		Type:          Type(dto.WorkflowType),
		IsActive:      true,
		TimeoutPolicy: dto.TimeoutPolicy,
		Steps:         make([]Step, len(dto.Steps)),
		CreatedBy:     createdBy,
	}
	for i, s := range dto.Steps {
		required := true
		if s.IsRequired != nil {
			required = *s.IsRequired
		}
		def.Steps[i] = Step{
			StepOrder:      s.StepOrder,
			Name:           strings.TrimSpace(s.Name),
			ApproverType:   ApproverType(s.ApproverType),
			ApproverID:     s.ApproverID,
			IsRequired:     required,
			CanDelegate:    s.CanDelegate,
			DelegateRoleID: s.DelegateRoleID,
			TimeoutHours:   s.TimeoutHours,
		}
	}
	return def
}

// StartInstanceDTO starts an approval for a subject record. Either workflow_id or
// module+resource selects the definition; owner_id defaults to the caller.
type StartInstanceDTO struct {
	WorkflowID  int64  `json:"workflow_id,omitempty" validate:"omitempty,min=1"`
	Module      string `json:"module,omitempty" validate:"required_without=WorkflowID,max=50"`
	Resource    string `json:"resource,omitempty" validate:"required_without=WorkflowID,max=50"`
	SubjectType string `json:"subject_type" validate:"required,max=50"`
	SubjectID   int64  `json:"subject_id" validate:"required,min=1"`
	OwnerID     int64  `json:"owner_id,omitempty" validate:"omitempty,min=1"`
}

func (dto StartInstanceDTO) Validate() error {
	if err := validation.Struct(dto, internal.ErrCodeValidationFailed); err != nil {
		return err
	}
	return nil
}

type DecisionDTO struct {
	Note string `json:"note,omitempty" validate:"max=500"`
}

func (dto DecisionDTO) Validate() error {
	if err := validation.Struct(dto, internal.ErrCodeValidationFailed); err != nil {
		return err
	}
	return nil
}

type DelegateDTO struct {
	DelegateID int64 `json:"delegate_id" validate:"required,min=1"`
}

func (dto DelegateDTO) Validate() error {
	if err := validation.Struct(dto, internal.ErrCodeInvalidDelegate); err != nil {
		return err
	}
	return nil
}

type CancelDTO struct {
	Reason string `json:"reason,omitempty"`
}

func (dto CancelDTO) Validate() error {
	if err := validation.ValidateReason(dto.Reason); err != nil {
		return err
	}
	return nil
}

type PendingApproversResponse struct {
	InstanceID string     `json:"instance_id"`
	Status     Status     `json:"status"`
	Approvers  []ActorRef `json:"approvers"`
}

// BlockedResponse is returned with 422 when an operation left the instance blocked.
type BlockedResponse struct {
	Error    *internal.AppError `json:"error"`
	Instance *Instance          `json:"instance"`
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
