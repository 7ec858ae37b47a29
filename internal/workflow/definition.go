package workflow

import (
	"fmt"
	"sort"

	"github.com/frahmantamala/approval-workflow/internal"
)

func (t Type) IsValid() bool {
	return t == TypeSequential || t == TypeParallel || t == TypeAny
}

func (a ApproverType) IsValid() bool {
	switch a {
	case ApproverRole, ApproverUser, ApproverManager, ApproverDepartmentHead:
		return true
	}
	return false
}

// Validate checks the structural invariants of a definition. Steps are sorted by
// StepOrder in place.
func (d *Definition) Validate() error {
	var errs []internal.ValidationError
	add := func(field, msg string) {
		errs = append(errs, internal.ValidationError{Field: field, Message: msg, Code: string(internal.ErrCodeInvalidWorkflow)})
	}

	if d.Name == "" {
		add("name", "name is required")
	}
	if d.Module == "" || d.Resource == "" {
		add("module", "module and resource are required")
	}
	if !d.Type.IsValid() {
		add("workflow_type", fmt.Sprintf("unsupported workflow type %q", d.Type))
	}
	if d.TimeoutPolicy != "" && !internal.IsValidTimeoutPolicy(d.TimeoutPolicy) {
		add("timeout_policy", fmt.Sprintf("unsupported timeout policy %q", d.TimeoutPolicy))
	}
	if len(d.Steps) == 0 {
		add("steps", "at least one step is required")
	}

	sort.SliceStable(d.Steps, func(i, j int) bool { return d.Steps[i].StepOrder < d.Steps[j].StepOrder })

	required := 0
	for i, s := range d.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if s.StepOrder != i+1 {
			add(field+".step_order", fmt.Sprintf("step orders must be 1..%d without gaps or duplicates", len(d.Steps)))
		}
		if !s.ApproverType.IsValid() {
			add(field+".approver_type", fmt.Sprintf("unsupported approver type %q", s.ApproverType))
		}
		if (s.ApproverType == ApproverRole || s.ApproverType == ApproverUser) && s.ApproverID == nil {
			add(field+".approver_id", fmt.Sprintf("approver_id is required for %s approvers", s.ApproverType))
		}
		if s.TimeoutHours != nil && *s.TimeoutHours <= 0 {
			add(field+".timeout_hours", "timeout_hours must be positive")
		}
		if s.DelegateRoleID != nil && !s.CanDelegate {
			add(field+".delegate_role_id", "delegate_role_id requires can_delegate")
		}
		if s.IsRequired {
			required++
		}
	}
	if (d.Type == TypeSequential || d.Type == TypeParallel) && len(d.Steps) > 0 && required == 0 {
		add("steps", fmt.Sprintf("a %s workflow needs at least one required step", d.Type))
	}

	if len(errs) > 0 {
		return internal.NewValidationError("invalid workflow definition", internal.ErrCodeInvalidWorkflow).
			WithDetails(internal.ValidationErrors{Errors: errs})
	}
	return nil
}
