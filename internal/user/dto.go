package user

import (
	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/core/common/validation"
)

// UpdateOrgDTO moves a user in the org chart. Absent fields keep their current value;
// a zero id clears the link.
type UpdateOrgDTO struct {
	RoleID       *int64 `json:"role_id" validate:"omitempty,min=0"`
	ManagerID    *int64 `json:"manager_id" validate:"omitempty,min=0"`
	DepartmentID *int64 `json:"department_id" validate:"omitempty,min=0"`
}

func (d UpdateOrgDTO) Validate() error {
	if err := validation.Struct(d, internal.ErrCodeValidationFailed); err != nil {
		return err
	}
	return nil
}

func (d UpdateOrgDTO) Apply(p OrgPlacement) OrgPlacement {
	p.RoleID = pick(p.RoleID, d.RoleID)
	p.ManagerID = pick(p.ManagerID, d.ManagerID)
	p.DepartmentID = pick(p.DepartmentID, d.DepartmentID)
	return p
}

func pick(current, update *int64) *int64 {
	if update == nil {
		return current
	}
	if *update == 0 {
		return nil
	}
	v := *update
	return &v
}
