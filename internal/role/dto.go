package role

import (
	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/core/common/validation"
	"github.com/frahmantamala/approval-workflow/internal/policy"
)

type CreateRoleDTO struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Code        string   `json:"code" validate:"omitempty,max=50"`
	Description string   `json:"description" validate:"max=255"`
	Permissions []string `json:"permissions"`
}

func (d CreateRoleDTO) Validate() error {
	if err := validation.Struct(d, internal.ErrCodeValidationFailed); err != nil {
		return err
	}
	return nil
}

// SetPermissionsDTO replaces the whole permission set of a role.
type SetPermissionsDTO struct {
	Permissions []string `json:"permissions" validate:"required"`
}

func (d SetPermissionsDTO) Validate() error {
	if err := validation.Struct(d, internal.ErrCodeValidationFailed); err != nil {
		return err
	}
	return nil
}

type RolesResponse struct {
	Roles []*Role `json:"roles"`
}

type PermissionsResponse struct {
	Permissions []PermissionEntry `json:"permissions"`
}

type RefreshResponse struct {
	Version  int64             `json:"version"`
	Origin   string            `json:"origin"`
	LoadedAt string            `json:"loaded_at"`
	Roles    []policy.RoleView `json:"roles"`
}
