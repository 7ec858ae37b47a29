package role

import (
	"sort"
	"strings"
	"time"

	roleDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/role"
	"github.com/frahmantamala/approval-workflow/internal/policy"
)

type Role struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Code               string    `json:"code"`
	Description        string    `json:"description"`
	IsActive           bool      `json:"is_active"`
	PermissionsVersion int64     `json:"permissions_version"`
	Permissions        []string  `json:"permissions"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func NewRole(name, code, description string) *Role {
	now := time.Now().UTC()
	if code == "" {
		code = CodeFor(name)
	}
	return &Role{
		Name:               strings.TrimSpace(name),
		Code:               strings.ToUpper(strings.TrimSpace(code)),
		Description:        description,
		IsActive:           true,
		PermissionsVersion: 1,
		Permissions:        []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// CodeFor derives a role code from its display name: "Team Lead" becomes "TEAM_LEAD".
func CodeFor(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), "_"))
}

func (r *Role) ToDefinition() policy.RoleDefinition {
	perms := make([]string, len(r.Permissions))
	copy(perms, r.Permissions)
	return policy.RoleDefinition{
		Name:        r.Name,
		Code:        r.Code,
		IsActive:    r.IsActive,
		Permissions: perms,
	}
}

func ToDataModel(r *Role) *roleDatamodel.Role {
	return &roleDatamodel.Role{
		ID:                 r.ID,
		Name:               r.Name,
		Code:               r.Code,
		Description:        r.Description,
		IsActive:           r.IsActive,
		PermissionsVersion: r.PermissionsVersion,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func FromDataModel(r *roleDatamodel.Role, perms []string) *Role {
	if perms == nil {
		perms = []string{}
	}
	sort.Strings(perms)
	return &Role{
		ID:                 r.ID,
		Name:               r.Name,
		Code:               r.Code,
		Description:        r.Description,
		IsActive:           r.IsActive,
		PermissionsVersion: r.PermissionsVersion,
		Permissions:        perms,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// PermissionEntry is one row of the permission catalog.
type PermissionEntry struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
