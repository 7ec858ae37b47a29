package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/approval-workflow/internal"
	roleDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/role"
	"github.com/frahmantamala/approval-workflow/internal/role"
)

type RoleRepository struct {
	db *gorm.DB
}

var _ role.RepositoryAPI = (*RoleRepository)(nil)

func NewRoleRepository(db *gorm.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

type grantRow struct {
	RoleID int64
	Name   string
}

const grantsQuery = `
SELECT rp.role_id, p.name
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id`

func (r *RoleRepository) ListRoles(ctx context.Context) ([]*role.Role, error) {
	var rows []*roleDatamodel.Role
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, internal.NewInternalError("failed to list roles", err)
	}

	var grants []grantRow
	if err := r.db.WithContext(ctx).Raw(grantsQuery).Scan(&grants).Error; err != nil {
		return nil, internal.NewInternalError("failed to list role permissions", err)
	}
	byRole := make(map[int64][]string, len(rows))
	for _, g := range grants {
		byRole[g.RoleID] = append(byRole[g.RoleID], g.Name)
	}

	roles := make([]*role.Role, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, role.FromDataModel(row, byRole[row.ID]))
	}
	return roles, nil
}

func (r *RoleRepository) GetRole(ctx context.Context, id int64) (*role.Role, error) {
	return r.load(r.db.WithContext(ctx), id)
}

func (r *RoleRepository) CreateRole(ctx context.Context, rl *role.Role) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		err := tx.Model(&roleDatamodel.Role{}).
			Where("LOWER(name) = LOWER(?) OR code = ?", rl.Name, rl.Code).
			Count(&taken).Error
		if err != nil {
			return internal.NewInternalError("failed to check role uniqueness", err)
		}
		if taken > 0 {
			return internal.NewConflictError(fmt.Sprintf("role %q already exists", rl.Name), internal.ErrCodeDuplicateRole)
		}

		row := role.ToDataModel(rl)
		if err := tx.Create(row).Error; err != nil {
			return internal.NewInternalError("failed to create role", err)
		}
		if err := r.grant(tx, row.ID, rl.Permissions); err != nil {
			return err
		}
		rl.ID = row.ID
		return nil
	})
}

func (r *RoleRepository) ReplacePermissions(ctx context.Context, id int64, perms []string) (*role.Role, error) {
	var out *role.Role
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.load(tx, id); err != nil {
			return err
		}
		if err := tx.Where("role_id = ?", id).Delete(&roleDatamodel.RolePermission{}).Error; err != nil {
			return internal.NewInternalError("failed to clear role permissions", err)
		}
		if err := r.grant(tx, id, perms); err != nil {
			return err
		}
		if err := bumpVersion(tx, id, map[string]interface{}{}); err != nil {
			return err
		}
		var err error
		out, err = r.load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RoleRepository) SetActive(ctx context.Context, id int64, active bool) (*role.Role, error) {
	var out *role.Role
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.load(tx, id)
		if err != nil {
			return err
		}
		if current.IsActive == active {
			out = current
			return nil
		}
		if err := bumpVersion(tx, id, map[string]interface{}{"is_active": active}); err != nil {
			return err
		}
		out, err = r.load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RoleRepository) ListPermissions(ctx context.Context) ([]role.PermissionEntry, error) {
	var rows []roleDatamodel.Permission
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, internal.NewInternalError("failed to list permissions", err)
	}
	entries := make([]role.PermissionEntry, len(rows))
	for i, p := range rows {
		entries[i] = role.PermissionEntry{ID: p.ID, Name: p.Name, Description: p.Description}
	}
	return entries, nil
}

// EnsurePermissions inserts catalog rows that do not exist yet. Used by the seeder.
func (r *RoleRepository) EnsurePermissions(ctx context.Context, entries []role.PermissionEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			row := roleDatamodel.Permission{Name: e.Name, Description: e.Description, CreatedAt: time.Now().UTC()}
			if err := tx.Where("name = ?", e.Name).FirstOrCreate(&row).Error; err != nil {
				return internal.NewInternalError("failed to seed permission "+e.Name, err)
			}
		}
		return nil
	})
}

func (r *RoleRepository) load(db *gorm.DB, id int64) (*role.Role, error) {
	var row roleDatamodel.Role
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.NewNotFoundError(fmt.Sprintf("role %d not found", id), internal.ErrCodeRoleNotFound)
		}
		return nil, internal.NewInternalError("failed to load role", err)
	}

	var perms []string
	var grants []grantRow
	if err := db.Raw(grantsQuery+` WHERE rp.role_id = ?`, id).Scan(&grants).Error; err != nil {
		return nil, internal.NewInternalError("failed to load role permissions", err)
	}
	for _, g := range grants {
		perms = append(perms, g.Name)
	}
	return role.FromDataModel(&row, perms), nil
}

func (r *RoleRepository) grant(tx *gorm.DB, roleID int64, perms []string) error {
	if len(perms) == 0 {
		return nil
	}
	var rows []roleDatamodel.Permission
	if err := tx.Where("name IN ?", perms).Find(&rows).Error; err != nil {
		return internal.NewInternalError("failed to look up permissions", err)
	}
	if len(rows) != len(perms) {
		found := make(map[string]bool, len(rows))
		for _, p := range rows {
			found[p.Name] = true
		}
		for _, p := range perms {
			if !found[p] {
				return internal.NewValidationError(fmt.Sprintf("unknown permission %q", p), internal.ErrCodeUnknownPermission)
			}
		}
	}

	now := time.Now().UTC()
	links := make([]roleDatamodel.RolePermission, len(rows))
	for i, p := range rows {
		links[i] = roleDatamodel.RolePermission{RoleID: roleID, PermissionID: p.ID, CreatedAt: now}
	}
	if err := tx.Create(&links).Error; err != nil {
		return internal.NewInternalError("failed to grant permissions", err)
	}
	return nil
}

func bumpVersion(tx *gorm.DB, id int64, fields map[string]interface{}) error {
	fields["permissions_version"] = gorm.Expr("permissions_version + 1")
	fields["updated_at"] = time.Now().UTC()
	err := tx.Model(&roleDatamodel.Role{}).Where("id = ?", id).Updates(fields).Error
	if err != nil {
		return internal.NewInternalError("failed to update role", err)
	}
	return nil
}
