package role

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/policy"
)

type RepositoryAPI interface {
	ListRoles(ctx context.Context) ([]*Role, error)
	GetRole(ctx context.Context, id int64) (*Role, error)
	// CreateRole returns a Conflict AppError when the name or code is taken.
	CreateRole(ctx context.Context, r *Role) error
	// ReplacePermissions swaps the role's grants and bumps permissions_version in one transaction.
	ReplacePermissions(ctx context.Context, id int64, perms []string) (*Role, error)
	// SetActive bumps permissions_version only when the flag actually changes.
	SetActive(ctx context.Context, id int64, active bool) (*Role, error)
	ListPermissions(ctx context.Context) ([]PermissionEntry, error)
}

type PolicyLoader interface {
	Current() *policy.Snapshot
	Refresh(ctx context.Context) (*policy.Snapshot, error)
}

type RefreshRecorder interface {
	ObservePolicyRefresh(origin string, err error)
}

type Service struct {
	repo    RepositoryAPI
	policy  PolicyLoader
	metrics RefreshRecorder
	logger  *slog.Logger
}

func NewService(repo RepositoryAPI, loader PolicyLoader, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		policy: loader,
		logger: logger,
	}
}

func (s *Service) WithMetrics(m RefreshRecorder) *Service {
	s.metrics = m
	return s
}

func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		s.logger.Error("failed to list roles", "error", err)
		return nil, err
	}
	return roles, nil
}

func (s *Service) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.repo.GetRole(ctx, id)
}

func (s *Service) CreateRole(ctx context.Context, dto CreateRoleDTO) (*Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	perms, err := s.validatePermissions(dto.Permissions)
	if err != nil {
		return nil, err
	}

	r := NewRole(dto.Name, dto.Code, dto.Description)
	r.Permissions = perms
	if err := s.repo.CreateRole(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info("role created", "role_id", r.ID, "code", r.Code, "permissions", len(perms))
	s.refresh(ctx)
	return r, nil
}

// SetPermissions replaces the role's permission set. Every entry must be in the current catalog.
func (s *Service) SetPermissions(ctx context.Context, id int64, dto SetPermissionsDTO) (*Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	perms, err := s.validatePermissions(dto.Permissions)
	if err != nil {
		return nil, err
	}

	r, err := s.repo.ReplacePermissions(ctx, id, perms)
	if err != nil {
		return nil, err
	}

	s.logger.Info("role permissions replaced",
		"role_id", r.ID,
		"permissions", len(perms),
		"permissions_version", r.PermissionsVersion)
	s.refresh(ctx)
	return r, nil
}

func (s *Service) Activate(ctx context.Context, id int64) (*Role, error) {
	return s.setActive(ctx, id, true)
}

// Deactivate withdraws every grant of the role without deleting it.
func (s *Service) Deactivate(ctx context.Context, id int64) (*Role, error) {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id int64, active bool) (*Role, error) {
	r, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	s.logger.Info("role status changed", "role_id", r.ID, "is_active", r.IsActive, "permissions_version", r.PermissionsVersion)
	s.refresh(ctx)
	return r, nil
}

func (s *Service) ListPermissions(ctx context.Context) ([]PermissionEntry, error) {
	return s.repo.ListPermissions(ctx)
}

// RefreshPolicy rebuilds the process-wide snapshot on demand.
func (s *Service) RefreshPolicy(ctx context.Context) (*policy.Snapshot, error) {
	if s.policy == nil {
		return nil, internal.NewInternalError("no policy loader configured", nil)
	}
	snap, err := s.policy.Refresh(ctx)
	s.observe(err)
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		return nil, internal.NewExternalError("failed to reload policy", err)
	}
	return snap, nil
}

func (s *Service) validatePermissions(raw []string) ([]string, error) {
	catalog := permission.DefaultCatalog()
	if s.policy != nil {
		catalog = s.policy.Current().Catalog()
	}
	set, err := catalog.ValidateAll(raw)
	if err != nil {
		return nil, err
	}
	return set.Strings(), nil
}

// refresh keeps the saved change even when the snapshot cannot be rebuilt; the
// previous snapshot stays in place and sessions keep their cached permissions.
func (s *Service) refresh(ctx context.Context) {
	if s.policy == nil {
		return
	}
	_, err := s.policy.Refresh(ctx)
	s.observe(err)
	if err != nil {
		s.logger.Warn("policy refresh after role change failed", "error", err)
	}
}

func (s *Service) observe(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObservePolicyRefresh(s.policy.Current().Origin, err)
}

// Source exposes the role tables as a policy source.
type Source struct {
	repo RepositoryAPI
}

var _ policy.Source = (*Source)(nil)

func NewSource(repo RepositoryAPI) *Source {
	return &Source{repo: repo}
}

func (s *Source) ListPermissions(ctx context.Context) ([]string, error) {
	entries, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

func (s *Source) ListRoles(ctx context.Context) ([]policy.RoleDefinition, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]policy.RoleDefinition, len(roles))
	for i, r := range roles {
		defs[i] = r.ToDefinition()
	}
	return defs, nil
}
