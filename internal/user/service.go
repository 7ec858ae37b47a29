package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

type Repository interface {
	GetByID(ctx context.Context, userID int64) (*User, error)
	// IsActive reports false for an unknown user.
	IsActive(ctx context.Context, userID int64) (bool, error)
	ManagerOf(ctx context.Context, userID int64) (int64, error)
	DepartmentHeadOf(ctx context.Context, userID int64) (int64, error)
	HasActiveRole(ctx context.Context, userID, roleID int64) (bool, error)
	CountRoleHolders(ctx context.Context, roleID, excludeUserID int64) (int, error)
	UpdatePlacement(ctx context.Context, userID int64, p OrgPlacement) error
	RoleExists(ctx context.Context, roleID int64) (bool, error)
	DepartmentExists(ctx context.Context, departmentID int64) (bool, error)
}

// Service is the org directory consulted by the approval engine.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

var _ workflow.Directory = (*Service)(nil)

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetByID(ctx context.Context, userID int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) IsActiveUser(ctx context.Context, userID int64) (bool, error) {
	return s.repo.IsActive(ctx, userID)
}

func (s *Service) ManagerOf(ctx context.Context, userID int64) (int64, error) {
	return s.repo.ManagerOf(ctx, userID)
}

func (s *Service) DepartmentHeadOf(ctx context.Context, userID int64) (int64, error) {
	return s.repo.DepartmentHeadOf(ctx, userID)
}

// HasRole is true only while both the user and the role are active.
func (s *Service) HasRole(ctx context.Context, userID, roleID int64) (bool, error) {
	return s.repo.HasActiveRole(ctx, userID, roleID)
}

func (s *Service) CountRoleHolders(ctx context.Context, roleID, excludeUserID int64) (int, error) {
	return s.repo.CountRoleHolders(ctx, roleID, excludeUserID)
}

// UpdateOrg changes role, manager or department. A manager link that would make the
// user report to themselves, directly or through the chain, is refused.
func (s *Service) UpdateOrg(ctx context.Context, userID int64, dto UpdateOrgDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	current, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	next := dto.Apply(OrgPlacement{
		RoleID:       current.RoleID,
		ManagerID:    current.ManagerID,
		DepartmentID: current.DepartmentID,
	})

	if next.RoleID != nil {
		if ok, err := s.repo.RoleExists(ctx, *next.RoleID); err != nil {
			return nil, err
		} else if !ok {
			return nil, internal.NewNotFoundError(fmt.Sprintf("role %d not found", *next.RoleID), internal.ErrCodeRoleNotFound)
		}
	}
	if next.DepartmentID != nil {
		if ok, err := s.repo.DepartmentExists(ctx, *next.DepartmentID); err != nil {
			return nil, err
		} else if !ok {
			return nil, internal.NewValidationFieldError("department_id", "unknown department", internal.ErrCodeValidationFailed)
		}
	}
	if next.ManagerID != nil {
		if err := s.checkManager(ctx, userID, *next.ManagerID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdatePlacement(ctx, userID, next); err != nil {
		return nil, err
	}
	s.logger.Info("user org placement updated", "user_id", userID, "actor_id", internal.UserIDFromContext(ctx))
	return s.repo.GetByID(ctx, userID)
}

func (s *Service) checkManager(ctx context.Context, userID, managerID int64) error {
	if managerID == userID {
		return internal.NewValidationFieldError("manager_id", "a user cannot manage themselves", internal.ErrCodeValidationFailed)
	}
	active, err := s.repo.IsActive(ctx, managerID)
	if err != nil {
		return err
	}
	if !active {
		return internal.NewValidationFieldError("manager_id", "manager must be an active user", internal.ErrCodeValidationFailed)
	}

	cursor := managerID
	for depth := 0; depth < maxManagerDepth; depth++ {
		next, err := s.repo.ManagerOf(ctx, cursor)
		if err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		if next == userID {
			return internal.NewValidationFieldError("manager_id", "manager chain would form a cycle", internal.ErrCodeValidationFailed)
		}
		cursor = next
	}
	return internal.NewValidationFieldError("manager_id", "manager chain is too deep", internal.ErrCodeValidationFailed)
}
