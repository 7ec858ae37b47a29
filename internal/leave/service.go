package leave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

type Repository interface {
	Create(ctx context.Context, req *Request) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*Request, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Request, error)
	ListAll(ctx context.Context, limit, offset int) ([]*Request, error)
	AttachInstance(ctx context.Context, id int64, instanceID string) error
	// Transition moves a request out of from. It reports false when the request
	// was no longer in that status.
	Transition(ctx context.Context, id int64, from, to Status, at time.Time) (bool, error)
}

// ApprovalStarter is the part of the workflow service leave requests depend on.
type ApprovalStarter interface {
	CreateInstance(ctx context.Context, actor workflow.Actor, dto workflow.StartInstanceDTO) (*workflow.Instance, error)
	Cancel(ctx context.Context, actor workflow.Actor, id uuid.UUID, dto workflow.CancelDTO) (*workflow.Instance, error)
}

type Service struct {
	repo      Repository
	approvals ApprovalStarter
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, approvals ApprovalStarter, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		approvals: approvals,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for date checks and decision stamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit stores the request and starts the hrms/leave approval for it. Without an
// active workflow the request is approved on the spot.
func (s *Service) Submit(ctx context.Context, actor workflow.Actor, dto SubmitLeaveDTO) (*Request, error) {
	now := s.now()
	if err := dto.Validate(now); err != nil {
		s.logger.Error("leave validation failed", "error", err, "user_id", actor.UserID)
		return nil, err
	}

	req := &Request{
		UserID:      actor.UserID,
		LeaveType:   dto.LeaveType,
		StartDate:   dto.StartDate,
		EndDate:     dto.EndDate,
		Days:        DaysBetween(dto.StartDate, dto.EndDate),
		Reason:      dto.Reason,
		Status:      StatusPending,
		SubmittedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		s.logger.Error("failed to create leave request", "error", err, "user_id", actor.UserID)
		return nil, err
	}

	inst, err := s.approvals.CreateInstance(ctx, actor, workflow.StartInstanceDTO{
		Module:      WorkflowModule,
		Resource:    WorkflowResource,
		SubjectType: SubjectType,
		SubjectID:   req.ID,
		OwnerID:     actor.UserID,
	})
	switch {
	case internal.HasCode(err, internal.ErrCodeWorkflowNotFound):
		if _, err := s.repo.Transition(ctx, req.ID, StatusPending, StatusApproved, now); err != nil {
			return nil, err
		}
		req.Resolve(StatusApproved, now)
		s.logger.Info("leave request auto-approved, no active workflow",
			"leave_id", req.ID,
			"user_id", actor.UserID,
			"days", req.Days)
		return req, nil
	case inst == nil:
		if delErr := s.repo.Delete(ctx, req.ID); delErr != nil {
			s.logger.Error("failed to roll back leave request", "error", delErr, "leave_id", req.ID)
		}
		return nil, err
	case err != nil:
		// A blocked instance stays attached; an operator retries it once the
		// configuration is fixed.
		s.logger.Warn("leave approval blocked", "error", err, "leave_id", req.ID, "instance_id", inst.ID)
	}

	id := inst.ID.String()
	if err := s.repo.AttachInstance(ctx, req.ID, id); err != nil {
		return nil, err
	}
	req.InstanceID = &id

	if status, done := StatusForOutcome(inst.Status); done {
		if _, err := s.apply(ctx, req.ID, status); err != nil {
			return nil, err
		}
		req.Resolve(status, now)
	}

	s.logger.Info("leave request submitted",
		"leave_id", req.ID,
		"user_id", actor.UserID,
		"instance_id", id,
		"approval_status", inst.Status)
	return req, nil
}

// Get returns a request the actor may see: their own, or any with hrms.leave.read.all.
func (s *Service) Get(ctx context.Context, actor workflow.Actor, id int64) (*Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != actor.UserID && permission.HighestScope(actor.Permissions, permission.HRMSLeaveReadAll.Base()) != permission.ScopeAll {
		s.logger.Warn("unauthorized access to leave request", "leave_id", id, "user_id", actor.UserID)
		return nil, internal.NewForbiddenError("cannot read another user's leave request", internal.ErrCodeUnauthorizedAccess)
	}
	return req, nil
}

// List returns every request for readers with all-scope unless mine is set, and the
// actor's own requests otherwise.
func (s *Service) List(ctx context.Context, actor workflow.Actor, mine bool, limit, offset int) ([]*Request, error) {
	if !mine && permission.HighestScope(actor.Permissions, permission.HRMSLeaveReadAll.Base()) == permission.ScopeAll {
		return s.repo.ListAll(ctx, limit, offset)
	}
	return s.repo.ListByUser(ctx, actor.UserID, limit, offset)
}

// Withdraw cancels a pending request and its running approval.
func (s *Service) Withdraw(ctx context.Context, actor workflow.Actor, id int64, dto WithdrawLeaveDTO) (*Request, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != actor.UserID && !actor.Permissions.Has(permission.AdminWorkflowManage) {
		return nil, internal.NewForbiddenError("only the requester may withdraw a leave request", internal.ErrCodeUnauthorizedAccess)
	}
	if !req.IsPending() {
		return nil, internal.NewConflictError(
			fmt.Sprintf("leave request %d is already %s", id, req.Status), internal.ErrCodeInstanceCompleted)
	}

	if req.InstanceID != nil {
		instanceID, err := uuid.Parse(*req.InstanceID)
		if err != nil {
			return nil, internal.NewInternalError("leave request carries a malformed instance id", err)
		}
		if _, err := s.approvals.Cancel(ctx, actor, instanceID, workflow.CancelDTO{Reason: dto.Reason}); err != nil {
			return nil, err
		}
	}

	if _, err := s.apply(ctx, id, StatusWithdrawn); err != nil {
		return nil, err
	}
	s.logger.Info("leave request withdrawn", "leave_id", id, "user_id", actor.UserID)
	return s.repo.GetByID(ctx, id)
}

// ApplyOutcome records the result of a finished approval. Requests that already left
// pending are left alone.
func (s *Service) ApplyOutcome(ctx context.Context, id int64, outcome workflow.Status) error {
	status, done := StatusForOutcome(outcome)
	if !done {
		return nil
	}
	changed, err := s.apply(ctx, id, status)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("leave request decided", "leave_id", id, "status", status)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, id int64, status Status) (bool, error) {
	changed, err := s.repo.Transition(ctx, id, StatusPending, status, s.now())
	if err != nil {
		s.logger.Error("failed to update leave status", "error", err, "leave_id", id, "status", status)
		return false, err
	}
	return changed, nil
}
