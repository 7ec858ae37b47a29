package workflow

import (
	"context"
	"fmt"

	"github.com/frahmantamala/approval-workflow/internal"
)

// Directory answers org-hierarchy questions. The user package implements it over the
// users and departments tables.
type Directory interface {
	IsActiveUser(ctx context.Context, userID int64) (bool, error)
	// ManagerOf returns 0 when the user has no manager.
	ManagerOf(ctx context.Context, userID int64) (int64, error)
	// DepartmentHeadOf returns 0 when the user's department has no head.
	DepartmentHeadOf(ctx context.Context, userID int64) (int64, error)
	HasRole(ctx context.Context, userID, roleID int64) (bool, error)
	// CountRoleHolders counts active holders of an active role, ignoring excludeUserID.
	CountRoleHolders(ctx context.Context, roleID, excludeUserID int64) (int, error)
}

func unresolvable(format string, args ...interface{}) *internal.AppError {
	return internal.NewConfigurationError(fmt.Sprintf(format, args...), internal.ErrCodeApproverUnresolvable)
}

// resolveApprover maps a step's approver type onto a concrete assignee. The subject
// owner never resolves as their own approver.
func (e *Engine) resolveApprover(ctx context.Context, inst *Instance, step *StepState) (ActorRef, error) {
	owner := inst.Subject.OwnerID

	switch step.ApproverType {
	case ApproverRole:
		if step.ApproverID == nil {
			return ActorRef{}, unresolvable("step %d: role approver has no role id", step.StepOrder)
		}
		n, err := e.dir.CountRoleHolders(ctx, *step.ApproverID, owner)
		if err != nil {
			return ActorRef{}, err
		}
		if n == 0 {
			return ActorRef{}, unresolvable("step %d: role %d has no active holder other than the requester", step.StepOrder, *step.ApproverID)
		}
		return ActorRef{Kind: ActorRole, ID: *step.ApproverID}, nil

	case ApproverUser:
		if step.ApproverID == nil {
			return ActorRef{}, unresolvable("step %d: user approver has no user id", step.StepOrder)
		}
		return e.activeUser(ctx, step, *step.ApproverID, owner, "user")

	case ApproverManager:
		managerID, err := e.dir.ManagerOf(ctx, owner)
		if err != nil {
			return ActorRef{}, err
		}
		if managerID == 0 {
			return ActorRef{}, unresolvable("step %d: user %d has no manager", step.StepOrder, owner)
		}
		return e.activeUser(ctx, step, managerID, owner, "manager")

	case ApproverDepartmentHead:
		headID, err := e.dir.DepartmentHeadOf(ctx, owner)
		if err != nil {
			return ActorRef{}, err
		}
		if headID == 0 {
			return ActorRef{}, unresolvable("step %d: department of user %d has no head", step.StepOrder, owner)
		}
		return e.activeUser(ctx, step, headID, owner, "department head")
	}

	return ActorRef{}, unresolvable("step %d: unsupported approver type %q", step.StepOrder, step.ApproverType)
}

func (e *Engine) activeUser(ctx context.Context, step *StepState, userID, owner int64, label string) (ActorRef, error) {
	if userID == owner {
		return ActorRef{}, unresolvable("step %d: %s %d is the requester", step.StepOrder, label, userID)
	}
	active, err := e.dir.IsActiveUser(ctx, userID)
	if err != nil {
		return ActorRef{}, err
	}
	if !active {
		return ActorRef{}, unresolvable("step %d: %s %d is not an active user", step.StepOrder, label, userID)
	}
	return ActorRef{Kind: ActorUser, ID: userID}, nil
}

// isEligible reports whether userID may decide on a step currently assigned to ref.
func (e *Engine) isEligible(ctx context.Context, inst *Instance, ref *ActorRef, userID int64) (bool, error) {
	if ref == nil || userID == 0 || userID == inst.Subject.OwnerID {
		return false, nil
	}
	switch ref.Kind {
	case ActorUser:
		return ref.ID == userID, nil
	case ActorRole:
		active, err := e.dir.IsActiveUser(ctx, userID)
		if err != nil || !active {
			return false, err
		}
		return e.dir.HasRole(ctx, userID, ref.ID)
	}
	return false, nil
}

// Involves reports whether userID owns the subject or has taken part in, or may act on,
// any step of the instance.
func (e *Engine) Involves(ctx context.Context, inst *Instance, userID int64) (bool, error) {
	if userID == inst.Subject.OwnerID || userID == inst.CreatedBy {
		return true, nil
	}
	for i := range inst.Steps {
		s := &inst.Steps[i]
		if (s.DecidedBy != nil && *s.DecidedBy == userID) || (s.DelegatedFrom != nil && *s.DelegatedFrom == userID) {
			return true, nil
		}
		if !s.Status.IsActionable() {
			continue
		}
		ok, err := e.isEligible(ctx, inst, s.Assignee, userID)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
