package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/approval-workflow/internal"
)

type EngineConfig struct {
	DefaultTimeoutPolicy string
	EscalationTTL        time.Duration
}

// Engine is the approval state machine. It mutates the instance it is given and never
// touches storage; the service persists the result.
type Engine struct {
	dir Directory
	cfg EngineConfig
	now func() time.Time
}

func NewEngine(dir Directory, cfg EngineConfig) *Engine {
	if cfg.DefaultTimeoutPolicy == "" {
		cfg.DefaultTimeoutPolicy = internal.TimeoutPolicyBlock
	}
	if cfg.EscalationTTL <= 0 {
		cfg.EscalationTTL = 24 * time.Hour
	}
	return &Engine{dir: dir, cfg: cfg, now: time.Now}
}

// WithClock replaces the engine clock. Tests use it to drive timeouts.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// Start creates an instance for subject and activates its first steps. When an approver
// cannot be resolved the instance is returned blocked together with a ConfigurationError;
// callers persist it either way.
func (e *Engine) Start(ctx context.Context, def *Definition, subject Subject, createdBy int64) (*Instance, error) {
	if !def.IsActive {
		return nil, internal.NewConflictError(fmt.Sprintf("workflow %d is inactive", def.ID), internal.ErrCodeInvalidWorkflow)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := e.Now()
	policy := def.TimeoutPolicy
	if policy == "" {
		policy = e.cfg.DefaultTimeoutPolicy
	}

	inst := &Instance{
		ID:            uuid.New(),
		WorkflowID:    def.ID,
		WorkflowName:  def.Name,
		Type:          def.Type,
		TimeoutPolicy: policy,
		Subject:       subject,
		Status:        StatusNotStarted,
		Steps:         make([]StepState, len(def.Steps)),
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, s := range def.Steps {
		inst.Steps[i] = StepState{
			StepID:         s.ID,
			StepOrder:      s.StepOrder,
			Name:           s.Name,
			ApproverType:   s.ApproverType,
			ApproverID:     s.ApproverID,
			IsRequired:     s.IsRequired,
			CanDelegate:    s.CanDelegate,
			DelegateRoleID: s.DelegateRoleID,
			TimeoutHours:   s.TimeoutHours,
			Status:         StepWaiting,
		}
	}

	inst.Status = StatusInProgress
	return inst, e.advance(ctx, inst, now)
}

// Decide records one approve or reject decision on an actionable step.
func (e *Engine) Decide(ctx context.Context, inst *Instance, stepID int64, actorID int64, decision Decision, note string) error {
	if decision != DecisionApprove && decision != DecisionReject {
		return internal.NewValidationError(fmt.Sprintf("unsupported decision %q", decision), internal.ErrCodeValidationFailed)
	}
	step, err := e.actionableStep(inst, stepID)
	if err != nil {
		return err
	}

	ok, err := e.isEligible(ctx, inst, step.Assignee, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return internal.NewForbiddenError(
			fmt.Sprintf("user %d is not an eligible approver for step %d", actorID, step.StepOrder),
			internal.ErrCodeNotEligibleApprover)
	}

	now := e.Now()
	step.Status = StepApproved
	if decision == DecisionReject {
		step.Status = StepRejected
	}
	step.DecidedBy = &actorID
	step.DecidedAt = &now
	step.Note = note
	inst.UpdatedAt = now

	return e.advance(ctx, inst, now)
}

// Delegate hands an actionable step to another user. The step keeps its order and
// requirement flag, and a delegated step cannot be delegated again.
func (e *Engine) Delegate(ctx context.Context, inst *Instance, stepID int64, actorID, delegateID int64) error {
	step, err := e.actionableStep(inst, stepID)
	if err != nil {
		return err
	}
	if !step.CanDelegate {
		return internal.NewForbiddenError(fmt.Sprintf("step %d does not allow delegation", step.StepOrder), internal.ErrCodeDelegationNotAllowed)
	}
	if step.Status == StepDelegated {
		return internal.NewForbiddenError(fmt.Sprintf("step %d has already been delegated", step.StepOrder), internal.ErrCodeDelegationNotAllowed)
	}

	ok, err := e.isEligible(ctx, inst, step.Assignee, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return internal.NewForbiddenError(
			fmt.Sprintf("user %d is not an eligible approver for step %d", actorID, step.StepOrder),
			internal.ErrCodeNotEligibleApprover)
	}

	if err := e.checkDelegate(ctx, inst, step, actorID, delegateID); err != nil {
		return err
	}

	now := e.Now()
	step.Status = StepDelegated
	step.DelegatedFrom = &actorID
	step.Assignee = &ActorRef{Kind: ActorUser, ID: delegateID}
	inst.UpdatedAt = now
	return nil
}

func (e *Engine) checkDelegate(ctx context.Context, inst *Instance, step *StepState, actorID, delegateID int64) error {
	invalid := func(msg string) error {
		return internal.NewValidationError(msg, internal.ErrCodeInvalidDelegate)
	}
	if delegateID == 0 {
		return invalid("delegate_id is required")
	}
	if delegateID == inst.Subject.OwnerID {
		return invalid("a step cannot be delegated to the requester")
	}
	if delegateID == actorID || (step.Assignee != nil && step.Assignee.Kind == ActorUser && step.Assignee.ID == delegateID) {
		return invalid("a step cannot be delegated to its current approver")
	}
	active, err := e.dir.IsActiveUser(ctx, delegateID)
	if err != nil {
		return err
	}
	if !active {
		return invalid(fmt.Sprintf("user %d is not an active user", delegateID))
	}
	if step.DelegateRoleID != nil {
		has, err := e.dir.HasRole(ctx, delegateID, *step.DelegateRoleID)
		if err != nil {
			return err
		}
		if !has {
			return invalid(fmt.Sprintf("user %d does not hold delegate role %d", delegateID, *step.DelegateRoleID))
		}
	}
	return nil
}

// Cancel withdraws the instance. Every step still open is skipped.
func (e *Engine) Cancel(inst *Instance, reason string) error {
	if inst.Status.IsTerminal() {
		return internal.NewConflictError(fmt.Sprintf("instance is already %s", inst.Status), internal.ErrCodeInstanceCompleted)
	}
	now := e.Now()
	inst.BlockedReason = ""
	e.finish(inst, StatusCancelled, now)
	if reason != "" {
		for i := range inst.Steps {
			if inst.Steps[i].Status == StepSkipped && inst.Steps[i].DecidedAt == nil {
				inst.Steps[i].Note = reason
			}
		}
	}
	return nil
}

// Expire applies the instance's timeout policy to one overdue step. It is the sweep's
// single entry point and competes with human decisions through the same CAS guard.
func (e *Engine) Expire(ctx context.Context, inst *Instance, stepID int64) error {
	step, err := e.actionableStep(inst, stepID)
	if err != nil {
		return err
	}
	now := e.Now()
	if step.DueAt == nil || now.Before(*step.DueAt) {
		return internal.NewConflictError(fmt.Sprintf("step %d is not overdue", step.StepOrder), internal.ErrCodeStepNotActionable)
	}
	inst.UpdatedAt = now

	if inst.TimeoutPolicy == internal.TimeoutPolicyEscalate {
		return e.escalate(ctx, inst, step, now)
	}

	step.Status = StepTimedOut
	step.DecidedAt = &now
	return e.advance(ctx, inst, now)
}

func (e *Engine) escalate(ctx context.Context, inst *Instance, step *StepState, now time.Time) error {
	from := inst.Subject.OwnerID
	if step.Assignee != nil && step.Assignee.Kind == ActorUser {
		from = step.Assignee.ID
	}
	target, err := e.dir.ManagerOf(ctx, from)
	if err != nil {
		return err
	}

	var cause error
	switch {
	case target == 0:
		cause = unresolvable("step %d: no escalation target above user %d", step.StepOrder, from)
	case target == inst.Subject.OwnerID:
		cause = unresolvable("step %d: escalation target %d is the requester", step.StepOrder, target)
	case step.Assignee != nil && step.Assignee.Kind == ActorUser && step.Assignee.ID == target:
		cause = unresolvable("step %d: escalation target %d already holds the step", step.StepOrder, target)
	default:
		active, aerr := e.dir.IsActiveUser(ctx, target)
		if aerr != nil {
			return aerr
		}
		if !active {
			cause = unresolvable("step %d: escalation target %d is not an active user", step.StepOrder, target)
		}
	}
	if cause != nil {
		step.Status = StepTimedOut
		step.DecidedAt = &now
		e.block(inst, cause)
		return cause
	}

	due := now.Add(e.cfg.EscalationTTL)
	if step.TimeoutHours != nil {
		due = now.Add(time.Duration(*step.TimeoutHours) * time.Hour)
	}
	step.Status = StepPending
	step.Assignee = &ActorRef{Kind: ActorUser, ID: target}
	step.DelegatedFrom = nil
	step.Escalations++
	step.DueAt = &due
	return nil
}

// Retry resumes an instance halted by a configuration error, or by steps timed out under
// the block policy. Those steps are reopened and approvers resolved again.
func (e *Engine) Retry(ctx context.Context, inst *Instance) error {
	if inst.Status.IsTerminal() {
		return internal.NewConflictError(fmt.Sprintf("instance is already %s", inst.Status), internal.ErrCodeInstanceCompleted)
	}

	reopened := 0
	if inst.TimeoutPolicy == internal.TimeoutPolicyBlock || inst.TimeoutPolicy == internal.TimeoutPolicyEscalate {
		for i := range inst.Steps {
			if inst.Steps[i].Status == StepTimedOut {
				s := &inst.Steps[i]
				s.Status = StepWaiting
				s.Assignee = nil
				s.DelegatedFrom = nil
				s.DecidedAt = nil
				s.DueAt = nil
				s.ActivatedAt = nil
				reopened++
			}
		}
	}
	if inst.Status != StatusBlocked && reopened == 0 {
		return internal.NewConflictError("instance is not blocked", internal.ErrCodeInstanceNotBlocked)
	}

	now := e.Now()
	inst.Status = StatusInProgress
	inst.BlockedReason = ""
	inst.UpdatedAt = now
	return e.advance(ctx, inst, now)
}

// PendingApprovers lists who may act right now, in step order.
func (e *Engine) PendingApprovers(inst *Instance) []ActorRef {
	if inst.Status != StatusInProgress {
		return []ActorRef{}
	}
	seen := make(map[ActorRef]struct{})
	out := []ActorRef{}
	for _, s := range inst.Steps {
		if !s.Status.IsActionable() || s.Assignee == nil {
			continue
		}
		if _, dup := seen[*s.Assignee]; dup {
			continue
		}
		seen[*s.Assignee] = struct{}{}
		out = append(out, *s.Assignee)
	}
	return out
}

func (e *Engine) actionableStep(inst *Instance, stepID int64) (*StepState, error) {
	if inst.Status.IsTerminal() {
		return nil, internal.NewConflictError(fmt.Sprintf("instance is already %s", inst.Status), internal.ErrCodeInstanceCompleted)
	}
	if inst.Status == StatusBlocked {
		return nil, internal.NewConfigurationError(
			fmt.Sprintf("instance is blocked: %s", inst.BlockedReason), internal.ErrCodeInstanceBlocked)
	}
	step := inst.Step(stepID)
	if step == nil {
		return nil, internal.NewNotFoundError(fmt.Sprintf("step %d not found", stepID), internal.ErrCodeStepNotFound)
	}
	if !step.Status.IsActionable() {
		return nil, internal.NewConflictError(
			fmt.Sprintf("step %d is %s", step.StepOrder, step.Status), internal.ErrCodeStepNotActionable)
	}
	return step, nil
}
