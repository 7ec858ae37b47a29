package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/permission"
)

// Repository persists definitions and instances. UpdateInstance is a compare-and-swap:
// it must fail with a CONCURRENT_UPDATE ConflictError when the stored version or any
// touched step status differs from what was read.
type Repository interface {
	CreateDefinition(ctx context.Context, def *Definition) error
	GetDefinition(ctx context.Context, id int64) (*Definition, error)
	ListDefinitions(ctx context.Context, module string, activeOnly bool) ([]*Definition, error)
	FindActiveDefinition(ctx context.Context, module, resource string) (*Definition, error)
	SetDefinitionActive(ctx context.Context, id int64, active bool) error

	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id uuid.UUID) (*Instance, error)
	UpdateInstance(ctx context.Context, inst *Instance) error
	// FindOpenInstance returns nil when the subject has no instance in progress or blocked.
	FindOpenInstance(ctx context.Context, subjectType string, subjectID int64) (*Instance, error)
	FindOverdueSteps(ctx context.Context, now time.Time, limit int) ([]OverdueStep, error)
}

type OverdueStep struct {
	InstanceID uuid.UUID `db:"instance_id"`
	StepID     int64     `db:"step_id"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Metrics interface {
	ObserveDecision(workflowType, decision string)
	ObserveCompletion(workflowType, status string)
	ObserveTimeout(policy string)
	ObserveConfigurationError(code string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveDecision(string, string)   {}
func (nopMetrics) ObserveCompletion(string, string) {}
func (nopMetrics) ObserveTimeout(string)            {}
func (nopMetrics) ObserveConfigurationError(string) {}

type Service struct {
	repo       Repository
	engine     *Engine
	publisher  EventPublisher
	metrics    Metrics
	logger     *slog.Logger
	maxRetries int
	subjects   map[string]subjectBinding
}

type subjectBinding struct {
	module, resource string
}

func NewService(repo Repository, engine *Engine, publisher EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		engine:     engine,
		publisher:  publisher,
		metrics:    nopMetrics{},
		logger:     logger,
		maxRetries: 3,
		subjects:   map[string]subjectBinding{},
	}
}

// BindSubject restricts instances for subjectType to workflows of module/resource.
// Bindings are set while wiring, before the service handles requests.
func (s *Service) BindSubject(subjectType, module, resource string) *Service {
	s.subjects[subjectType] = subjectBinding{
		module:   normalizeName(module),
		resource: normalizeName(resource),
	}
	return s
}

func (s *Service) WithMetrics(m Metrics) *Service {
	if m != nil {
		s.metrics = m
	}
	return s
}

// WithMaxRetries bounds how often a losing compare-and-swap writer reloads and re-applies.
func (s *Service) WithMaxRetries(n int) *Service {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

func (s *Service) Engine() *Engine {
	return s.engine
}

func (s *Service) CreateWorkflow(ctx context.Context, actor Actor, dto CreateWorkflowDTO) (*Definition, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Warn("workflow validation failed", "error", err, "user_id", actor.UserID)
		return nil, err
	}
	def := dto.ToDefinition(actor.UserID)
	if err := def.Validate(); err != nil {
		s.logger.Warn("workflow definition rejected", "error", err, "user_id", actor.UserID)
		return nil, err
	}

	existing, err := s.repo.FindActiveDefinition(ctx, def.Module, def.Resource)
	if err != nil && !internal.IsType(err, internal.ErrorTypeNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, internal.NewConflictError(
			fmt.Sprintf("workflow %d is already active for %s/%s; deactivate it first", existing.ID, def.Module, def.Resource),
			internal.ErrCodeInvalidWorkflow)
	}

	if err := s.repo.CreateDefinition(ctx, def); err != nil {
		s.logger.Error("failed to create workflow", "error", err, "name", def.Name)
		return nil, err
	}

	s.logger.Info("workflow created",
		"workflow_id", def.ID,
		"module", def.Module,
		"resource", def.Resource,
		"workflow_type", def.Type,
		"steps", len(def.Steps))
	return def, nil
}

func (s *Service) GetWorkflow(ctx context.Context, id int64) (*Definition, error) {
	return s.repo.GetDefinition(ctx, id)
}

func (s *Service) ListWorkflows(ctx context.Context, module string, activeOnly bool) ([]*Definition, error) {
	return s.repo.ListDefinitions(ctx, module, activeOnly)
}

// FindActive returns the active definition for module/resource, or a NotFound error.
func (s *Service) FindActive(ctx context.Context, module, resource string) (*Definition, error) {
	return s.repo.FindActiveDefinition(ctx, module, resource)
}

// DeactivateWorkflow stops new instances from starting. Running instances keep their
// snapshot of the steps.
func (s *Service) DeactivateWorkflow(ctx context.Context, actor Actor, id int64) (*Definition, error) {
	def, err := s.repo.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return def, nil
	}
	if err := s.repo.SetDefinitionActive(ctx, id, false); err != nil {
		return nil, err
	}
	def.IsActive = false
	s.logger.Info("workflow deactivated", "workflow_id", id, "user_id", actor.UserID)
	return def, nil
}

// CreateInstance starts an approval for a subject. A blocked instance is persisted and
// returned together with the ConfigurationError that blocked it.
func (s *Service) CreateInstance(ctx context.Context, actor Actor, dto StartInstanceDTO) (*Instance, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	owner := dto.OwnerID
	if owner == 0 {
		owner = actor.UserID
	}
	if owner != actor.UserID && !actor.Permissions.Has(permission.AdminWorkflowManage) {
		return nil, internal.NewForbiddenError("only workflow administrators may start approvals for another user", internal.ErrCodeInsufficientPerms)
	}

	var (
		def *Definition
		err error
	)
	if dto.WorkflowID != 0 {
		def, err = s.repo.GetDefinition(ctx, dto.WorkflowID)
	} else {
		def, err = s.repo.FindActiveDefinition(ctx, dto.Module, dto.Resource)
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkSubject(actor, dto, def); err != nil {
		return nil, err
	}

	open, err := s.repo.FindOpenInstance(ctx, dto.SubjectType, dto.SubjectID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, internal.NewConflictError(
			fmt.Sprintf("%s %d already has an open approval %s", dto.SubjectType, dto.SubjectID, open.ID),
			internal.ErrCodeDuplicateInstance)
	}

	subject := Subject{Type: dto.SubjectType, ID: dto.SubjectID, OwnerID: owner}
	inst, startErr := s.engine.Start(ctx, def, subject, actor.UserID)
	if inst == nil {
		return nil, startErr
	}
	if startErr != nil && !internal.IsType(startErr, internal.ErrorTypeConfiguration) {
		return nil, startErr
	}

	if err := s.repo.CreateInstance(ctx, inst); err != nil {
		s.logger.Error("failed to create approval instance", "error", err, "workflow_id", def.ID)
		return nil, err
	}

	s.publish(ctx, events.NewApprovalStartedEvent(inst.ID.String(), def.ID, subject.Type, subject.ID, subject.OwnerID))
	s.afterTransition(ctx, StatusNotStarted, inst, startErr)

	s.logger.Info("approval instance started",
		"instance_id", inst.ID,
		"workflow_id", def.ID,
		"subject_type", subject.Type,
		"subject_id", subject.ID,
		"status", inst.Status)
	return inst, startErr
}

// checkSubject keeps a bound subject type on its own workflow. Picking a workflow by id
// for an unbound subject type is reserved to workflow administrators.
func (s *Service) checkSubject(actor Actor, dto StartInstanceDTO, def *Definition) error {
	mismatch := func(module, resource string) error {
		return internal.NewValidationError(
			fmt.Sprintf("workflow %d handles %s/%s, not %s/%s", def.ID, def.Module, def.Resource, module, resource),
			internal.ErrCodeWorkflowMismatch)
	}
	if dto.WorkflowID != 0 && !covers(def, dto.Module, dto.Resource) {
		return mismatch(dto.Module, dto.Resource)
	}
	if b, ok := s.subjects[dto.SubjectType]; ok {
		if !covers(def, b.module, b.resource) {
			return mismatch(b.module, b.resource)
		}
		return nil
	}
	if dto.WorkflowID != 0 && !actor.Permissions.Has(permission.AdminWorkflowManage) {
		return internal.NewForbiddenError(
			fmt.Sprintf("only workflow administrators may pick a workflow for %s", dto.SubjectType),
			internal.ErrCodeInsufficientPerms)
	}
	return nil
}

// covers treats an empty module or resource as unconstrained.
func covers(def *Definition, module, resource string) bool {
	return (module == "" || def.Module == normalizeName(module)) &&
		(resource == "" || def.Resource == normalizeName(resource))
}

// GetInstance returns the instance if the actor is involved in it or administers workflows.
func (s *Service) GetInstance(ctx context.Context, actor Actor, id uuid.UUID) (*Instance, error) {
	inst, err := s.repo.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureVisible(ctx, actor, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Service) PendingApprovers(ctx context.Context, actor Actor, id uuid.UUID) (*Instance, []ActorRef, error) {
	inst, err := s.GetInstance(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	return inst, s.engine.PendingApprovers(inst), nil
}

func (s *Service) Decide(ctx context.Context, actor Actor, id uuid.UUID, stepID int64, decision Decision, note string) (*Instance, error) {
	before, inst, err := s.mutate(ctx, id, func(inst *Instance) error {
		return s.engine.Decide(ctx, inst, stepID, actor.UserID, decision, note)
	})
	if err != nil && inst == nil {
		s.logger.Warn("decision refused",
			"instance_id", id,
			"step_id", stepID,
			"user_id", actor.UserID,
			"decision", decision,
			"error", err)
		return nil, err
	}

	s.metrics.ObserveDecision(string(inst.Type), string(decision))
	s.publish(ctx, events.NewApprovalDecidedEvent(inst.ID.String(), stepID, actor.UserID, string(decision)))
	s.afterTransition(ctx, before, inst, err)

	s.logger.Info("decision recorded",
		"instance_id", inst.ID,
		"step_id", stepID,
		"user_id", actor.UserID,
		"decision", decision,
		"status", inst.Status)
	return inst, err
}

func (s *Service) Delegate(ctx context.Context, actor Actor, id uuid.UUID, stepID int64, dto DelegateDTO) (*Instance, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	_, inst, err := s.mutate(ctx, id, func(inst *Instance) error {
		return s.engine.Delegate(ctx, inst, stepID, actor.UserID, dto.DelegateID)
	})
	if err != nil {
		s.logger.Warn("delegation refused",
			"instance_id", id,
			"step_id", stepID,
			"user_id", actor.UserID,
			"delegate_id", dto.DelegateID,
			"error", err)
		return nil, err
	}

	s.publish(ctx, events.NewApprovalDelegatedEvent(inst.ID.String(), stepID, actor.UserID, dto.DelegateID))
	s.logger.Info("step delegated",
		"instance_id", inst.ID,
		"step_id", stepID,
		"from_user_id", actor.UserID,
		"to_user_id", dto.DelegateID)
	return inst, nil
}

// Cancel withdraws an instance. Only the subject owner or a workflow administrator may.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, dto CancelDTO) (*Instance, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	before, inst, err := s.mutate(ctx, id, func(inst *Instance) error {
		if inst.Subject.OwnerID != actor.UserID && !actor.Permissions.Has(permission.AdminWorkflowManage) {
			return internal.NewForbiddenError("only the requester or a workflow administrator may cancel", internal.ErrCodeUnauthorizedAccess)
		}
		return s.engine.Cancel(inst, dto.Reason)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, before, inst, nil)
	s.logger.Info("approval instance cancelled", "instance_id", inst.ID, "user_id", actor.UserID)
	return inst, nil
}

// Retry resumes a blocked instance after an operator has fixed the configuration.
func (s *Service) Retry(ctx context.Context, actor Actor, id uuid.UUID) (*Instance, error) {
	before, inst, err := s.mutate(ctx, id, func(inst *Instance) error {
		return s.engine.Retry(ctx, inst)
	})
	if inst == nil {
		return nil, err
	}
	s.afterTransition(ctx, before, inst, err)
	s.logger.Info("approval instance retried",
		"instance_id", inst.ID,
		"user_id", actor.UserID,
		"status", inst.Status)
	return inst, err
}

// SweepTimeouts applies the timeout policy to up to limit overdue steps and returns
// how many were expired. Steps decided concurrently are skipped.
func (s *Service) SweepTimeouts(ctx context.Context, limit int) (int, error) {
	now := s.engine.Now()
	overdue, err := s.repo.FindOverdueSteps(ctx, now, limit)
	if err != nil {
		s.logger.Error("failed to find overdue steps", "error", err)
		return 0, err
	}

	expired := 0
	for _, o := range overdue {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		before, inst, err := s.mutate(ctx, o.InstanceID, func(inst *Instance) error {
			return s.engine.Expire(ctx, inst, o.StepID)
		})
		if inst == nil {
			if internal.IsType(err, internal.ErrorTypeConflict) || internal.IsType(err, internal.ErrorTypeConfiguration) {
				s.logger.Debug("overdue step no longer actionable", "instance_id", o.InstanceID, "step_id", o.StepID, "error", err)
				continue
			}
			s.logger.Error("failed to expire step", "instance_id", o.InstanceID, "step_id", o.StepID, "error", err)
			continue
		}

		expired++
		s.metrics.ObserveTimeout(inst.TimeoutPolicy)
		s.publish(ctx, events.NewApprovalTimedOutEvent(inst.ID.String(), o.StepID, inst.TimeoutPolicy))
		s.afterTransition(ctx, before, inst, err)
	}

	if expired > 0 {
		s.logger.Info("timeout sweep finished", "overdue", len(overdue), "expired", expired)
	}
	return expired, nil
}

// mutate loads an instance, applies op and persists the result with compare-and-swap.
// A losing writer reloads and re-applies op, so a decision racing another on the same
// step ends in the engine's ConflictError. The returned instance is nil when nothing was
// persisted; a non-nil instance with an error means the instance was persisted blocked.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, op func(*Instance) error) (Status, *Instance, error) {
	for attempt := 1; ; attempt++ {
		stored, err := s.repo.GetInstance(ctx, id)
		if err != nil {
			return "", nil, err
		}
		before := stored.Status
		working := stored.Clone()

		opErr := op(working)
		if opErr != nil && !persistsOnError(working, opErr) {
			return before, nil, opErr
		}

		err = s.repo.UpdateInstance(ctx, working)
		if err == nil {
			return before, working, opErr
		}
		if !internal.HasCode(err, internal.ErrCodeConcurrentUpdate) || attempt >= s.maxRetries {
			return before, nil, err
		}
		s.logger.Debug("concurrent update, reloading instance", "instance_id", id, "attempt", attempt)
	}
}

// persistsOnError reports whether a failed operation still changed the instance: a
// configuration error that has just blocked it.
func persistsOnError(inst *Instance, err error) bool {
	return inst.Status == StatusBlocked &&
		internal.IsType(err, internal.ErrorTypeConfiguration) &&
		!internal.HasCode(err, internal.ErrCodeInstanceBlocked)
}

func (s *Service) afterTransition(ctx context.Context, before Status, inst *Instance, cause error) {
	if inst.Status == before {
		return
	}
	switch {
	case inst.Status.IsTerminal():
		s.metrics.ObserveCompletion(string(inst.Type), string(inst.Status))
		s.publish(ctx, events.NewApprovalCompletedEvent(
			inst.ID.String(), inst.Subject.Type, inst.Subject.ID, inst.Subject.OwnerID, string(inst.Status)))
	case inst.Status == StatusBlocked:
		code := ""
		if appErr, ok := internal.IsAppError(cause); ok {
			code = string(appErr.Code)
		}
		s.metrics.ObserveConfigurationError(code)
		s.publish(ctx, events.NewApprovalBlockedEvent(inst.ID.String(), inst.BlockedReason))
		s.logger.Warn("approval instance blocked", "instance_id", inst.ID, "reason", inst.BlockedReason)
	}
}

func (s *Service) ensureVisible(ctx context.Context, actor Actor, inst *Instance) error {
	if actor.Permissions.Has(permission.AdminWorkflowManage) {
		return nil
	}
	ok, err := s.engine.Involves(ctx, inst, actor.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return internal.NewForbiddenError("not allowed to view this approval", internal.ErrCodeUnauthorizedAccess)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
