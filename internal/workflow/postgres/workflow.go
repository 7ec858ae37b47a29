package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"

	"github.com/frahmantamala/approval-workflow/internal"
	datamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/workflow"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

const uniqueViolation = "23505"

// WorkflowRepository stores definitions and instances with GORM. The timeout sweep
// query runs through sqlx on the same connection pool.
type WorkflowRepository struct {
	db *gorm.DB
	sx *sqlx.DB
}

func NewWorkflowRepository(db *gorm.DB, sx *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db, sx: sx}
}

var _ workflow.Repository = (*WorkflowRepository)(nil)

func (r *WorkflowRepository) CreateDefinition(ctx context.Context, def *workflow.Definition) error {
	now := time.Now().UTC()
	def.CreatedAt, def.UpdatedAt = now, now
	row := toWorkflowRow(def)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return internal.NewInternalError("failed to create workflow", err)
	}
	*def = *fromWorkflowRow(row)
	return nil
}

func (r *WorkflowRepository) GetDefinition(ctx context.Context, id int64) (*workflow.Definition, error) {
	var row datamodel.ApprovalWorkflow
	err := r.db.WithContext(ctx).
		Preload("Steps", orderSteps).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.NewNotFoundError(fmt.Sprintf("workflow %d not found", id), internal.ErrCodeWorkflowNotFound)
		}
		return nil, internal.NewInternalError("failed to load workflow", err)
	}
	return fromWorkflowRow(&row), nil
}

func (r *WorkflowRepository) ListDefinitions(ctx context.Context, module string, activeOnly bool) ([]*workflow.Definition, error) {
	q := r.db.WithContext(ctx).Preload("Steps", orderSteps).Order("module, resource, id")
	if module != "" {
		q = q.Where("module = ?", module)
	}
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var rows []datamodel.ApprovalWorkflow
	if err := q.Find(&rows).Error; err != nil {
		return nil, internal.NewInternalError("failed to list workflows", err)
	}
	defs := make([]*workflow.Definition, 0, len(rows))
	for i := range rows {
		defs = append(defs, fromWorkflowRow(&rows[i]))
	}
	return defs, nil
}

func (r *WorkflowRepository) FindActiveDefinition(ctx context.Context, module, resource string) (*workflow.Definition, error) {
	var row datamodel.ApprovalWorkflow
	err := r.db.WithContext(ctx).
		Preload("Steps", orderSteps).
		Where("module = ? AND resource = ? AND is_active = ?", module, resource, true).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.NewNotFoundError(
				fmt.Sprintf("no active workflow for %s/%s", module, resource), internal.ErrCodeWorkflowNotFound)
		}
		return nil, internal.NewInternalError("failed to load workflow", err)
	}
	return fromWorkflowRow(&row), nil
}

func (r *WorkflowRepository) SetDefinitionActive(ctx context.Context, id int64, active bool) error {
	res := r.db.WithContext(ctx).Model(&datamodel.ApprovalWorkflow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return internal.NewInternalError("failed to update workflow", res.Error)
	}
	if res.RowsAffected == 0 {
		return internal.NewNotFoundError(fmt.Sprintf("workflow %d not found", id), internal.ErrCodeWorkflowNotFound)
	}
	return nil
}

func (r *WorkflowRepository) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	inst.Version = 1
	row := toInstanceRow(inst)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		inst.Version = 0
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return internal.NewConflictError("subject already has an open approval instance", internal.ErrCodeDuplicateInstance)
		}
		return internal.NewInternalError("failed to create approval instance", err)
	}
	for i := range inst.Steps {
		inst.Steps[i].ID = row.Steps[i].ID
		inst.Steps[i].PersistedStatus = inst.Steps[i].Status
	}
	return nil
}

func (r *WorkflowRepository) GetInstance(ctx context.Context, id uuid.UUID) (*workflow.Instance, error) {
	var row datamodel.ApprovalInstance
	err := r.db.WithContext(ctx).
		Preload("Steps", orderSteps).
		Where("id = ?", id.String()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.NewNotFoundError(fmt.Sprintf("approval instance %s not found", id), internal.ErrCodeInstanceNotFound)
		}
		return nil, internal.NewInternalError("failed to load approval instance", err)
	}
	return fromInstanceRow(&row)
}

// UpdateInstance writes the instance and its steps in one transaction. The instance row
// is guarded by its version and each step row by the status it had when read; a miss on
// either rolls back with a CONCURRENT_UPDATE conflict.
func (r *WorkflowRepository) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	conflict := internal.NewConflictError(
		fmt.Sprintf("approval instance %s was modified concurrently", inst.ID), internal.ErrCodeConcurrentUpdate)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&datamodel.ApprovalInstance{}).
			Where("id = ? AND version = ?", inst.ID.String(), inst.Version).
			Updates(map[string]interface{}{
				"status":         string(inst.Status),
				"blocked_reason": inst.BlockedReason,
				"version":        inst.Version + 1,
				"updated_at":     inst.UpdatedAt,
				"completed_at":   inst.CompletedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict
		}

		for i := range inst.Steps {
			s := &inst.Steps[i]
			kind, assignee := assigneeColumns(s.Assignee)
			res := tx.Model(&datamodel.ApprovalInstanceStep{}).
				Where("id = ? AND status = ?", s.ID, string(s.PersistedStatus)).
				Updates(map[string]interface{}{
					"status":         string(s.Status),
					"assignee_kind":  kind,
					"assignee_id":    assignee,
					"delegated_from": s.DelegatedFrom,
					"decided_by":     s.DecidedBy,
					"note":           s.Note,
					"escalations":    s.Escalations,
					"activated_at":   s.ActivatedAt,
					"due_at":         s.DueAt,
					"decided_at":     s.DecidedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return conflict
			}
		}
		return nil
	})
	if err != nil {
		if internal.HasCode(err, internal.ErrCodeConcurrentUpdate) {
			return err
		}
		return internal.NewInternalError("failed to update approval instance", err)
	}

	inst.Version++
	for i := range inst.Steps {
		inst.Steps[i].PersistedStatus = inst.Steps[i].Status
	}
	return nil
}

func (r *WorkflowRepository) FindOpenInstance(ctx context.Context, subjectType string, subjectID int64) (*workflow.Instance, error) {
	var row datamodel.ApprovalInstance
	err := r.db.WithContext(ctx).
		Preload("Steps", orderSteps).
		Where("subject_type = ? AND subject_id = ? AND status IN ?", subjectType, subjectID, openStatuses()).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, internal.NewInternalError("failed to load approval instance", err)
	}
	return fromInstanceRow(&row)
}

const overdueStepsQuery = `
SELECT s.instance_id, s.id AS step_id
FROM approval_instance_steps s
JOIN approval_instances i ON i.id = s.instance_id
WHERE i.status = ?
  AND s.status IN (?, ?)
  AND s.due_at IS NOT NULL
  AND s.due_at <= ?
ORDER BY s.due_at ASC
LIMIT ?`

// FindOverdueSteps lists actionable steps of running instances whose deadline has passed,
// oldest first.
func (r *WorkflowRepository) FindOverdueSteps(ctx context.Context, now time.Time, limit int) ([]workflow.OverdueStep, error) {
	var steps []workflow.OverdueStep
	err := r.sx.SelectContext(ctx, &steps, r.sx.Rebind(overdueStepsQuery),
		string(workflow.StatusInProgress),
		string(workflow.StepPending),
		string(workflow.StepDelegated),
		now.UTC(),
		limit)
	if err != nil {
		return nil, internal.NewInternalError("failed to query overdue steps", err)
	}
	return steps, nil
}

func orderSteps(db *gorm.DB) *gorm.DB {
	return db.Order("step_order ASC")
}

func openStatuses() []string {
	return []string{
		string(workflow.StatusNotStarted),
		string(workflow.StatusInProgress),
		string(workflow.StatusBlocked),
	}
}

func assigneeColumns(ref *workflow.ActorRef) (string, *int64) {
	if ref == nil {
		return "", nil
	}
	id := ref.ID
	return string(ref.Kind), &id
}

func toWorkflowRow(def *workflow.Definition) *datamodel.ApprovalWorkflow {
	row := &datamodel.ApprovalWorkflow{
		ID:            def.ID,
		Name:          def.Name,
		Module:        def.Module,
		Resource:      def.Resource,
		WorkflowType:  string(def.Type),
		IsActive:      def.IsActive,
		TimeoutPolicy: def.TimeoutPolicy,
		CreatedBy:     def.CreatedBy,
		CreatedAt:     def.CreatedAt,
		UpdatedAt:     def.UpdatedAt,
		Steps:         make([]datamodel.ApprovalWorkflowStep, len(def.Steps)),
	}
	for i, s := range def.Steps {
		row.Steps[i] = datamodel.ApprovalWorkflowStep{
			ID:             s.ID,
			WorkflowID:     def.ID,
			StepOrder:      s.StepOrder,
			Name:           s.Name,
			ApproverType:   string(s.ApproverType),
			ApproverID:     s.ApproverID,
			IsRequired:     s.IsRequired,
			CanDelegate:    s.CanDelegate,
			DelegateRoleID: s.DelegateRoleID,
			TimeoutHours:   s.TimeoutHours,
		}
	}
	return row
}

func fromWorkflowRow(row *datamodel.ApprovalWorkflow) *workflow.Definition {
	def := &workflow.Definition{
		ID:            row.ID,
		Name:          row.Name,
		Module:        row.Module,
		Resource:      row.Resource,
		Type:          workflow.Type(row.WorkflowType),
		IsActive:      row.IsActive,
		TimeoutPolicy: row.TimeoutPolicy,
		CreatedBy:     row.CreatedBy,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		Steps:         make([]workflow.Step, len(row.Steps)),
	}
	for i, s := range row.Steps {
		def.Steps[i] = workflow.Step{
			ID:             s.ID,
			StepOrder:      s.StepOrder,
			Name:           s.Name,
			ApproverType:   workflow.ApproverType(s.ApproverType),
			ApproverID:     s.ApproverID,
			IsRequired:     s.IsRequired,
			CanDelegate:    s.CanDelegate,
			DelegateRoleID: s.DelegateRoleID,
			TimeoutHours:   s.TimeoutHours,
		}
	}
	return def
}

func toInstanceRow(inst *workflow.Instance) *datamodel.ApprovalInstance {
	row := &datamodel.ApprovalInstance{
		ID:            inst.ID.String(),
		WorkflowID:    inst.WorkflowID,
		WorkflowName:  inst.WorkflowName,
		WorkflowType:  string(inst.Type),
		TimeoutPolicy: inst.TimeoutPolicy,
		SubjectType:   inst.Subject.Type,
		SubjectID:     inst.Subject.ID,
		OwnerID:       inst.Subject.OwnerID,
		Status:        string(inst.Status),
		BlockedReason: inst.BlockedReason,
		Version:       inst.Version,
		CreatedBy:     inst.CreatedBy,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
		CompletedAt:   inst.CompletedAt,
		Steps:         make([]datamodel.ApprovalInstanceStep, len(inst.Steps)),
	}
	for i, s := range inst.Steps {
		kind, assignee := assigneeColumns(s.Assignee)
		row.Steps[i] = datamodel.ApprovalInstanceStep{
			ID:             s.ID,
			InstanceID:     row.ID,
			StepID:         s.StepID,
			StepOrder:      s.StepOrder,
			Name:           s.Name,
			ApproverType:   string(s.ApproverType),
			ApproverID:     s.ApproverID,
			IsRequired:     s.IsRequired,
			CanDelegate:    s.CanDelegate,
			DelegateRoleID: s.DelegateRoleID,
			TimeoutHours:   s.TimeoutHours,
			Status:         string(s.Status),
			AssigneeKind:   kind,
			AssigneeID:     assignee,
			DelegatedFrom:  s.DelegatedFrom,
			DecidedBy:      s.DecidedBy,
			Note:           s.Note,
			Escalations:    s.Escalations,
			ActivatedAt:    s.ActivatedAt,
			DueAt:          s.DueAt,
			DecidedAt:      s.DecidedAt,
		}
	}
	return row
}

func fromInstanceRow(row *datamodel.ApprovalInstance) (*workflow.Instance, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, internal.NewInternalError("stored approval instance has a malformed id", err)
	}
	inst := &workflow.Instance{
		ID:            id,
		WorkflowID:    row.WorkflowID,
		WorkflowName:  row.WorkflowName,
		Type:          workflow.Type(row.WorkflowType),
		TimeoutPolicy: row.TimeoutPolicy,
		Subject: workflow.Subject{
			Type:    row.SubjectType,
			ID:      row.SubjectID,
			OwnerID: row.OwnerID,
		},
		Status:        workflow.Status(row.Status),
		BlockedReason: row.BlockedReason,
		Version:       row.Version,
		CreatedBy:     row.CreatedBy,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
		CompletedAt:   utc(row.CompletedAt),
		Steps:         make([]workflow.StepState, len(row.Steps)),
	}
	for i, s := range row.Steps {
		var assignee *workflow.ActorRef
		if s.AssigneeKind != "" && s.AssigneeID != nil {
			assignee = &workflow.ActorRef{Kind: workflow.ActorKind(s.AssigneeKind), ID: *s.AssigneeID}
		}
		inst.Steps[i] = workflow.StepState{
			ID:              s.ID,
			StepID:          s.StepID,
			StepOrder:       s.StepOrder,
			Name:            s.Name,
			ApproverType:    workflow.ApproverType(s.ApproverType),
			ApproverID:      s.ApproverID,
			IsRequired:      s.IsRequired,
			CanDelegate:     s.CanDelegate,
			DelegateRoleID:  s.DelegateRoleID,
			TimeoutHours:    s.TimeoutHours,
			Status:          workflow.StepStatus(s.Status),
			Assignee:        assignee,
			DelegatedFrom:   s.DelegatedFrom,
			DecidedBy:       s.DecidedBy,
			Note:            s.Note,
			Escalations:     s.Escalations,
			ActivatedAt:     utc(s.ActivatedAt),
			DueAt:           utc(s.DueAt),
			DecidedAt:       utc(s.DecidedAt),
			PersistedStatus: workflow.StepStatus(s.Status),
		}
	}
	return inst, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
