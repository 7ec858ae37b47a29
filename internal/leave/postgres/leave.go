package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/approval-workflow/internal"
	leaveDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/leave"
	"github.com/frahmantamala/approval-workflow/internal/leave"
)

// LeaveRepository implements leave.Repository using GORM
type LeaveRepository struct {
	db *gorm.DB
}

var _ leave.Repository = (*LeaveRepository)(nil)

func NewLeaveRepository(db *gorm.DB) *LeaveRepository {
	return &LeaveRepository{db: db}
}

func (r *LeaveRepository) Create(ctx context.Context, req *leave.Request) error {
	row := req.ToDataModel()
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return internal.NewInternalError("failed to create leave request", err)
	}
	req.ID = row.ID
	return nil
}

func (r *LeaveRepository) Delete(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Delete(&leaveDatamodel.LeaveRequest{}, id).Error; err != nil {
		return internal.NewInternalError("failed to delete leave request", err)
	}
	return nil
}

func (r *LeaveRepository) GetByID(ctx context.Context, id int64) (*leave.Request, error) {
	var row leaveDatamodel.LeaveRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.NewNotFoundError("leave request not found", internal.ErrCodeLeaveNotFound)
		}
		return nil, internal.NewInternalError("failed to load leave request", err)
	}
	return leave.FromDataModel(&row), nil
}

func (r *LeaveRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*leave.Request, error) {
	return r.list(r.db.WithContext(ctx).Where("user_id = ?", userID), limit, offset)
}

func (r *LeaveRepository) ListAll(ctx context.Context, limit, offset int) ([]*leave.Request, error) {
	return r.list(r.db.WithContext(ctx), limit, offset)
}

func (r *LeaveRepository) list(q *gorm.DB, limit, offset int) ([]*leave.Request, error) {
	var rows []leaveDatamodel.LeaveRequest
	err := q.Order("submitted_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, internal.NewInternalError("failed to list leave requests", err)
	}
	reqs := make([]*leave.Request, 0, len(rows))
	for i := range rows {
		reqs = append(reqs, leave.FromDataModel(&rows[i]))
	}
	return reqs, nil
}

func (r *LeaveRepository) AttachInstance(ctx context.Context, id int64, instanceID string) error {
	res := r.db.WithContext(ctx).Model(&leaveDatamodel.LeaveRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"instance_id": instanceID,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return internal.NewInternalError("failed to attach approval instance", res.Error)
	}
	if res.RowsAffected == 0 {
		return internal.NewNotFoundError("leave request not found", internal.ErrCodeLeaveNotFound)
	}
	return nil
}

// Transition is a compare-and-set on status so that a withdrawal and a completion
// event racing for the same request only apply once.
func (r *LeaveRepository) Transition(ctx context.Context, id int64, from, to leave.Status, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&leaveDatamodel.LeaveRequest{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"decided_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, internal.NewInternalError("failed to update leave status", res.Error)
	}
	return res.RowsAffected > 0, nil
}
