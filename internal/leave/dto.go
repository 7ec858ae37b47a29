package leave

import (
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/core/common/validation"
)

type SubmitLeaveDTO struct {
	LeaveType string    `json:"leave_type" validate:"required,oneof=annual sick unpaid"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtefield=StartDate"`
	Reason    string    `json:"reason" validate:"max=500"`
}

// Validate checks the payload against today's date. Sick leave may be backdated.
func (dto SubmitLeaveDTO) Validate(now time.Time) error {
	if err := validation.Struct(dto, internal.ErrCodeInvalidLeave); err != nil {
		return err
	}

	if dto.LeaveType == TypeSick {
		return nil
	}
	v := validation.NewValidator()
	v.Field("start_date", dto.StartDate).NotBefore(now, internal.ErrCodeInvalidLeave)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type WithdrawLeaveDTO struct {
	Reason string `json:"reason,omitempty"`
}

func (dto WithdrawLeaveDTO) Validate() error {
	if err := validation.ValidateReason(dto.Reason); err != nil {
		return err
	}
	return nil
}

type LeaveListResponse struct {
	Requests []*Request `json:"requests"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}
