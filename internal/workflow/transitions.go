package workflow

import (
	"context"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
)

// effective folds timed-out steps into an outcome according to the timeout policy.
// Under block and escalate a timed-out step counts as neither approved nor rejected.
func effective(policy string, s StepStatus) StepStatus {
	if s != StepTimedOut {
		return s
	}
	switch policy {
	case internal.TimeoutPolicyApprove:
		return StepApproved
	case internal.TimeoutPolicyReject:
		return StepRejected
	}
	return StepTimedOut
}

// evaluate returns the terminal outcome the steps have reached, or "" while undecided.
func evaluate(inst *Instance) Status {
	switch inst.Type {
	case TypeAny:
		rejected := 0
		for _, s := range inst.Steps {
			switch effective(inst.TimeoutPolicy, s.Status) {
			case StepApproved:
				return StatusApproved
			case StepRejected:
				rejected++
			}
		}
		if len(inst.Steps) > 0 && rejected == len(inst.Steps) {
			return StatusRejected
		}
		return ""

	default:
		allApproved := true
		for _, s := range inst.Steps {
			if !s.IsRequired {
				continue
			}
			switch effective(inst.TimeoutPolicy, s.Status) {
			case StepRejected:
				return StatusRejected
			case StepApproved:
			default:
				allApproved = false
			}
		}
		if allApproved {
			return StatusApproved
		}
		return ""
	}
}

// ready reports whether a waiting step may be activated. Sequential steps wait for
// every earlier required step; the other types activate everything at once.
func ready(inst *Instance, idx int) bool {
	if inst.Type != TypeSequential {
		return true
	}
	for i := 0; i < idx; i++ {
		prior := inst.Steps[i]
		if prior.IsRequired && effective(inst.TimeoutPolicy, prior.Status) != StepApproved {
			return false
		}
	}
	return true
}

// advance recomputes the instance after any step change: settle a terminal outcome,
// otherwise activate the steps whose turn has come.
func (e *Engine) advance(ctx context.Context, inst *Instance, now time.Time) error {
	if outcome := evaluate(inst); outcome != "" {
		e.finish(inst, outcome, now)
		return nil
	}

	for i := range inst.Steps {
		step := &inst.Steps[i]
		if step.Status != StepWaiting || !ready(inst, i) {
			continue
		}
		ref, err := e.resolveApprover(ctx, inst, step)
		if err != nil {
			if appErr, ok := internal.IsAppError(err); ok && appErr.Type == internal.ErrorTypeConfiguration {
				e.block(inst, err)
			}
			return err
		}
		activated := now
		step.Status = StepPending
		step.Assignee = &ref
		step.ActivatedAt = &activated
		if step.TimeoutHours != nil {
			due := now.Add(time.Duration(*step.TimeoutHours) * time.Hour)
			step.DueAt = &due
		}
	}
	inst.UpdatedAt = now
	return nil
}

func (e *Engine) finish(inst *Instance, outcome Status, now time.Time) {
	for i := range inst.Steps {
		s := &inst.Steps[i]
		if s.Status == StepWaiting || s.Status.IsActionable() {
			s.Status = StepSkipped
		}
	}
	inst.Status = outcome
	inst.UpdatedAt = now
	completed := now
	inst.CompletedAt = &completed
}

func (e *Engine) block(inst *Instance, cause error) {
	inst.Status = StatusBlocked
	inst.BlockedReason = cause.Error()
}
