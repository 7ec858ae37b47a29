package leave

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

type OutcomeRecorder interface {
	ApplyOutcome(ctx context.Context, id int64, outcome workflow.Status) error
}

type EventHandler struct {
	service OutcomeRecorder
	logger  *slog.Logger
}

func NewEventHandler(service OutcomeRecorder, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		service: service,
		logger:  logger,
	}
}

func (h *EventHandler) HandleApprovalCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.ApprovalCompletedEvent)
	if !ok {
		h.logger.Error("invalid event type for approval completed handler", "event_type", event.EventType())
		return fmt.Errorf("expected ApprovalCompletedEvent, got %T", event)
	}
	if completed.SubjectType != SubjectType {
		return nil
	}

	h.logger.Info("handling approval completed event for leave request",
		"leave_id", completed.SubjectID,
		"instance_id", completed.InstanceID,
		"status", completed.Status,
		"event_id", completed.EventID())

	if err := h.service.ApplyOutcome(ctx, completed.SubjectID, workflow.Status(completed.Status)); err != nil {
		return fmt.Errorf("recording approval outcome for leave request %d: %w", completed.SubjectID, err)
	}
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeApprovalCompleted, h.HandleApprovalCompleted)

	h.logger.Info("leave event handlers registered",
		"handlers", []string{events.EventTypeApprovalCompleted})
}
