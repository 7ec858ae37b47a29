package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeApprovalStarted   = "approval.started"
	EventTypeApprovalDecided   = "approval.decided"
	EventTypeApprovalDelegated = "approval.delegated"
	EventTypeApprovalTimedOut  = "approval.timed_out"
	EventTypeApprovalBlocked   = "approval.blocked"
	EventTypeApprovalCompleted = "approval.completed"
)

// ApprovalEventTypes lists every approval event, for subscribers that log them all.
func ApprovalEventTypes() []string {
	return []string{
		EventTypeApprovalStarted,
		EventTypeApprovalDecided,
		EventTypeApprovalDelegated,
		EventTypeApprovalTimedOut,
		EventTypeApprovalBlocked,
		EventTypeApprovalCompleted,
	}
}

func newBase(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

type ApprovalStartedEvent struct {
	BaseEvent
	InstanceID  string `json:"instance_id"`
	WorkflowID  int64  `json:"workflow_id"`
	SubjectType string `json:"subject_type"`
	SubjectID   int64  `json:"subject_id"`
	OwnerID     int64  `json:"owner_id"`
}

func NewApprovalStartedEvent(instanceID string, workflowID int64, subjectType string, subjectID, ownerID int64) *ApprovalStartedEvent {
	return &ApprovalStartedEvent{
		BaseEvent: newBase(EventTypeApprovalStarted, map[string]interface{}{
			"instance_id":  instanceID,
			"workflow_id":  workflowID,
			"subject_type": subjectType,
			"subject_id":   subjectID,
			"owner_id":     ownerID,
		}),
		InstanceID:  instanceID,
		WorkflowID:  workflowID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		OwnerID:     ownerID,
	}
}

type ApprovalDecidedEvent struct {
	BaseEvent
	InstanceID string `json:"instance_id"`
	StepID     int64  `json:"step_id"`
	ActorID    int64  `json:"actor_id"`
	Decision   string `json:"decision"`
}

func NewApprovalDecidedEvent(instanceID string, stepID, actorID int64, decision string) *ApprovalDecidedEvent {
	return &ApprovalDecidedEvent{
		BaseEvent: newBase(EventTypeApprovalDecided, map[string]interface{}{
			"instance_id": instanceID,
			"step_id":     stepID,
			"actor_id":    actorID,
			"decision":    decision,
		}),
		InstanceID: instanceID,
		StepID:     stepID,
		ActorID:    actorID,
		Decision:   decision,
	}
}

type ApprovalDelegatedEvent struct {
	BaseEvent
	InstanceID string `json:"instance_id"`
	StepID     int64  `json:"step_id"`
	FromUserID int64  `json:"from_user_id"`
	ToUserID   int64  `json:"to_user_id"`
}

func NewApprovalDelegatedEvent(instanceID string, stepID, from, to int64) *ApprovalDelegatedEvent {
	return &ApprovalDelegatedEvent{
		BaseEvent: newBase(EventTypeApprovalDelegated, map[string]interface{}{
			"instance_id":  instanceID,
			"step_id":      stepID,
			"from_user_id": from,
			"to_user_id":   to,
		}),
		InstanceID: instanceID,
		StepID:     stepID,
		FromUserID: from,
		ToUserID:   to,
	}
}

type ApprovalTimedOutEvent struct {
	BaseEvent
	InstanceID string `json:"instance_id"`
	StepID     int64  `json:"step_id"`
	Policy     string `json:"policy"`
}

func NewApprovalTimedOutEvent(instanceID string, stepID int64, policy string) *ApprovalTimedOutEvent {
	return &ApprovalTimedOutEvent{
		BaseEvent: newBase(EventTypeApprovalTimedOut, map[string]interface{}{
			"instance_id": instanceID,
			"step_id":     stepID,
			"policy":      policy,
		}),
		InstanceID: instanceID,
		StepID:     stepID,
		Policy:     policy,
	}
}

type ApprovalBlockedEvent struct {
	BaseEvent
	InstanceID string `json:"instance_id"`
	Reason     string `json:"reason"`
}

func NewApprovalBlockedEvent(instanceID, reason string) *ApprovalBlockedEvent {
	return &ApprovalBlockedEvent{
		BaseEvent: newBase(EventTypeApprovalBlocked, map[string]interface{}{
			"instance_id": instanceID,
			"reason":      reason,
		}),
		InstanceID: instanceID,
		Reason:     reason,
	}
}

type ApprovalCompletedEvent struct {
	BaseEvent
	InstanceID  string `json:"instance_id"`
	SubjectType string `json:"subject_type"`
	SubjectID   int64  `json:"subject_id"`
	OwnerID     int64  `json:"owner_id"`
	Status      string `json:"status"`
}

func NewApprovalCompletedEvent(instanceID, subjectType string, subjectID, ownerID int64, status string) *ApprovalCompletedEvent {
	return &ApprovalCompletedEvent{
		BaseEvent: newBase(EventTypeApprovalCompleted, map[string]interface{}{
			"instance_id":  instanceID,
			"subject_type": subjectType,
			"subject_id":   subjectID,
			"owner_id":     ownerID,
			"status":       status,
		}),
		InstanceID:  instanceID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		OwnerID:     ownerID,
		Status:      status,
	}
}
