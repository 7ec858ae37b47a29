package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/leave"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Publish approval events by hand, for example to replay a completion a subject module missed`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish an approval event",
	Long: `Publish an event on a fully wired bus. approval.completed is delivered to the subject
modules (leave requests); other types are only logged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishEvent(args[0])
	},
}

var (
	eventData        string
	eventInstanceID  string
	eventSubjectType string
	eventSubjectID   int64
	eventOwnerID     int64
	eventStatus      string
)

func publishEvent(eventType string) error {
	ctx := context.Background()
	deps, err := initializeDependencies(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.DB.Close()
	subscribeAuditLog(deps.Events, deps.Logger)

	event, err := buildEvent(eventType)
	if err != nil {
		return err
	}

	deps.Logger.Info("publishing event", "event_type", eventType, "event_id", event.EventID())
	if err := deps.Events.PublishSync(ctx, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	deps.Logger.Info("event published successfully")
	return nil
}

func buildEvent(eventType string) (events.Event, error) {
	if eventType != events.EventTypeApprovalCompleted {
		return events.BaseEvent{
			ID:        fmt.Sprintf("cli-%d", time.Now().UnixNano()),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"message": eventData,
				"source":  "cli-command",
			},
		}, nil
	}

	switch workflow.Status(eventStatus) {
	case workflow.StatusApproved, workflow.StatusRejected, workflow.StatusCancelled:
	default:
		return nil, fmt.Errorf("--status must be approved, rejected or cancelled, got %q", eventStatus)
	}
	if eventInstanceID == "" || eventSubjectID <= 0 {
		return nil, fmt.Errorf("--instance and --subject-id are required for %s", eventType)
	}
	return events.NewApprovalCompletedEvent(eventInstanceID, eventSubjectType, eventSubjectID, eventOwnerID, eventStatus), nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventData, "data", "test message", "Message carried by a non-completion event")
	publishEventCmd.Flags().StringVar(&eventInstanceID, "instance", "", "Approval instance id")
	publishEventCmd.Flags().StringVar(&eventSubjectType, "subject-type", leave.SubjectType, "Subject type of the instance")
	publishEventCmd.Flags().Int64Var(&eventSubjectID, "subject-id", 0, "Subject id of the instance")
	publishEventCmd.Flags().Int64Var(&eventOwnerID, "owner", 0, "User who owns the subject")
	publishEventCmd.Flags().StringVar(&eventStatus, "status", string(workflow.StatusApproved), "Final instance status")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
