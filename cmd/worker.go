package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers. Approval events raised by a worker are logged by that worker.`,
}

var timeoutWorkerCmd = &cobra.Command{
	Use:   "timeouts",
	Short: "Apply timeout policies to overdue approval steps",
	Long:  `Periodically finds approval steps past their deadline and applies the workflow's timeout policy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startTimeoutWorker()
	},
}

var (
	sweepInterval  time.Duration
	sweepBatchSize int
	sweepOnce      bool
)

func startTimeoutWorker() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.DB.Close()

	interval := getDurationFlag(sweepInterval, deps.Config.Workflow.SweepInterval)
	batch := getIntFlag(sweepBatchSize, deps.Config.Workflow.SweepBatchSize)
	subscribeAuditLog(deps.Events, deps.Logger)

	if sweepOnce {
		expired, err := deps.Services.Workflow.SweepTimeouts(ctx, batch)
		deps.Logger.Info("timeout sweep done", "expired", expired)
		return err
	}

	deps.Logger.Info("starting timeout worker", "interval", interval, "batch_size", batch)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runSweeper(ctx, deps.Services.Workflow, interval, batch, deps.Logger)
	})
	g.Go(func() error {
		// Roles may change while the worker runs; reload them on the same cadence.
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := deps.Policy.Refresh(ctx); err != nil {
					deps.Logger.Warn("policy refresh failed", "error", err)
				}
			}
		}
	})

	err = g.Wait()
	deps.Logger.Info("timeout worker stopped")
	return err
}

type timeoutSweeper interface {
	SweepTimeouts(ctx context.Context, limit int) (int, error)
}

var _ timeoutSweeper = (*workflow.Service)(nil)

// runSweeper drains overdue steps in batches every interval until ctx is done. A full
// batch is followed immediately by another one.
func runSweeper(ctx context.Context, sweeper timeoutSweeper, interval time.Duration, batch int, log *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			expired, err := sweeper.SweepTimeouts(ctx, batch)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				log.Error("timeout sweep failed", "error", err)
				break
			}
			if expired < batch {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// subscribeAuditLog logs every approval event published on bus. The bus is in-process,
// so only events raised by the same command are seen.
func subscribeAuditLog(bus *events.EventBus, log *slog.Logger) {
	for _, eventType := range events.ApprovalEventTypes() {
		bus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
			log.Info("approval event",
				"event_id", event.EventID(),
				"event_type", event.EventType(),
				"occurred_at", event.OccurredAt(),
				"payload", event.Payload())
			return nil
		})
	}
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	timeoutWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep interval (overrides config)")
	timeoutWorkerCmd.Flags().IntVar(&sweepBatchSize, "batch-size", 0, "Overdue steps handled per sweep (overrides config)")
	timeoutWorkerCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run one sweep and exit")

	workerCmd.AddCommand(timeoutWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
