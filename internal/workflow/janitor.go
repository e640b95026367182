// janitor.go implements the Background Janitor (spec.md §4.7): a
// perpetual, hourly sweep that expires stale trust grants and prunes old
// completed requests.
//
// Grounded on the teacher's HarnessWorkflow idle-loop/ContinueAsNew shape
// (internal/workflow/harness.go): a long-lived workflow that does its work
// on a timer and calls workflow.NewContinueAsNewError at each quiescent
// point to keep its event history bounded forever.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mfateev/skillbroker/internal/activities"
)

// JanitorSweepInterval is how often the Janitor runs its sweep.
const JanitorSweepInterval = time.Hour

const QueryJanitorSweepCount = "janitor_sweep_count"

// JanitorWorkflowInput is passed at start and preserved across
// ContinueAsNew.
type JanitorWorkflowInput struct {
	// RetentionHorizon is how long a completed/failed/denied request is
	// kept before it is pruned. Spec §9 Open Question: retention is
	// optional and not part of the correctness contract; zero disables it.
	RetentionHorizon time.Duration
	SweepCount       uint64
}

// JanitorWorkflow runs forever, sweeping expired trust grants and (if
// configured) old completed requests once per JanitorSweepInterval.
func JanitorWorkflow(ctx workflow.Context, input JanitorWorkflowInput) error {
	logger := workflow.GetLogger(ctx)

	if err := workflow.SetQueryHandler(ctx, QueryJanitorSweepCount, func() (uint64, error) {
		return input.SweepCount, nil
	}); err != nil {
		logger.Error("failed to register janitor sweep-count query handler", "error", err)
	}

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	var report activities.SweepReport
	if err := workflow.ExecuteActivity(actCtx, "SweepAll", activities.SweepAllInput{
		RetentionHorizon: input.RetentionHorizon,
	}).Get(ctx, &report); err != nil {
		logger.Warn("janitor sweep failed", "error", err)
	} else {
		logger.Info("janitor sweep complete", "expired_trust", report.ExpiredTrust, "pruned_requests", report.PrunedRequests)
	}
	input.SweepCount++

	if err := workflow.Sleep(ctx, JanitorSweepInterval); err != nil {
		return err
	}
	return workflow.NewContinueAsNewError(ctx, JanitorWorkflow, input)
}
