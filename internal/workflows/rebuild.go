package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

const (
	// TaskQueue is served by the process that owns the layers.
	TaskQueue = "overlay-rebuild"

	fillAttempts = 3
)

// RebuildInput is the input for RebuildLayerWorkflow.
type RebuildInput struct {
	Layer string
}

// RebuildResult reports what a rebuild put back into the layer.
type RebuildResult struct {
	Filled  int
	Scanned bool
	Saved   string
}

// WorkflowID is the id of the rebuild of a layer. At most one rebuild per
// layer runs at a time.
func WorkflowID(layer string) string { return "rebuild-" + layer }

// RebuildLayerWorkflow repopulates a layer whose saved state was unusable.
//
// Filling is not idempotent, so a failed fill is never retried on its own:
// the layer is reset first and the reset+fill pair is retried. When every
// attempt fails the layer is reset once more, leaving it empty instead of
// partially filled.
func RebuildLayerWorkflow(ctx workflow.Context, input RebuildInput) (RebuildResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting layer rebuild", "layer", input.Layer)

	var res RebuildResult
	var a *RebuildActivities

	retrying := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 5,
		},
	})
	once := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var fillErr error
	for attempt := 1; attempt <= fillAttempts; attempt++ {
		if err := workflow.ExecuteActivity(retrying, a.ResetLayer, input.Layer).Get(ctx, nil); err != nil {
			return res, fmt.Errorf("reset %s: %w", input.Layer, err)
		}
		fillErr = workflow.ExecuteActivity(once, a.FillLayer, input.Layer).Get(ctx, &res.Filled)
		if fillErr == nil {
			break
		}
		logger.Warn("fill failed", "layer", input.Layer, "attempt", attempt, "error", fillErr)
	}
	if fillErr != nil {
		_ = workflow.ExecuteActivity(retrying, a.ResetLayer, input.Layer).Get(ctx, nil)
		return res, fmt.Errorf("fill %s: %w", input.Layer, fillErr)
	}

	if input.Layer == domain.LayerPhotos {
		scanCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: time.Hour,
			HeartbeatTimeout:    5 * time.Minute,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		})
		if err := workflow.ExecuteActivity(scanCtx, a.ScanPhotos).Get(ctx, nil); err != nil {
			// The layer is consistent with the seed store; disk changes are
			// picked up by the next scheduled scan.
			logger.Warn("scan after fill failed", "error", err)
		} else {
			res.Scanned = true
		}
	}

	if err := workflow.ExecuteActivity(retrying, a.SaveLayer, input.Layer).Get(ctx, &res.Saved); err != nil {
		return res, fmt.Errorf("save %s: %w", input.Layer, err)
	}

	logger.Info("Layer rebuilt", "layer", input.Layer, "filled", res.Filled, "saved", res.Saved)
	return res, nil
}
