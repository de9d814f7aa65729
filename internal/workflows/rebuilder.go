package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Rebuilder starts RebuildLayerWorkflow. It implements ports.Rebuilder.
type Rebuilder struct {
	client    client.Client
	taskQueue string
}

// NewRebuilder creates a Rebuilder that schedules on taskQueue.
func NewRebuilder(c client.Client, taskQueue string) *Rebuilder {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	return &Rebuilder{client: c, taskQueue: taskQueue}
}

// Rebuild starts a rebuild of layer unless one is already running.
func (r *Rebuilder) Rebuild(ctx context.Context, layer string) error {
	run, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(layer),
		TaskQueue: r.taskQueue,
	}, RebuildLayerWorkflow, RebuildInput{Layer: layer})
	if err != nil {
		return fmt.Errorf("start rebuild of %s: %w", layer, err)
	}
	slog.Info("layer rebuild scheduled", "layer", layer, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return nil
}

// NewWorker registers the rebuild workflow and its activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *RebuildActivities) worker.Worker {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(RebuildLayerWorkflow)
	w.RegisterActivity(acts)
	return w
}
