package node

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/workflow"
)

// EnqueueContinuation re-enqueues the current workflow as a fresh pending
// job with current_node set, so a long workload yields the platform back to
// the queue and resumes after other jobs have had a turn. Continuation jobs
// run at low priority so newly scheduled scans go first.
type EnqueueContinuation struct{}

// NewEnqueueContinuation returns the factory for enqueue-continuation.
func NewEnqueueContinuation() workflow.Factory {
	return func() workflow.Strategy {
		return &EnqueueContinuation{}
	}
}

// Execute enqueues the successor job when input has_more is true. Config:
// resume_node (required) names the node the continuation starts from.
// Output data: continued (bool), continuation_job_id.
func (n *EnqueueContinuation) Execute(ctx context.Context, input map[string]any, nc *workflow.NodeContext) (*workflow.NodeResult, error) {
	resumeNode, err := requireString(nc.Config, "resume_node")
	if err != nil {
		return nil, fmt.Errorf("op=node.EnqueueContinuation: %w", err)
	}
	if !cfgBool(input, "has_more", false) {
		return &workflow.NodeResult{Data: map[string]any{"continued": false}}, nil
	}

	params := make(map[string]any, len(nc.Params)+1)
	for k, v := range nc.Params {
		params[k] = v
	}
	params["offset"] = cfgInt(input, "offset", 0)

	job := domain.Job{
		ID:          domain.NewJobID(),
		WorkflowID:  nc.WorkflowID,
		Platform:    nc.Platform,
		Priority:    domain.PriorityLow,
		Status:      domain.JobPending,
		Params:      params,
		CurrentNode: resumeNode,
		CreatedAt:   time.Now(),
		Metadata: map[string]any{
			"source":        "continuation",
			"parent_job_id": nc.JobID,
		},
	}
	if err := nc.Queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("op=node.EnqueueContinuation: %w", err)
	}
	nc.Logger.Info("continuation job enqueued")
	return &workflow.NodeResult{Data: map[string]any{
		"continued":           true,
		"continuation_job_id": job.ID,
	}}, nil
}
