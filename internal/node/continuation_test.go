package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

func TestEnqueueContinuationWhenMoreRemains(t *testing.T) {
	queue := &enqueueOnlyQueue{}
	strategy := NewEnqueueContinuation()()

	nc := testNodeContext(t,
		map[string]any{"resume_node": "extract"},
		map[string]any{"platform": "coupang", "sale_status": "on_sale"})
	nc.Queue = queue

	input := map[string]any{"has_more": true, "offset": 200}
	res, err := strategy.Execute(t.Context(), input, nc)
	require.NoError(t, err)
	require.Equal(t, true, res.Data["continued"])

	require.Len(t, queue.enqueued, 1)
	job := queue.enqueued[0]
	require.Equal(t, res.Data["continuation_job_id"], job.ID)
	require.Equal(t, nc.WorkflowID, job.WorkflowID)
	require.Equal(t, "coupang", job.Platform)
	require.Equal(t, domain.PriorityLow, job.Priority)
	require.Equal(t, domain.JobPending, job.Status)
	require.Equal(t, "extract", job.CurrentNode)
	// Params carry forward with the next page's offset on top.
	require.Equal(t, "on_sale", job.Params["sale_status"])
	require.Equal(t, 200, job.Params["offset"])
	require.Equal(t, "continuation", job.Metadata["source"])
	require.Equal(t, nc.JobID, job.Metadata["parent_job_id"])
}

func TestEnqueueContinuationStopsWhenDone(t *testing.T) {
	queue := &enqueueOnlyQueue{}
	strategy := NewEnqueueContinuation()()

	nc := testNodeContext(t, map[string]any{"resume_node": "extract"}, nil)
	nc.Queue = queue

	res, err := strategy.Execute(t.Context(), map[string]any{"has_more": false}, nc)
	require.NoError(t, err)
	require.Equal(t, false, res.Data["continued"])
	require.Empty(t, queue.enqueued)
}

func TestEnqueueContinuationRequiresResumeNode(t *testing.T) {
	strategy := NewEnqueueContinuation()()

	nc := testNodeContext(t, map[string]any{}, nil)
	_, err := strategy.Execute(t.Context(), map[string]any{"has_more": true}, nc)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
