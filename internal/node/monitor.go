package node

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/workflow"
)

// CheckLinks verifies a batch of curated-surface URLs (banners, votes,
// picks) and reports the broken ones. URLs come from the node config or,
// when absent, from the accumulated input under "urls".
type CheckLinks struct {
	checker domain.LinkChecker
}

// NewCheckLinks returns the factory for the check-links node type.
func NewCheckLinks(checker domain.LinkChecker) workflow.Factory {
	return func() workflow.Strategy {
		return &CheckLinks{checker: checker}
	}
}

// Execute checks every URL. Output data: checked_count, broken_count,
// broken ([]map with url, status_code, reason).
func (n *CheckLinks) Execute(ctx context.Context, input map[string]any, nc *workflow.NodeContext) (*workflow.NodeResult, error) {
	urls := cfgStrings(nc.Config, "urls")
	if len(urls) == 0 {
		urls = cfgStrings(input, "urls")
	}
	if len(urls) == 0 {
		return &workflow.NodeResult{Data: map[string]any{
			"checked_count": 0,
			"broken_count":  0,
			"broken":        []any{},
		}}, nil
	}

	var broken []any
	for _, url := range urls {
		status, err := n.checker.Check(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("op=node.CheckLinks: url %s: %w", url, err)
		}
		if !status.OK {
			broken = append(broken, map[string]any{
				"url":         status.URL,
				"status_code": status.StatusCode,
				"reason":      status.Reason,
			})
		}
	}
	if broken == nil {
		broken = []any{}
	}
	return &workflow.NodeResult{Data: map[string]any{
		"checked_count": len(urls),
		"broken_count":  len(broken),
		"broken":        broken,
	}}, nil
}

// RecordMonitorCompletion stamps the monitor task's last-completed-at.
// It runs as the terminal node of every monitor workflow so the watcher
// loop's cooldown starts from actual completion, not from enqueue.
type RecordMonitorCompletion struct {
	state domain.MonitorState
}

// NewRecordMonitorCompletion returns the factory for
// record-monitor-completion.
func NewRecordMonitorCompletion(state domain.MonitorState) workflow.Factory {
	return func() workflow.Strategy {
		return &RecordMonitorCompletion{state: state}
	}
}

// Execute writes the completion timestamp for the task named by the job
// param task_id.
func (n *RecordMonitorCompletion) Execute(ctx context.Context, _ map[string]any, nc *workflow.NodeContext) (*workflow.NodeResult, error) {
	taskID := cfgString(nc.Params, "task_id", "")
	if taskID == "" {
		return nil, fmt.Errorf("op=node.RecordMonitorCompletion: %w: param \"task_id\" required", domain.ErrInvalidArgument)
	}
	now := time.Now()
	if err := n.state.SetCompletedAt(ctx, taskID, now); err != nil {
		return nil, fmt.Errorf("op=node.RecordMonitorCompletion: %w", err)
	}
	return &workflow.NodeResult{Data: map[string]any{
		"task_id":      taskID,
		"completed_at": now.Format(time.RFC3339),
	}}, nil
}
