package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// KillCheck reports whether the current job should be abandoned at the next
// node boundary. The worker wires this to the platform kill flag.
type KillCheck func(ctx context.Context) bool

// Engine executes one job to completion: it walks the DAG level by level,
// runs same-level nodes concurrently, applies per-node retry policy, merges
// outputs into the accumulated map, and persists progress on the job record.
type Engine struct {
	queue    domain.JobQueue
	loader   *Loader
	registry *Registry
	shared   *SharedState

	// platformConfigs holds the static per-platform blocks handed to nodes.
	platformConfigs map[string]map[string]any

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewEngine constructs an Engine. platformConfigs may be nil.
func NewEngine(queue domain.JobQueue, loader *Loader, registry *Registry, shared *SharedState, platformConfigs map[string]map[string]any) *Engine {
	return &Engine{
		queue:           queue,
		loader:          loader,
		registry:        registry,
		shared:          shared,
		platformConfigs: platformConfigs,
		sleep:           time.Sleep,
	}
}

// nodeOutcome is one node's completion, collected in completion order.
type nodeOutcome struct {
	nodeID string
	result *NodeResult
	err    error
}

// Run executes the job's workflow. The job must already be marked running by
// the caller. On return the job record holds the terminal state; the shared
// state entry for the job is discarded on every exit path.
func (e *Engine) Run(ctx context.Context, job *domain.Job, logger *slog.Logger, kill KillCheck) error {
	defer e.shared.Discard(job.ID)

	def, err := e.loader.Load(job.WorkflowID)
	if err != nil {
		e.failJob(ctx, job, "", fmt.Sprintf("workflow definition: %v", err), logger)
		return err
	}

	preds := def.Predecessors()
	executed := make(map[string]bool, len(def.Nodes))
	var pending []string

	if job.CurrentNode != "" {
		// Resume: the continuation job starts from its recorded node with all
		// ancestors considered done, so re-running is indistinguishable from a
		// fresh run that reached this node.
		pending = []string{job.CurrentNode}
		markAncestorsExecuted(job.CurrentNode, preds, executed)
	} else {
		// The start node may carry incoming edges (a loop-back target, for
		// example); a fresh run owes it no predecessors.
		pending = []string{def.StartNode}
		markAncestorsExecuted(def.StartNode, preds, executed)
	}

	js := e.shared.ForJob(job.ID)
	js.Set("job_params", job.Params)
	if job.StartedAt != nil {
		js.Set("job_started_at", job.StartedAt.Format(time.RFC3339))
	}

	accumulated := make(map[string]any)
	for k, v := range job.Params {
		accumulated[k] = v
	}
	accumulated["job_id"] = job.ID
	if job.StartedAt != nil {
		accumulated["job_started_at"] = job.StartedAt.Format(time.RFC3339)
	}
	for k, v := range job.Result {
		// Continuation jobs carry forward accumulated output from the prior run.
		accumulated[k] = v
	}

	for len(pending) > 0 {
		if kill != nil && kill(ctx) {
			e.failJob(ctx, job, job.CurrentNode, "worker restart requested", logger)
			return domain.ErrKilled
		}

		executable := executableNodes(pending, preds, executed)
		if len(executable) == 0 {
			e.failJob(ctx, job, "", fmt.Sprintf("deadlock: %d nodes pending, none executable", len(pending)), logger)
			return fmt.Errorf("op=workflow.Engine.Run: %w: pending=%v", domain.ErrDeadlock, pending)
		}

		job.CurrentNode = executable[0]
		if err := e.queue.Update(ctx, *job); err != nil {
			logger.Warn("persist current node failed", slog.Any("error", err))
		}

		outcomes := e.executeLevel(ctx, executable, def, job, accumulated, js, logger)

		var nextSet []string
		for _, out := range outcomes {
			if out.err != nil {
				e.failJob(ctx, job, out.nodeID, out.err.Error(), logger)
				return fmt.Errorf("op=workflow.Engine.Run: node %s: %w", out.nodeID, out.err)
			}
			// Merge in completion order; last writer wins on key collisions.
			for k, v := range out.result.Data {
				accumulated[k] = v
			}
			executed[out.nodeID] = true
			next := out.result.NextNodes
			if next == nil {
				next = def.Nodes[out.nodeID].NextNodes
			}
			nextSet = append(nextSet, next...)
		}

		pending = removeExecuted(pending, executed)
		for _, n := range nextSet {
			if !executed[n] && !containsString(pending, n) {
				pending = append(pending, n)
			}
		}

		job.Progress = float64(len(executed)) / float64(len(def.Nodes))
		if err := e.queue.Update(ctx, *job); err != nil {
			logger.Warn("persist progress failed", slog.Any("error", err))
		}
	}

	now := time.Now()
	job.Status = domain.JobCompleted
	job.Progress = 1
	job.Result = accumulated
	job.CurrentNode = ""
	job.CompletedAt = &now
	if err := e.queue.Update(ctx, *job); err != nil {
		return fmt.Errorf("op=workflow.Engine.Run: %w", err)
	}
	return nil
}

// executeLevel runs the executable set: a single node inline, several nodes
// concurrently. Outcomes are returned in completion order.
func (e *Engine) executeLevel(ctx context.Context, executable []string, def *Definition, job *domain.Job, accumulated map[string]any, js *JobState, logger *slog.Logger) []nodeOutcome {
	input := make(map[string]any, len(accumulated))
	for k, v := range accumulated {
		input[k] = v
	}

	if len(executable) == 1 {
		res, err := e.executeNode(ctx, executable[0], def, job, input, js, logger)
		return []nodeOutcome{{nodeID: executable[0], result: res, err: err}}
	}

	ch := make(chan nodeOutcome, len(executable))
	for _, nodeID := range executable {
		go func(id string) {
			res, err := e.executeNode(ctx, id, def, job, input, js, logger)
			ch <- nodeOutcome{nodeID: id, result: res, err: err}
		}(nodeID)
	}
	outcomes := make([]nodeOutcome, 0, len(executable))
	for range executable {
		outcomes = append(outcomes, <-ch)
	}
	// Report the first failure; any failed node fails the whole level.
	for i, out := range outcomes {
		if out.err != nil {
			return append([]nodeOutcome{out}, append(outcomes[:i:i], outcomes[i+1:]...)...)
		}
	}
	return outcomes
}

// executeNode resolves the node config, builds the node context, and runs
// the strategy under the node's retry policy.
func (e *Engine) executeNode(ctx context.Context, nodeID string, def *Definition, job *domain.Job, input map[string]any, js *JobState, logger *slog.Logger) (*NodeResult, error) {
	node := def.Nodes[nodeID]
	strategy, err := e.registry.Create(node.Type)
	if err != nil {
		return nil, err
	}

	nc := &NodeContext{
		JobID:          job.ID,
		WorkflowID:     job.WorkflowID,
		NodeID:         nodeID,
		Platform:       job.Platform,
		Config:         ResolveVariables(node.Config, job.Params),
		Params:         job.Params,
		PlatformConfig: e.platformConfigs[job.Platform],
		Shared:         js,
		Queue:          e.queue,
		Logger: logger.With(
			slog.String("node_id", nodeID),
			slog.String("node_type", node.Type),
		),
	}

	maxAttempts := 1
	backoffMS := 0
	if node.Retry != nil {
		maxAttempts = node.Retry.MaxAttempts
		backoffMS = node.Retry.BackoffMS
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		res, err := strategy.Execute(ctx, input, nc)
		observability.ObserveNode(node.Type, err == nil, time.Since(start))
		if err == nil {
			if res == nil {
				res = &NodeResult{}
			}
			if res.Data == nil {
				res.Data = map[string]any{}
			}
			return res, nil
		}
		lastErr = err
		nc.Logger.Warn("node attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Any("error", err))
		if attempt < maxAttempts {
			e.sleep(time.Duration(attempt*backoffMS) * time.Millisecond)
		}
	}
	return nil, lastErr
}

func (e *Engine) failJob(ctx context.Context, job *domain.Job, nodeID, message string, logger *slog.Logger) {
	now := time.Now()
	job.Status = domain.JobFailed
	job.Error = &domain.JobError{Message: message, NodeID: nodeID, Timestamp: now}
	job.CompletedAt = &now
	if err := e.queue.Update(ctx, *job); err != nil {
		logger.Error("persist failed job", slog.Any("error", err))
	}
}

// markAncestorsExecuted marks every transitive predecessor of node as done.
func markAncestorsExecuted(node string, preds map[string][]string, executed map[string]bool) {
	for _, p := range preds[node] {
		if !executed[p] {
			executed[p] = true
			markAncestorsExecuted(p, preds, executed)
		}
	}
}

func executableNodes(pending []string, preds map[string][]string, executed map[string]bool) []string {
	var out []string
	for _, n := range pending {
		ready := true
		for _, p := range preds[n] {
			if !executed[p] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, n)
		}
	}
	return out
}

func removeExecuted(pending []string, executed map[string]bool) []string {
	out := pending[:0]
	for _, n := range pending {
		if !executed[n] {
			out = append(out, n)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
