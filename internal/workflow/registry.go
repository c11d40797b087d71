package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// NodeContext carries everything a strategy may need for one node execution.
// Dependencies shared across jobs (scrapers, repositories, notifiers) are
// closed over by the strategy factory instead.
type NodeContext struct {
	JobID      string
	WorkflowID string
	NodeID     string
	Platform   string

	// Config is the node config after ${var} substitution.
	Config map[string]any
	// Params are the job params, passed through untouched.
	Params map[string]any
	// PlatformConfig is the static per-platform configuration block.
	PlatformConfig map[string]any

	// Shared is the per-job side-band state; cleared by the engine on every
	// exit path.
	Shared *JobState

	// Queue allows strategies to enqueue continuation jobs.
	Queue domain.JobQueue

	Logger *slog.Logger
}

// NodeResult is the typed outcome of a node execution.
type NodeResult struct {
	// Data is merged into the job's accumulated output.
	Data map[string]any
	// NextNodes, when non-nil, overrides the node's static successors.
	NextNodes []string
}

// Strategy executes one node. Input is the accumulated output of all
// previously executed nodes plus the job params and timing metadata.
type Strategy interface {
	Execute(ctx context.Context, input map[string]any, nc *NodeContext) (*NodeResult, error)
}

// StrategyFunc adapts a plain function to a Strategy; used for legacy nodes
// with untyped config and result.
type StrategyFunc func(ctx context.Context, input map[string]any, nc *NodeContext) (*NodeResult, error)

// Execute implements Strategy.
func (f StrategyFunc) Execute(ctx context.Context, input map[string]any, nc *NodeContext) (*NodeResult, error) {
	return f(ctx, input, nc)
}

// Factory returns a fresh strategy instance per node execution.
type Factory func() Strategy

// Registry maps node type to a strategy factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a node type to a factory. Re-registering a type replaces
// the previous factory.
func (r *Registry) Register(nodeType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[nodeType] = f
}

// Create instantiates a strategy for nodeType.
func (r *Registry) Create(nodeType string) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("op=workflow.Registry.Create: node type %q: %w", nodeType, domain.ErrNotFound)
	}
	return f(), nil
}

// Types returns the registered node types, for admin introspection.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}
