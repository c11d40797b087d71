// Package workflow contains the DAG definition loader, the node strategy
// registry, and the engine that executes one job to completion.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// RetryPolicy bounds node re-execution. Backoff is linear: attempt n sleeps
// n * BackoffMS before retrying.
type RetryPolicy struct {
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`
	BackoffMS   int `yaml:"backoff_ms" validate:"min=0"`
}

// NodeDef is one step of a workflow.
type NodeDef struct {
	Type      string         `yaml:"type" validate:"required"`
	Config    map[string]any `yaml:"config"`
	NextNodes []string       `yaml:"next_nodes"`
	Retry     *RetryPolicy   `yaml:"retry"`
}

// Definition is a workflow DAG keyed by node id.
type Definition struct {
	WorkflowID string             `yaml:"workflow_id" validate:"required"`
	StartNode  string             `yaml:"start_node" validate:"required"`
	Nodes      map[string]NodeDef `yaml:"nodes" validate:"required,min=1"`
}

// Validate checks structural invariants: the start node exists, every edge
// points at a defined node, and the graph is acyclic.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("op=workflow.Definition.Validate: %w: %w", domain.ErrInvalidArgument, err)
	}
	if _, ok := d.Nodes[d.StartNode]; !ok {
		return fmt.Errorf("op=workflow.Definition.Validate: %w: start_node %q not defined", domain.ErrInvalidArgument, d.StartNode)
	}
	for id, node := range d.Nodes {
		for _, next := range node.NextNodes {
			if _, ok := d.Nodes[next]; !ok {
				return fmt.Errorf("op=workflow.Definition.Validate: %w: node %q references undefined node %q", domain.ErrInvalidArgument, id, next)
			}
		}
	}
	if cycle := d.findCycle(); cycle != "" {
		return fmt.Errorf("op=workflow.Definition.Validate: %w: cycle through node %q", domain.ErrInvalidArgument, cycle)
	}
	return nil
}

// findCycle runs a coloring DFS over the static edges; returns a node on a
// cycle or empty when the graph is a DAG.
func (d *Definition) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.Nodes))
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, next := range d.Nodes[id].NextNodes {
			switch color[next] {
			case gray:
				return next
			case white:
				if c := visit(next); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}
	for id := range d.Nodes {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}

// Predecessors builds the reverse edge map used by the engine to decide
// which pending nodes are executable.
func (d *Definition) Predecessors() map[string][]string {
	preds := make(map[string][]string, len(d.Nodes))
	for id, node := range d.Nodes {
		for _, next := range node.NextNodes {
			preds[next] = append(preds[next], id)
		}
	}
	return preds
}

var validate = validator.New()

// Loader loads workflow definitions from YAML files with caching.
// Definitions are immutable once loaded; a process restart picks up edits.
type Loader struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*Definition
}

// NewLoader returns a Loader reading {dir}/{workflow-id}.yaml.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]*Definition)}
}

// Load returns the validated definition for workflowID, from cache when
// available.
func (l *Loader) Load(workflowID string) (*Definition, error) {
	l.mu.RLock()
	def, ok := l.cache[workflowID]
	l.mu.RUnlock()
	if ok {
		return def, nil
	}

	path := filepath.Join(l.dir, workflowID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("op=workflow.Loader.Load: workflow %q: %w", workflowID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=workflow.Loader.Load: %w", err)
	}
	def = &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("op=workflow.Loader.Load: %w", err)
	}
	if def.WorkflowID == "" {
		def.WorkflowID = workflowID
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[workflowID] = def
	l.mu.Unlock()
	return def, nil
}

// Put registers a definition directly, bypassing disk. Used by tests and by
// embedded defaults.
func (l *Loader) Put(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cache[def.WorkflowID] = def
	l.mu.Unlock()
	return nil
}
