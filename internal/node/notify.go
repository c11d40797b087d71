package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/workflow"
)

// NotifySlack delivers monitor findings through the injected notifier.
// Notifier failures are logged and swallowed; a broken webhook must never
// fail a monitor job.
type NotifySlack struct {
	notifier domain.Notifier
}

// NewNotifySlack returns the factory for the notify-slack node type.
func NewNotifySlack(notifier domain.Notifier) workflow.Factory {
	return func() workflow.Strategy {
		return &NotifySlack{notifier: notifier}
	}
}

// Execute sends a message when the input carries broken links, or always
// when config always=true. Output data: notified (bool).
func (n *NotifySlack) Execute(ctx context.Context, input map[string]any, nc *workflow.NodeContext) (*workflow.NodeResult, error) {
	always := cfgBool(nc.Config, "always", false)
	brokenCount := cfgInt(input, "broken_count", 0)
	if !always && brokenCount == 0 {
		return &workflow.NodeResult{Data: map[string]any{"notified": false}}, nil
	}

	title := cfgString(nc.Config, "title", fmt.Sprintf("[%s] monitor report", cfgString(nc.Params, "task_name", nc.WorkflowID)))
	message := fmt.Sprintf("checked=%d broken=%d", cfgInt(input, "checked_count", 0), brokenCount)
	if broken, ok := input["broken"].([]any); ok {
		for _, b := range broken {
			if row, ok := b.(map[string]any); ok {
				message += fmt.Sprintf("\n- %v (%v)", row["url"], row["reason"])
			}
		}
	}

	if n.notifier != nil {
		if err := n.notifier.Notify(ctx, title, message); err != nil {
			nc.Logger.Error("notify failed", slog.Any("error", err))
			return &workflow.NodeResult{Data: map[string]any{"notified": false}}, nil
		}
	}
	return &workflow.NodeResult{Data: map[string]any{"notified": true}}, nil
}
