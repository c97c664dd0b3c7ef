package main

import (
	"context"
	"fmt"

	"github.com/promptlab/promptlab/goi/agent"
	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/pkg/logs"
)

// guardedCategories are item categories whose steps never run without a
// human answer first.
var guardedCategories = map[string]bool{
	"deploy":      true,
	"destructive": true,
	"external":    true,
}

// defaultExecutor is the built-in step runner. It acknowledges plain items
// and gates guarded ones behind a checkpoint. Real deployments swap in an
// executor that talks to their model runtime via ManagerOptions.Executor.
func defaultExecutor() agent.StepExecutor {
	return agent.StepFunc(func(ctx context.Context, req agent.StepRequest) (agent.StepResult, error) {
		if guardedCategories[req.Item.Category] && req.Resolution == nil {
			return agent.StepResult{
				Outcome: agent.OutcomeCheckpoint,
				Checkpoint: &agent.CheckpointSpec{
					Reason: fmt.Sprintf("item %q is a %s action and needs confirmation", req.Item.Title, req.Item.Category),
					Preview: map[string]any{
						"title":       req.Item.Title,
						"description": req.Item.Description,
						"category":    req.Item.Category,
					},
					Options: []checkpoint.Option{
						{ID: "proceed", Label: "Proceed", Recommended: true},
						{ID: "abort", Label: "Abort"},
					},
				},
			}, nil
		}
		logs.CtxInfof(ctx, "session %s: executed %q (attempt %d)", req.SessionID, req.Item.Title, req.Attempt)
		return agent.StepResult{Outcome: agent.OutcomeSuccess}, nil
	})
}
