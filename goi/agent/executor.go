package agent

import (
	"context"
	"time"

	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/goi/todo"
)

// StepRequest is everything an executor gets for one attempt at one item.
type StepRequest struct {
	SessionID string
	ListID    string
	Item      todo.TodoItem
	Attempt   int
	ModelID   string
	// Resolution is set when the step re-runs after a checkpoint resolved
	// with approve or modify; modifications ride along in it.
	Resolution *checkpoint.Response
}

type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailure    Outcome = "failure"
	OutcomeCheckpoint Outcome = "checkpoint"
)

// CheckpointSpec asks the loop to suspend and get human confirmation before
// the step's action is carried out.
type CheckpointSpec struct {
	Reason  string
	Preview map[string]any
	Options []checkpoint.Option
	TTL     time.Duration
}

// StepResult classifies what happened. On failure, Skippable decides whether
// the loop may skip the item and continue once retries are exhausted;
// otherwise the failure is fatal to the loop.
type StepResult struct {
	Outcome    Outcome
	Message    string
	Skippable  bool
	Checkpoint *CheckpointSpec
}

// StepExecutor performs the actual unit of work. Model invocation, prompt
// templating and scoring all live behind this interface. The executor is
// responsible for its own timeouts: a step that never returns stalls the loop.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, req StepRequest) (StepResult, error)
}

// StepFunc adapts a function to StepExecutor.
type StepFunc func(ctx context.Context, req StepRequest) (StepResult, error)

func (f StepFunc) ExecuteStep(ctx context.Context, req StepRequest) (StepResult, error) {
	return f(ctx, req)
}
