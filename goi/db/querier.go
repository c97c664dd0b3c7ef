package db

import (
	"context"

	"github.com/promptlab/promptlab/models"
)

type Querier interface {
	CreateTodoList(ctx context.Context, list TodoList, items []TodoItem) (TodoList, error)
	GetTodoListByID(ctx context.Context, id string) (TodoList, error)
	ListTodoItems(ctx context.Context, listID string) ([]TodoItem, error)
	AppendTodoItems(ctx context.Context, listID string, items []TodoItem) error
	// UpdateTodoItemStatus applies the change and bumps the list version in
	// one transaction, guarded by the expected version.
	UpdateTodoItemStatus(ctx context.Context, arg UpdateTodoItemStatusArgs) error
	UpdateTodoListStatus(ctx context.Context, arg UpdateTodoListStatusArgs) error

	CreateCheckpoint(ctx context.Context, cp Checkpoint) (Checkpoint, error)
	GetCheckpointByID(ctx context.Context, id string) (Checkpoint, error)
	ListCheckpointsBySession(ctx context.Context, sessionID string, statuses []string) ([]Checkpoint, error)
	PageCheckpointsBySession(ctx context.Context, sessionID string, pageable models.Pageable) ([]Checkpoint, int64, error)
	UpdateCheckpointStatus(ctx context.Context, arg UpdateCheckpointStatusArgs) error

	CreateControlTransfer(ctx context.Context, t ControlTransfer) error
	ListControlTransfers(ctx context.Context, sessionID string) ([]ControlTransfer, error)

	UpsertUnderstanding(ctx context.Context, u Understanding) error
	GetUnderstanding(ctx context.Context, sessionID string) (Understanding, error)
}

type UpdateTodoItemStatusArgs struct {
	ListID          string
	ItemID          string
	Status          string
	RetryCount      *int
	ExpectedVersion int64
}

type UpdateTodoListStatusArgs struct {
	ListID          string
	Status          string
	ExpectedVersion int64
}

type UpdateCheckpointStatusArgs struct {
	ID         string
	Status     string
	Response   string
	ResolvedAt int64
}

var _ Querier = (*Queries)(nil)
