package todo

import "context"

// Store is durable storage for TODO lists. Implementations serialize all
// mutation per list, so transition validation and the version bump are atomic.
type Store interface {
	CreateList(ctx context.Context, args CreateListArgs) (TodoList, error)
	GetList(ctx context.Context, listID string) (TodoList, error)
	AppendItems(ctx context.Context, listID string, items []NewItem) (TodoList, error)
	// TransitionItem applies one validated status move and bumps the list
	// version. A rejected transition leaves stored state untouched.
	TransitionItem(ctx context.Context, listID, itemID string, to ItemStatus) (TodoItem, error)
	// RetryItem is the only door for FAILED→PENDING; it resets nothing but
	// the status, keeping RetryCount as history.
	RetryItem(ctx context.Context, listID, itemID string) (TodoItem, error)
	// IncrementRetry bumps the retry counter of an in-progress item.
	IncrementRetry(ctx context.Context, listID, itemID string) (TodoItem, error)
	TransitionList(ctx context.Context, listID string, to ListStatus) (TodoList, error)
}
