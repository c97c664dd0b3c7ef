package todo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptlab/promptlab/goi/csync"
	"github.com/promptlab/promptlab/pkg/resp"
	"github.com/promptlab/promptlab/pkg/util"
)

// MemoryStore keeps lists in process memory. It backs tests and single-node
// deployments that run without a database.
type MemoryStore struct {
	lists *csync.Map[string, *listEntry]
}

type listEntry struct {
	mu   sync.Mutex
	list TodoList
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists: csync.NewMap[string, *listEntry](),
	}
}

func (s *MemoryStore) CreateList(ctx context.Context, args CreateListArgs) (TodoList, error) {
	if args.Goal == "" {
		return TodoList{}, resp.Validationf("todo list goal is required")
	}
	id := args.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	list := TodoList{
		ID:             id,
		Goal:           args.Goal,
		Status:         ListStatusActive,
		CurrentVersion: 1,
		CreatedBy:      args.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, item := range args.Items {
		list.Items = append(list.Items, newItem(id, item, i, now))
	}
	entry := &listEntry{list: list}
	if _, loaded := s.lists.GetOrSet(id, entry); loaded {
		return TodoList{}, resp.Conflictf("", "todo list %s already exists", id)
	}
	return cloneList(list), nil
}

func (s *MemoryStore) GetList(ctx context.Context, listID string) (TodoList, error) {
	entry, ok := s.lists.Get(listID)
	if !ok {
		return TodoList{}, resp.NotFoundf("todo list %s not found", listID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneList(entry.list), nil
}

func (s *MemoryStore) AppendItems(ctx context.Context, listID string, items []NewItem) (TodoList, error) {
	entry, ok := s.lists.Get(listID)
	if !ok {
		return TodoList{}, resp.NotFoundf("todo list %s not found", listID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.list.Status.Terminal() {
		return TodoList{}, resp.InvalidStatef(string(entry.list.Status), "cannot append items to a terminal todo list")
	}
	now := time.Now()
	base := len(entry.list.Items)
	for i, item := range items {
		entry.list.Items = append(entry.list.Items, newItem(listID, item, base+i, now))
	}
	entry.list.CurrentVersion++
	entry.list.UpdatedAt = now
	return cloneList(entry.list), nil
}

func (s *MemoryStore) TransitionItem(ctx context.Context, listID, itemID string, to ItemStatus) (TodoItem, error) {
	return s.mutateItem(listID, itemID, func(item *TodoItem) error {
		return ValidateItemTransition(itemID, item.Status, to)
	}, func(item *TodoItem) {
		item.Status = to
	})
}

func (s *MemoryStore) RetryItem(ctx context.Context, listID, itemID string) (TodoItem, error) {
	return s.mutateItem(listID, itemID, func(item *TodoItem) error {
		if item.Status != ItemStatusFailed {
			return resp.InvalidTransitionf(string(item.Status), "todo item %s can only be retried from failed", itemID)
		}
		return nil
	}, func(item *TodoItem) {
		item.Status = ItemStatusPending
	})
}

func (s *MemoryStore) IncrementRetry(ctx context.Context, listID, itemID string) (TodoItem, error) {
	return s.mutateItem(listID, itemID, func(item *TodoItem) error {
		if item.Status != ItemStatusInProgress {
			return resp.InvalidStatef(string(item.Status), "todo item %s is not in progress", itemID)
		}
		return nil
	}, func(item *TodoItem) {
		item.RetryCount++
	})
}

func (s *MemoryStore) TransitionList(ctx context.Context, listID string, to ListStatus) (TodoList, error) {
	entry, ok := s.lists.Get(listID)
	if !ok {
		return TodoList{}, resp.NotFoundf("todo list %s not found", listID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ValidateListTransition(listID, entry.list.Status, to); err != nil {
		return TodoList{}, err
	}
	entry.list.Status = to
	entry.list.CurrentVersion++
	entry.list.UpdatedAt = time.Now()
	return cloneList(entry.list), nil
}

func (s *MemoryStore) mutateItem(listID, itemID string, validate func(*TodoItem) error, apply func(*TodoItem)) (TodoItem, error) {
	entry, ok := s.lists.Get(listID)
	if !ok {
		return TodoItem{}, resp.NotFoundf("todo list %s not found", listID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for i := range entry.list.Items {
		item := &entry.list.Items[i]
		if item.ID != itemID {
			continue
		}
		if err := validate(item); err != nil {
			return TodoItem{}, err
		}
		apply(item)
		item.UpdatedAt = time.Now()
		entry.list.CurrentVersion++
		entry.list.UpdatedAt = item.UpdatedAt
		return *item, nil
	}
	return TodoItem{}, resp.NotFoundf("todo item %s not found in list %s", itemID, listID)
}

func newItem(listID string, item NewItem, order int, now time.Time) TodoItem {
	return TodoItem{
		ID:          util.GenerateShortID(),
		ListID:      listID,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Status:      ItemStatusPending,
		OrderIndex:  order,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func cloneList(list TodoList) TodoList {
	out := list
	out.Items = make([]TodoItem, len(list.Items))
	copy(out.Items, list.Items)
	return out
}
