package todo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/promptlab/promptlab/goi/db"
	"github.com/promptlab/promptlab/pkg/resp"
	"github.com/promptlab/promptlab/pkg/util"
)

// DBStore persists lists through the GOI database layer. Transitions are
// validated against the freshly loaded row, and the list version guard makes
// the read-validate-write atomic.
type DBStore struct {
	q db.Querier
}

func NewDBStore(q db.Querier) *DBStore {
	return &DBStore{q: q}
}

func (s *DBStore) CreateList(ctx context.Context, args CreateListArgs) (TodoList, error) {
	if args.Goal == "" {
		return TodoList{}, resp.Validationf("todo list goal is required")
	}
	id := args.ID
	if id == "" {
		id = uuid.New().String()
	}
	row := db.TodoList{
		Goal:           args.Goal,
		Status:         string(ListStatusActive),
		CurrentVersion: 1,
	}
	row.ID = id
	row.CreatedBy = args.CreatedBy
	var itemRows []db.TodoItem
	for i, item := range args.Items {
		itemRows = append(itemRows, newItemRow(id, item, i))
	}
	if _, err := s.q.CreateTodoList(ctx, row, itemRows); err != nil {
		return TodoList{}, resp.Internalf("create todo list: %v", err)
	}
	return s.GetList(ctx, id)
}

func (s *DBStore) GetList(ctx context.Context, listID string) (TodoList, error) {
	row, err := s.q.GetTodoListByID(ctx, listID)
	if err == gorm.ErrRecordNotFound {
		return TodoList{}, resp.NotFoundf("todo list %s not found", listID)
	}
	if err != nil {
		return TodoList{}, resp.Internalf("get todo list: %v", err)
	}
	items, err := s.q.ListTodoItems(ctx, listID)
	if err != nil {
		return TodoList{}, resp.Internalf("list todo items: %v", err)
	}
	return fromListRow(row, items), nil
}

func (s *DBStore) AppendItems(ctx context.Context, listID string, items []NewItem) (TodoList, error) {
	list, err := s.GetList(ctx, listID)
	if err != nil {
		return TodoList{}, err
	}
	if list.Status.Terminal() {
		return TodoList{}, resp.InvalidStatef(string(list.Status), "cannot append items to a terminal todo list")
	}
	base := len(list.Items)
	var rows []db.TodoItem
	for i, item := range items {
		rows = append(rows, newItemRow(listID, item, base+i))
	}
	if err := s.q.AppendTodoItems(ctx, listID, rows); err != nil {
		return TodoList{}, resp.Internalf("append todo items: %v", err)
	}
	return s.GetList(ctx, listID)
}

func (s *DBStore) TransitionItem(ctx context.Context, listID, itemID string, to ItemStatus) (TodoItem, error) {
	return s.mutateItem(ctx, listID, itemID, func(item TodoItem) error {
		return ValidateItemTransition(itemID, item.Status, to)
	}, func(item TodoItem) db.UpdateTodoItemStatusArgs {
		return db.UpdateTodoItemStatusArgs{ListID: listID, ItemID: itemID, Status: string(to)}
	})
}

func (s *DBStore) RetryItem(ctx context.Context, listID, itemID string) (TodoItem, error) {
	return s.mutateItem(ctx, listID, itemID, func(item TodoItem) error {
		if item.Status != ItemStatusFailed {
			return resp.InvalidTransitionf(string(item.Status), "todo item %s can only be retried from failed", itemID)
		}
		return nil
	}, func(item TodoItem) db.UpdateTodoItemStatusArgs {
		return db.UpdateTodoItemStatusArgs{ListID: listID, ItemID: itemID, Status: string(ItemStatusPending)}
	})
}

func (s *DBStore) IncrementRetry(ctx context.Context, listID, itemID string) (TodoItem, error) {
	return s.mutateItem(ctx, listID, itemID, func(item TodoItem) error {
		if item.Status != ItemStatusInProgress {
			return resp.InvalidStatef(string(item.Status), "todo item %s is not in progress", itemID)
		}
		return nil
	}, func(item TodoItem) db.UpdateTodoItemStatusArgs {
		next := item.RetryCount + 1
		return db.UpdateTodoItemStatusArgs{
			ListID: listID, ItemID: itemID,
			Status: string(item.Status), RetryCount: &next,
		}
	})
}

func (s *DBStore) TransitionList(ctx context.Context, listID string, to ListStatus) (TodoList, error) {
	list, err := s.GetList(ctx, listID)
	if err != nil {
		return TodoList{}, err
	}
	if err := ValidateListTransition(listID, list.Status, to); err != nil {
		return TodoList{}, err
	}
	err = s.q.UpdateTodoListStatus(ctx, db.UpdateTodoListStatusArgs{
		ListID:          listID,
		Status:          string(to),
		ExpectedVersion: list.CurrentVersion,
	})
	if err != nil {
		return TodoList{}, resp.Internalf("update todo list status: %v", err)
	}
	return s.GetList(ctx, listID)
}

func (s *DBStore) mutateItem(ctx context.Context, listID, itemID string, validate func(TodoItem) error, build func(TodoItem) db.UpdateTodoItemStatusArgs) (TodoItem, error) {
	list, err := s.GetList(ctx, listID)
	if err != nil {
		return TodoItem{}, err
	}
	for _, item := range list.Items {
		if item.ID != itemID {
			continue
		}
		if err := validate(item); err != nil {
			return TodoItem{}, err
		}
		args := build(item)
		args.ExpectedVersion = list.CurrentVersion
		if err := s.q.UpdateTodoItemStatus(ctx, args); err != nil {
			return TodoItem{}, resp.Internalf("update todo item: %v", err)
		}
		updated, err := s.GetList(ctx, listID)
		if err != nil {
			return TodoItem{}, err
		}
		for _, u := range updated.Items {
			if u.ID == itemID {
				return u, nil
			}
		}
		return TodoItem{}, resp.NotFoundf("todo item %s not found in list %s", itemID, listID)
	}
	return TodoItem{}, resp.NotFoundf("todo item %s not found in list %s", itemID, listID)
}

func newItemRow(listID string, item NewItem, order int) db.TodoItem {
	row := db.TodoItem{
		ListID:      listID,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Status:      string(ItemStatusPending),
		OrderIndex:  order,
	}
	row.ID = util.GenerateShortID()
	return row
}

func fromListRow(row db.TodoList, items []db.TodoItem) TodoList {
	list := TodoList{
		ID:             row.ID,
		Goal:           row.Goal,
		Status:         ListStatus(row.Status),
		CurrentVersion: row.CurrentVersion,
		CreatedBy:      row.CreatedBy,
		CreatedAt:      derefTime(row.CreatedAt),
		UpdatedAt:      derefTime(row.UpdatedAt),
	}
	for _, item := range items {
		list.Items = append(list.Items, TodoItem{
			ID:          item.ID,
			ListID:      item.ListID,
			Title:       item.Title,
			Description: item.Description,
			Category:    item.Category,
			Status:      ItemStatus(item.Status),
			RetryCount:  item.RetryCount,
			OrderIndex:  item.OrderIndex,
			CreatedAt:   derefTime(item.CreatedAt),
			UpdatedAt:   derefTime(item.UpdatedAt),
		})
	}
	return list
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

var _ Store = (*DBStore)(nil)
var _ Store = (*MemoryStore)(nil)
