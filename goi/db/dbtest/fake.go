// Package dbtest provides an in-memory Querier for package tests that need
// persistence semantics without a MySQL instance.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/promptlab/promptlab/goi/db"
	"github.com/promptlab/promptlab/models"
)

// Fake keeps every row in maps guarded by one mutex. Two stores built over
// the same Fake see each other's writes, which is how tests simulate a
// process restart.
type Fake struct {
	mu            sync.Mutex
	lists         map[string]db.TodoList
	items         map[string][]db.TodoItem
	checkpoints   map[string]db.Checkpoint
	transfers     map[string][]db.ControlTransfer
	understanding map[string]db.Understanding
}

var _ db.Querier = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		lists:         make(map[string]db.TodoList),
		items:         make(map[string][]db.TodoItem),
		checkpoints:   make(map[string]db.Checkpoint),
		transfers:     make(map[string][]db.ControlTransfer),
		understanding: make(map[string]db.Understanding),
	}
}

func stamp(id *string, created **time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if *created == nil {
		now := time.Now()
		*created = &now
	}
}

func (f *Fake) CreateTodoList(ctx context.Context, list db.TodoList, items []db.TodoItem) (db.TodoList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stamp(&list.ID, &list.CreatedAt)
	f.lists[list.ID] = list
	for i := range items {
		stamp(&items[i].ID, &items[i].CreatedAt)
	}
	f.items[list.ID] = append(f.items[list.ID], items...)
	return list, nil
}

func (f *Fake) GetTodoListByID(ctx context.Context, id string) (db.TodoList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, ok := f.lists[id]
	if !ok {
		return db.TodoList{}, gorm.ErrRecordNotFound
	}
	return list, nil
}

func (f *Fake) ListTodoItems(ctx context.Context, listID string) ([]db.TodoItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := append([]db.TodoItem(nil), f.items[listID]...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].OrderIndex < items[j].OrderIndex })
	return items, nil
}

func (f *Fake) AppendTodoItems(ctx context.Context, listID string, items []db.TodoItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range items {
		stamp(&items[i].ID, &items[i].CreatedAt)
	}
	f.items[listID] = append(f.items[listID], items...)
	return f.bumpVersion(listID, 0)
}

func (f *Fake) UpdateTodoItemStatus(ctx context.Context, arg db.UpdateTodoItemStatusArgs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.items[arg.ListID]
	for i := range items {
		if items[i].ID == arg.ItemID {
			items[i].Status = arg.Status
			if arg.RetryCount != nil {
				items[i].RetryCount = *arg.RetryCount
			}
			return f.bumpVersion(arg.ListID, arg.ExpectedVersion)
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *Fake) UpdateTodoListStatus(ctx context.Context, arg db.UpdateTodoListStatusArgs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, ok := f.lists[arg.ListID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	list.Status = arg.Status
	f.lists[arg.ListID] = list
	return f.bumpVersion(arg.ListID, arg.ExpectedVersion)
}

// bumpVersion mirrors the guarded SQL update: callers already hold f.mu.
func (f *Fake) bumpVersion(listID string, expected int64) error {
	list, ok := f.lists[listID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if expected > 0 && list.CurrentVersion != expected {
		return errVersionConflict
	}
	list.CurrentVersion++
	f.lists[listID] = list
	return nil
}

func (f *Fake) CreateCheckpoint(ctx context.Context, cp db.Checkpoint) (db.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stamp(&cp.ID, &cp.CreatedAt)
	f.checkpoints[cp.ID] = cp
	return cp, nil
}

func (f *Fake) GetCheckpointByID(ctx context.Context, id string) (db.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.checkpoints[id]
	if !ok {
		return db.Checkpoint{}, gorm.ErrRecordNotFound
	}
	return cp, nil
}

func (f *Fake) ListCheckpointsBySession(ctx context.Context, sessionID string, statuses []string) ([]db.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Checkpoint
	for _, cp := range f.checkpoints {
		if cp.SessionID != sessionID {
			continue
		}
		if len(statuses) > 0 && !contains(statuses, cp.Status) {
			continue
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(*out[j].CreatedAt)
	})
	return out, nil
}

func (f *Fake) PageCheckpointsBySession(ctx context.Context, sessionID string, pageable models.Pageable) ([]db.Checkpoint, int64, error) {
	all, err := f.ListCheckpointsBySession(ctx, sessionID, nil)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(all))
	if pageable.PageNo <= 0 {
		pageable.PageNo = 1
	}
	if pageable.PageSize <= 0 {
		pageable.PageSize = 10
	}
	start := (pageable.PageNo - 1) * pageable.PageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageable.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (f *Fake) UpdateCheckpointStatus(ctx context.Context, arg db.UpdateCheckpointStatusArgs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.checkpoints[arg.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	cp.Status = arg.Status
	cp.Response = arg.Response
	cp.ResolvedAt = arg.ResolvedAt
	f.checkpoints[arg.ID] = cp
	return nil
}

func (f *Fake) CreateControlTransfer(ctx context.Context, t db.ControlTransfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stamp(&t.ID, &t.CreatedAt)
	f.transfers[t.SessionID] = append(f.transfers[t.SessionID], t)
	return nil
}

func (f *Fake) ListControlTransfers(ctx context.Context, sessionID string) ([]db.ControlTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]db.ControlTransfer(nil), f.transfers[sessionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TransferredAt < out[j].TransferredAt })
	return out, nil
}

func (f *Fake) UpsertUnderstanding(ctx context.Context, u db.Understanding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.understanding[u.SessionID]; ok {
		u.ID = prev.ID
		u.CreatedAt = prev.CreatedAt
	}
	stamp(&u.ID, &u.CreatedAt)
	now := time.Now()
	u.UpdatedAt = &now
	f.understanding[u.SessionID] = u
	return nil
}

func (f *Fake) GetUnderstanding(ctx context.Context, sessionID string) (db.Understanding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.understanding[sessionID]
	if !ok {
		return db.Understanding{SessionID: sessionID}, nil
	}
	return u, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

var errVersionConflict = errors.New("todo list version conflict")
