package db

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (q *Queries) CreateTodoList(ctx context.Context, list TodoList, items []TodoItem) (TodoList, error) {
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&list).Error; err != nil {
			return errors.WithMessage(err, "create todo list error")
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return errors.WithMessage(err, "create todo items error")
			}
		}
		return nil
	})
	return list, err
}

func (q *Queries) GetTodoListByID(ctx context.Context, id string) (TodoList, error) {
	var list TodoList
	err := q.db.WithContext(ctx).Where("id = ?", id).First(&list).Error
	return list, err
}

func (q *Queries) ListTodoItems(ctx context.Context, listID string) ([]TodoItem, error) {
	var items []TodoItem
	err := q.db.WithContext(ctx).Where("list_id = ?", listID).Order("order_index ASC").Find(&items).Error
	return items, err
}

func (q *Queries) AppendTodoItems(ctx context.Context, listID string, items []TodoItem) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&items).Error; err != nil {
			return errors.WithMessage(err, "append todo items error")
		}
		return bumpListVersion(tx, listID, 0)
	})
}

func (q *Queries) UpdateTodoItemStatus(ctx context.Context, arg UpdateTodoItemStatusArgs) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": arg.Status}
		if arg.RetryCount != nil {
			updates["retry_count"] = *arg.RetryCount
		}
		res := tx.Model(&TodoItem{}).
			Where("id = ? AND list_id = ?", arg.ItemID, arg.ListID).
			Updates(updates)
		if res.Error != nil {
			return errors.WithMessage(res.Error, "update todo item error")
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return bumpListVersion(tx, arg.ListID, arg.ExpectedVersion)
	})
}

func (q *Queries) UpdateTodoListStatus(ctx context.Context, arg UpdateTodoListStatusArgs) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&TodoList{}).
			Where("id = ?", arg.ListID).
			Update("status", arg.Status)
		if res.Error != nil {
			return errors.WithMessage(res.Error, "update todo list error")
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return bumpListVersion(tx, arg.ListID, arg.ExpectedVersion)
	})
}

// bumpListVersion increments current_version; with expected > 0 the update is
// guarded so a concurrent writer aborts the transaction instead of racing.
func bumpListVersion(tx *gorm.DB, listID string, expected int64) error {
	query := tx.Model(&TodoList{}).Where("id = ?", listID)
	if expected > 0 {
		query = query.Where("current_version = ?", expected)
	}
	res := query.Update("current_version", gorm.Expr("current_version + 1"))
	if res.Error != nil {
		return errors.WithMessage(res.Error, "bump list version error")
	}
	if res.RowsAffected == 0 {
		return errors.New("todo list version conflict")
	}
	return nil
}
