package db

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/promptlab/promptlab/models"
)

func (q *Queries) CreateCheckpoint(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	err := models.Insert(q.db.WithContext(ctx), &cp)
	return cp, err
}

func (q *Queries) GetCheckpointByID(ctx context.Context, id string) (Checkpoint, error) {
	var cp Checkpoint
	err := q.db.WithContext(ctx).Where("id = ?", id).First(&cp).Error
	return cp, err
}

func (q *Queries) ListCheckpointsBySession(ctx context.Context, sessionID string, statuses []string) ([]Checkpoint, error) {
	var cps []Checkpoint
	query := q.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if len(statuses) > 0 {
		query = query.Where("status IN (?)", statuses)
	}
	err := query.Order("created_at DESC").Find(&cps).Error
	return cps, err
}

// PageCheckpointsBySession 分页查询审计记录
func (q *Queries) PageCheckpointsBySession(ctx context.Context, sessionID string, pageable models.Pageable) ([]Checkpoint, int64, error) {
	if pageable.Sortable == nil {
		pageable.Sortable = &models.Sortable{SortField: "created_at", SortOrder: "desc"}
	}
	return models.PageQuery[Checkpoint](q.db.WithContext(ctx), &pageable, "session_id = ?", sessionID)
}

func (q *Queries) UpdateCheckpointStatus(ctx context.Context, arg UpdateCheckpointStatusArgs) error {
	res := q.db.WithContext(ctx).Model(&Checkpoint{}).
		Where("id = ?", arg.ID).
		Updates(map[string]interface{}{
			"status":      arg.Status,
			"response":    arg.Response,
			"resolved_at": arg.ResolvedAt,
		})
	if res.Error != nil {
		return errors.WithMessage(res.Error, "update checkpoint error")
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
