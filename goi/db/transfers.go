package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (q *Queries) CreateControlTransfer(ctx context.Context, t ControlTransfer) error {
	return q.db.WithContext(ctx).Create(&t).Error
}

func (q *Queries) ListControlTransfers(ctx context.Context, sessionID string) ([]ControlTransfer, error) {
	var transfers []ControlTransfer
	err := q.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("transferred_at ASC").
		Find(&transfers).Error
	return transfers, err
}

func (q *Queries) UpsertUnderstanding(ctx context.Context, u Understanding) error {
	return q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"summary", "current_goal", "selected_resources", "current_phase", "confidence",
		}),
	}).Create(&u).Error
}

func (q *Queries) GetUnderstanding(ctx context.Context, sessionID string) (Understanding, error) {
	var u Understanding
	err := q.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&u).Error
	if err == gorm.ErrRecordNotFound {
		return Understanding{SessionID: sessionID}, nil
	}
	return u, err
}
