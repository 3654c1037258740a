package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quotagate/quotagate/app/models"
)

type gormEventRepository struct {
	db *gorm.DB
}

func (r *gormEventRepository) CreateIfNotExists(event *models.ProcessedEvent) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormEventRepository) PruneOlderThan(cutoff time.Time) (int64, error) {
	tx := r.db.Where("created_at < ?", cutoff).Delete(&models.ProcessedEvent{})
	return tx.RowsAffected, tx.Error
}
