package repository

import (
	"gorm.io/gorm"

	"github.com/quotagate/quotagate/app/models"
)

type gormUsageRepository struct {
	db *gorm.DB
}

func (r *gormUsageRepository) CreateRecord(record *models.UsageRecord) error {
	return r.db.Create(record).Error
}

func (r *gormUsageRepository) CreateAudit(audit *models.EntitlementAudit) error {
	return r.db.Create(audit).Error
}
