package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quotagate/quotagate/app/models"
)

type gormEntitlementRepository struct {
	db *gorm.DB
}

func (r *gormEntitlementRepository) GetByUserProduct(userID uint, productID string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := r.db.Where("user_id = ? AND product_id = ?", userID, productID).First(&ent).Error
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

func (r *gormEntitlementRepository) GetActiveByUserProduct(userID uint, productID string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := r.db.Where("user_id = ? AND product_id = ? AND status = ?", userID, productID, models.EntitlementStatusActive).
		First(&ent).Error
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

func (r *gormEntitlementRepository) GetBySubscriptionID(subscriptionID uint) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := r.db.Where("subscription_id = ?", subscriptionID).First(&ent).Error
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

func (r *gormEntitlementRepository) Upsert(ent *models.Entitlement) error {
	// usage_count is deliberately excluded: a grant or plan change must not
	// reset what the user has already consumed in the current period.
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "product_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_id",
			"subscription_id",
			"status",
			"feature_flags_json",
			"usage_limit",
			"soft_limit",
			"valid_until",
			"updated_at",
		}),
	}).Create(ent).Error; err != nil {
		return err
	}

	return r.db.Where("user_id = ? AND product_id = ?", ent.UserID, ent.ProductID).
		First(ent).Error
}

func (r *gormEntitlementRepository) IncrementUsage(userID uint, productID string, amount int64) (bool, error) {
	tx := r.db.Model(&models.Entitlement{}).
		Where("user_id = ? AND product_id = ? AND status = ?", userID, productID, models.EntitlementStatusActive).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", amount))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormEntitlementRepository) UpdateStatus(id uint, status string) error {
	return r.db.Model(&models.Entitlement{}).Where("id = ?", id).
		Update("status", status).Error
}

func (r *gormEntitlementRepository) ResetUsage(id uint, resetAt *time.Time) error {
	return r.db.Model(&models.Entitlement{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count":    0,
			"usage_reset_at": resetAt,
		}).Error
}
