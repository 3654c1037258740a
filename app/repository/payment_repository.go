package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quotagate/quotagate/app/models"
)

type gormPaymentRepository struct {
	db *gorm.DB
}

func (r *gormPaymentRepository) Upsert(payment *models.Payment) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_invoice_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_subscription_id",
			"user_id",
			"amount_total",
			"currency",
			"period_start",
			"period_end",
			"status",
			"paid_at",
			"updated_at",
		}),
	}).Create(payment).Error
}

func (r *gormPaymentRepository) GetByProviderInvoiceID(provider, providerInvoiceID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("provider = ? AND provider_invoice_id = ?", provider, providerInvoiceID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
