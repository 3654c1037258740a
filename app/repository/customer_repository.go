package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quotagate/quotagate/app/models"
)

type gormCustomerRepository struct {
	db *gorm.DB
}

func (r *gormCustomerRepository) Upsert(customer *models.Customer) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"provider_customer_id",
			"email",
			"updated_at",
		}),
	}).Create(customer).Error; err != nil {
		return err
	}

	return r.db.Where("user_id = ?", customer.UserID).First(customer).Error
}

func (r *gormCustomerRepository) GetByProviderCustomerID(provider, providerCustomerID string) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.Where("provider = ? AND provider_customer_id = ?", provider, providerCustomerID).
		First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *gormCustomerRepository) GetByUserID(userID uint) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.Where("user_id = ?", userID).First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}
