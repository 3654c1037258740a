package repository

import (
	"context"

	"gorm.io/gorm"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a Store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// NewRepositories binds every repository to the given handle, which may be a
// transaction.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Events:        &gormEventRepository{db: db},
		Subscriptions: &gormSubscriptionRepository{db: db},
		Entitlements:  &gormEntitlementRepository{db: db},
		Customers:     &gormCustomerRepository{db: db},
		Payments:      &gormPaymentRepository{db: db},
		Plans:         &gormPlanRepository{db: db},
		Usage:         &gormUsageRepository{db: db},
	}
}

func (s *gormStore) Repos() *Repositories {
	return NewRepositories(s.db)
}

// WithinTransaction runs fn against transaction-bound repositories. Any error
// rolls the whole transaction back, including the idempotency guard row, so a
// redelivered event is processed from scratch.
func (s *gormStore) WithinTransaction(ctx context.Context, fn func(*Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
