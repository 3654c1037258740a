package repository

import (
	"context"
	"time"

	"github.com/quotagate/quotagate/app/models"
)

// EventRepository guards idempotent event processing.
type EventRepository interface {
	// CreateIfNotExists inserts the guard row and reports whether it was
	// created. false means the event was already processed.
	CreateIfNotExists(event *models.ProcessedEvent) (bool, error)
	PruneOlderThan(cutoff time.Time) (int64, error)
}

// SubscriptionRepository defines DB operations on subscription rows.
type SubscriptionRepository interface {
	GetByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error)
	// CreateIfAbsent inserts the row only when none exists for its provider
	// subscription ID. Reports whether a row was created.
	CreateIfAbsent(sub *models.Subscription) (bool, error)
	Upsert(sub *models.Subscription) error
	UpdatePeriod(provider, providerSubscriptionID string, start, end *time.Time, status string) error
	MarkCanceled(provider, providerSubscriptionID string, canceledAt time.Time) error
	ListByUser(userID uint) ([]models.Subscription, error)
}

// EntitlementRepository defines DB operations on entitlement rows.
type EntitlementRepository interface {
	GetByUserProduct(userID uint, productID string) (*models.Entitlement, error)
	GetActiveByUserProduct(userID uint, productID string) (*models.Entitlement, error)
	GetBySubscriptionID(subscriptionID uint) (*models.Entitlement, error)
	// Upsert creates or updates the (user, product) row without touching the
	// usage counter.
	Upsert(ent *models.Entitlement) error
	// IncrementUsage atomically adds amount to the active entitlement's
	// counter. Reports whether a row matched.
	IncrementUsage(userID uint, productID string, amount int64) (bool, error)
	UpdateStatus(id uint, status string) error
	ResetUsage(id uint, resetAt *time.Time) error
}

// CustomerRepository links provider identities to internal users.
type CustomerRepository interface {
	Upsert(customer *models.Customer) error
	GetByProviderCustomerID(provider, providerCustomerID string) (*models.Customer, error)
	GetByUserID(userID uint) (*models.Customer, error)
}

// PaymentRepository records invoice line items.
type PaymentRepository interface {
	Upsert(payment *models.Payment) error
	GetByProviderInvoiceID(provider, providerInvoiceID string) (*models.Payment, error)
}

// PlanRepository reads the internal plan catalog.
type PlanRepository interface {
	GetByCode(code string) (*models.Plan, error)
	GetByID(id uint) (*models.Plan, error)
	FindActiveMapping(provider, providerPriceRef, interval string) (*models.PlanMapping, error)
}

// UsageRepository writes usage line items and entitlement audit entries.
type UsageRepository interface {
	CreateRecord(record *models.UsageRecord) error
	CreateAudit(audit *models.EntitlementAudit) error
}

// Repositories bundles every repository bound to one DB handle or one
// transaction.
type Repositories struct {
	Events        EventRepository
	Subscriptions SubscriptionRepository
	Entitlements  EntitlementRepository
	Customers     CustomerRepository
	Payments      PaymentRepository
	Plans         PlanRepository
	Usage         UsageRepository
}

// Store is the durable-state entry point handed to services. Conflicting
// writes to the same row are serialized by the database's row locking, not by
// application-level mutexes.
type Store interface {
	Repos() *Repositories
	WithinTransaction(ctx context.Context, fn func(*Repositories) error) error
}
