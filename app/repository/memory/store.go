// Package memory provides an in-memory Store used by tests. Transactions are
// simulated by cloning the dataset and swapping it back in only on success,
// which mirrors the rollback semantics of the GORM store.
package memory

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/quotagate/quotagate/app/models"
	"github.com/quotagate/quotagate/app/repository"
)

type dataset struct {
	events        []models.ProcessedEvent
	subscriptions []models.Subscription
	entitlements  []models.Entitlement
	customers     []models.Customer
	payments      []models.Payment
	plans         []models.Plan
	mappings      []models.PlanMapping
	usageRecords  []models.UsageRecord
	audits        []models.EntitlementAudit
	nextID        uint
}

func (d *dataset) clone() *dataset {
	c := &dataset{nextID: d.nextID}
	c.events = append([]models.ProcessedEvent(nil), d.events...)
	c.subscriptions = append([]models.Subscription(nil), d.subscriptions...)
	c.entitlements = append([]models.Entitlement(nil), d.entitlements...)
	c.customers = append([]models.Customer(nil), d.customers...)
	c.payments = append([]models.Payment(nil), d.payments...)
	c.plans = append([]models.Plan(nil), d.plans...)
	c.mappings = append([]models.PlanMapping(nil), d.mappings...)
	c.usageRecords = append([]models.UsageRecord(nil), d.usageRecords...)
	c.audits = append([]models.EntitlementAudit(nil), d.audits...)
	return c
}

func (d *dataset) id() uint {
	d.nextID++
	return d.nextID
}

// Store is the in-memory repository.Store implementation.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{data: &dataset{}}
}

func (s *Store) Repos() *repository.Repositories {
	return reposFor(s, s.data)
}

func (s *Store) WithinTransaction(ctx context.Context, fn func(*repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(reposFor(nil, work)); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Seed helpers and inspection accessors for tests.

func (s *Store) SeedPlan(plan models.Plan) models.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan.ID = s.data.id()
	s.data.plans = append(s.data.plans, plan)
	return plan
}

func (s *Store) SeedMapping(m models.PlanMapping) models.PlanMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.data.id()
	s.data.mappings = append(s.data.mappings, m)
	return m
}

func (s *Store) ProcessedEvents() []models.ProcessedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ProcessedEvent(nil), s.data.events...)
}

func (s *Store) Subscriptions() []models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Subscription(nil), s.data.subscriptions...)
}

func (s *Store) Entitlements() []models.Entitlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Entitlement(nil), s.data.entitlements...)
}

func (s *Store) Customers() []models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Customer(nil), s.data.customers...)
}

func (s *Store) Payments() []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Payment(nil), s.data.payments...)
}

func (s *Store) AuditEntries() []models.EntitlementAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EntitlementAudit(nil), s.data.audits...)
}

func (s *Store) UsageRecords() []models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.UsageRecord(nil), s.data.usageRecords...)
}

// reposFor binds repositories to a dataset. When owner is non-nil the
// operations take its lock (direct, non-transactional access); inside a
// transaction the dataset is private and needs no locking.
func reposFor(owner *Store, data *dataset) *repository.Repositories {
	return &repository.Repositories{
		Events:        &eventRepo{base{owner: owner, data: data}},
		Subscriptions: &subscriptionRepo{base{owner: owner, data: data}},
		Entitlements:  &entitlementRepo{base{owner: owner, data: data}},
		Customers:     &customerRepo{base{owner: owner, data: data}},
		Payments:      &paymentRepo{base{owner: owner, data: data}},
		Plans:         &planRepo{base{owner: owner, data: data}},
		Usage:         &usageRepo{base{owner: owner, data: data}},
	}
}

type base struct {
	owner *Store
	data  *dataset
}

func (b *base) enter() func() {
	if b.owner == nil {
		return func() {}
	}
	b.owner.mu.Lock()
	b.data = b.owner.data
	return b.owner.mu.Unlock
}

type eventRepo struct{ base }

func (r *eventRepo) CreateIfNotExists(event *models.ProcessedEvent) (bool, error) {
	defer r.enter()()
	for _, e := range r.data.events {
		if e.Provider == event.Provider && e.EventID == event.EventID {
			return false, nil
		}
	}
	event.ID = r.data.id()
	event.CreatedAt = time.Now()
	r.data.events = append(r.data.events, *event)
	return true, nil
}

func (r *eventRepo) PruneOlderThan(cutoff time.Time) (int64, error) {
	defer r.enter()()
	kept := r.data.events[:0]
	var pruned int64
	for _, e := range r.data.events {
		if e.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	r.data.events = kept
	return pruned, nil
}

type subscriptionRepo struct{ base }

func (r *subscriptionRepo) find(provider, subID string) int {
	for i := range r.data.subscriptions {
		if r.data.subscriptions[i].Provider == provider && r.data.subscriptions[i].ProviderSubscriptionID == subID {
			return i
		}
	}
	return -1
}

func (r *subscriptionRepo) GetByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	defer r.enter()()
	if i := r.find(provider, providerSubscriptionID); i >= 0 {
		sub := r.data.subscriptions[i]
		return &sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *subscriptionRepo) CreateIfAbsent(sub *models.Subscription) (bool, error) {
	defer r.enter()()
	if i := r.find(sub.Provider, sub.ProviderSubscriptionID); i >= 0 {
		*sub = r.data.subscriptions[i]
		return false, nil
	}
	sub.ID = r.data.id()
	r.data.subscriptions = append(r.data.subscriptions, *sub)
	return true, nil
}

func (r *subscriptionRepo) Upsert(sub *models.Subscription) error {
	defer r.enter()()
	if i := r.find(sub.Provider, sub.ProviderSubscriptionID); i >= 0 {
		existing := &r.data.subscriptions[i]
		existing.TenantID = sub.TenantID
		existing.UserID = sub.UserID
		existing.PlanID = sub.PlanID
		existing.ProviderCustomerID = sub.ProviderCustomerID
		existing.Status = sub.Status
		existing.CurrentPeriodStart = sub.CurrentPeriodStart
		existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
		existing.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		existing.CanceledAt = sub.CanceledAt
		existing.RawPayloadJSON = sub.RawPayloadJSON
		*sub = *existing
		return nil
	}
	sub.ID = r.data.id()
	r.data.subscriptions = append(r.data.subscriptions, *sub)
	return nil
}

func (r *subscriptionRepo) UpdatePeriod(provider, providerSubscriptionID string, start, end *time.Time, status string) error {
	defer r.enter()()
	if i := r.find(provider, providerSubscriptionID); i >= 0 {
		r.data.subscriptions[i].CurrentPeriodStart = start
		r.data.subscriptions[i].CurrentPeriodEnd = end
		if status != "" {
			r.data.subscriptions[i].Status = status
		}
	}
	return nil
}

func (r *subscriptionRepo) MarkCanceled(provider, providerSubscriptionID string, canceledAt time.Time) error {
	defer r.enter()()
	i := r.find(provider, providerSubscriptionID)
	if i < 0 {
		return gorm.ErrRecordNotFound
	}
	r.data.subscriptions[i].Status = models.SubscriptionStatusCanceled
	at := canceledAt
	r.data.subscriptions[i].CanceledAt = &at
	return nil
}

func (r *subscriptionRepo) ListByUser(userID uint) ([]models.Subscription, error) {
	defer r.enter()()
	var out []models.Subscription
	for _, sub := range r.data.subscriptions {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

type entitlementRepo struct{ base }

func (r *entitlementRepo) find(userID uint, productID string) int {
	for i := range r.data.entitlements {
		if r.data.entitlements[i].UserID == userID && r.data.entitlements[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (r *entitlementRepo) GetByUserProduct(userID uint, productID string) (*models.Entitlement, error) {
	defer r.enter()()
	if i := r.find(userID, productID); i >= 0 {
		ent := r.data.entitlements[i]
		return &ent, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *entitlementRepo) GetActiveByUserProduct(userID uint, productID string) (*models.Entitlement, error) {
	defer r.enter()()
	if i := r.find(userID, productID); i >= 0 && r.data.entitlements[i].Status == models.EntitlementStatusActive {
		ent := r.data.entitlements[i]
		return &ent, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *entitlementRepo) GetBySubscriptionID(subscriptionID uint) (*models.Entitlement, error) {
	defer r.enter()()
	for i := range r.data.entitlements {
		if r.data.entitlements[i].SubscriptionID != nil && *r.data.entitlements[i].SubscriptionID == subscriptionID {
			ent := r.data.entitlements[i]
			return &ent, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *entitlementRepo) Upsert(ent *models.Entitlement) error {
	defer r.enter()()
	if i := r.find(ent.UserID, ent.ProductID); i >= 0 {
		existing := &r.data.entitlements[i]
		existing.PlanID = ent.PlanID
		existing.SubscriptionID = ent.SubscriptionID
		existing.Status = ent.Status
		existing.FeatureFlags = ent.FeatureFlags
		existing.UsageLimit = ent.UsageLimit
		existing.SoftLimit = ent.SoftLimit
		existing.ValidUntil = ent.ValidUntil
		*ent = *existing
		return nil
	}
	ent.ID = r.data.id()
	r.data.entitlements = append(r.data.entitlements, *ent)
	return nil
}

func (r *entitlementRepo) IncrementUsage(userID uint, productID string, amount int64) (bool, error) {
	defer r.enter()()
	if i := r.find(userID, productID); i >= 0 && r.data.entitlements[i].Status == models.EntitlementStatusActive {
		r.data.entitlements[i].UsageCount += amount
		return true, nil
	}
	return false, nil
}

func (r *entitlementRepo) UpdateStatus(id uint, status string) error {
	defer r.enter()()
	for i := range r.data.entitlements {
		if r.data.entitlements[i].ID == id {
			r.data.entitlements[i].Status = status
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *entitlementRepo) ResetUsage(id uint, resetAt *time.Time) error {
	defer r.enter()()
	for i := range r.data.entitlements {
		if r.data.entitlements[i].ID == id {
			r.data.entitlements[i].UsageCount = 0
			r.data.entitlements[i].UsageResetAt = resetAt
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type customerRepo struct{ base }

func (r *customerRepo) Upsert(customer *models.Customer) error {
	defer r.enter()()
	for i := range r.data.customers {
		if r.data.customers[i].UserID == customer.UserID {
			existing := &r.data.customers[i]
			existing.Provider = customer.Provider
			existing.ProviderCustomerID = customer.ProviderCustomerID
			existing.Email = customer.Email
			*customer = *existing
			return nil
		}
	}
	customer.ID = r.data.id()
	r.data.customers = append(r.data.customers, *customer)
	return nil
}

func (r *customerRepo) GetByProviderCustomerID(provider, providerCustomerID string) (*models.Customer, error) {
	defer r.enter()()
	for _, c := range r.data.customers {
		if c.Provider == provider && c.ProviderCustomerID == providerCustomerID {
			customer := c
			return &customer, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *customerRepo) GetByUserID(userID uint) (*models.Customer, error) {
	defer r.enter()()
	for _, c := range r.data.customers {
		if c.UserID == userID {
			customer := c
			return &customer, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type paymentRepo struct{ base }

func (r *paymentRepo) Upsert(payment *models.Payment) error {
	defer r.enter()()
	for i := range r.data.payments {
		if r.data.payments[i].Provider == payment.Provider && r.data.payments[i].ProviderInvoiceID == payment.ProviderInvoiceID {
			payment.ID = r.data.payments[i].ID
			r.data.payments[i] = *payment
			return nil
		}
	}
	payment.ID = r.data.id()
	r.data.payments = append(r.data.payments, *payment)
	return nil
}

func (r *paymentRepo) GetByProviderInvoiceID(provider, providerInvoiceID string) (*models.Payment, error) {
	defer r.enter()()
	for _, p := range r.data.payments {
		if p.Provider == provider && p.ProviderInvoiceID == providerInvoiceID {
			payment := p
			return &payment, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type planRepo struct{ base }

func (r *planRepo) GetByCode(code string) (*models.Plan, error) {
	defer r.enter()()
	for _, p := range r.data.plans {
		if p.Code == code && p.IsActive {
			plan := p
			return &plan, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *planRepo) GetByID(id uint) (*models.Plan, error) {
	defer r.enter()()
	for _, p := range r.data.plans {
		if p.ID == id {
			plan := p
			return &plan, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *planRepo) FindActiveMapping(provider, providerPriceRef, interval string) (*models.PlanMapping, error) {
	defer r.enter()()
	for _, m := range r.data.mappings {
		if m.Provider == provider && m.ProviderPriceRef == providerPriceRef && m.BillingInterval == interval && m.IsActive {
			mapping := m
			return &mapping, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type usageRepo struct{ base }

func (r *usageRepo) CreateRecord(record *models.UsageRecord) error {
	defer r.enter()()
	record.ID = r.data.id()
	record.CreatedAt = time.Now()
	r.data.usageRecords = append(r.data.usageRecords, *record)
	return nil
}

func (r *usageRepo) CreateAudit(audit *models.EntitlementAudit) error {
	defer r.enter()()
	audit.ID = r.data.id()
	audit.CreatedAt = time.Now()
	r.data.audits = append(r.data.audits, *audit)
	return nil
}
