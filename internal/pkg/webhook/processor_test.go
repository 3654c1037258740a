package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/app/models"
	"github.com/quotagate/quotagate/app/repository"
	"github.com/quotagate/quotagate/app/repository/memory"
	"github.com/quotagate/quotagate/internal/pkg/cache"
	"github.com/quotagate/quotagate/internal/pkg/entitlements"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.SeedPlan(models.Plan{
		Code:             "pro",
		ProductID:        "api",
		Name:             "Pro",
		UsageLimit:       1000,
		SoftLimitPercent: 0.1,
		IsActive:         true,
	})
	store.SeedMapping(models.PlanMapping{
		Provider:         models.ProviderStripe,
		ProviderPriceRef: "price_pro_m",
		BillingInterval:  models.BillingIntervalMonth,
		PlanCode:         "pro",
		IsActive:         true,
	})
	return store
}

func checkoutEvent(id string) *Event {
	return &Event{
		ID:      id,
		Type:    TypeCheckoutCompleted,
		RawType: string(TypeCheckoutCompleted),
		Raw:     []byte(`{}`),
		Checkout: &CheckoutPayload{
			UserID:             42,
			ProviderCustomerID: "cus_123",
			SubscriptionID:     "sub_abc",
			Email:              "jo@example.com",
		},
	}
}

func subscriptionUpdatedEvent(id string, periodEnd time.Time) *Event {
	start := periodEnd.AddDate(0, -1, 0)
	return &Event{
		ID:      id,
		Type:    TypeSubscriptionUpdated,
		RawType: string(TypeSubscriptionUpdated),
		Raw:     []byte(`{}`),
		Subscription: &SubscriptionPayload{
			SubscriptionID:     "sub_abc",
			ProviderCustomerID: "cus_123",
			UserID:             42,
			Status:             models.SubscriptionStatusActive,
			PriceRef:           "price_pro_m",
			BillingInterval:    models.BillingIntervalMonth,
			CurrentPeriodStart: &start,
			CurrentPeriodEnd:   &periodEnd,
		},
	}
}

func subscriptionDeletedEvent(id string, endedAt time.Time) *Event {
	return &Event{
		ID:      id,
		Type:    TypeSubscriptionDeleted,
		RawType: string(TypeSubscriptionDeleted),
		Raw:     []byte(`{}`),
		Subscription: &SubscriptionPayload{
			SubscriptionID:     "sub_abc",
			ProviderCustomerID: "cus_123",
			Status:             models.SubscriptionStatusCanceled,
			EndedAt:            &endedAt,
		},
	}
}

func invoicePaidEvent(id, invoiceID string, periodEnd time.Time) *Event {
	start := periodEnd.AddDate(0, -1, 0)
	paidAt := start.Add(time.Hour)
	return &Event{
		ID:      id,
		Type:    TypeInvoicePaid,
		RawType: string(TypeInvoicePaid),
		Raw:     []byte(`{}`),
		Invoice: &InvoicePayload{
			InvoiceID:          invoiceID,
			ProviderCustomerID: "cus_123",
			SubscriptionID:     "sub_abc",
			AmountPaid:         1999,
			Currency:           "eur",
			PeriodStart:        &start,
			PeriodEnd:          &periodEnd,
			PaidAt:             &paidAt,
		},
	}
}

func TestProcessDuplicateEventIsNoOp(t *testing.T) {
	store := newTestStore(t)
	p := NewProcessor(store, nil, models.ProviderStripe)
	ctx := context.Background()
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	res, err := p.Process(ctx, invoicePaidEvent("evt_1", "in_1", periodEnd))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	res, err = p.Process(ctx, invoicePaidEvent("evt_1", "in_1", periodEnd))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	assert.Len(t, store.ProcessedEvents(), 1)
	assert.Len(t, store.Payments(), 1)

	payment, err := store.Repos().Payments.GetByProviderInvoiceID(models.ProviderStripe, "in_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), payment.AmountTotal)
}

func TestProcessEventOrderIndependence(t *testing.T) {
	ctx := context.Background()
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	run := func(events ...*Event) *memory.Store {
		store := newTestStore(t)
		p := NewProcessor(store, nil, models.ProviderStripe)
		for _, evt := range events {
			_, err := p.Process(ctx, evt)
			require.NoError(t, err)
		}
		return store
	}

	checkoutFirst := run(checkoutEvent("evt_a"), subscriptionUpdatedEvent("evt_b", periodEnd))
	updateFirst := run(subscriptionUpdatedEvent("evt_b", periodEnd), checkoutEvent("evt_a"))

	for _, store := range []*memory.Store{checkoutFirst, updateFirst} {
		subs := store.Subscriptions()
		require.Len(t, subs, 1)
		assert.Equal(t, uint(42), subs[0].UserID)
		assert.Equal(t, models.SubscriptionStatusActive, subs[0].Status)
		assert.NotZero(t, subs[0].PlanID)

		ents := store.Entitlements()
		require.Len(t, ents, 1)
		assert.Equal(t, uint(42), ents[0].UserID)
		assert.Equal(t, "api", ents[0].ProductID)
		assert.Equal(t, models.EntitlementStatusActive, ents[0].Status)
		assert.Equal(t, int64(1000), ents[0].UsageLimit)
		require.NotNil(t, ents[0].ValidUntil)
		assert.Equal(t, periodEnd, *ents[0].ValidUntil)

		customer, err := store.Repos().Customers.GetByUserID(42)
		require.NoError(t, err)
		assert.Equal(t, "cus_123", customer.ProviderCustomerID)
	}
}

func TestProcessHandlerErrorRollsBackGuardRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	failing := NewProcessor(store, nil, models.ProviderStripe)
	boom := errors.New("downstream unavailable")
	failing.Register(TypeInvoicePaid, func(ctx context.Context, repos *repository.Repositories, evt *Event, out *Outcome) error {
		// Partial writes before the failure must vanish with the rollback.
		if err := repos.Payments.Upsert(&models.Payment{
			Provider:          models.ProviderStripe,
			ProviderInvoiceID: "in_1",
		}); err != nil {
			return err
		}
		return boom
	})

	_, err := failing.Process(ctx, invoicePaidEvent("evt_1", "in_1", periodEnd))
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.ProcessedEvents(), "guard row must roll back with the handler")
	assert.Empty(t, store.Payments())

	// Redelivery after the fault is repaired processes fully.
	p := NewProcessor(store, nil, models.ProviderStripe)
	res, err := p.Process(ctx, invoicePaidEvent("evt_1", "in_1", periodEnd))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Len(t, store.ProcessedEvents(), 1)
	assert.Len(t, store.Payments(), 1)
}

func TestProcessUnrecognizedTypeIsAcknowledged(t *testing.T) {
	store := newTestStore(t)
	p := NewProcessor(store, nil, models.ProviderStripe)
	ctx := context.Background()

	evt := &Event{ID: "evt_x", Type: TypeUnrecognized, RawType: "charge.refunded", Raw: []byte(`{}`)}

	res, err := p.Process(ctx, evt)
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	require.Len(t, store.ProcessedEvents(), 1)
	assert.Equal(t, "charge.refunded", store.ProcessedEvents()[0].EventType)

	// The guard commits, so redelivery is a duplicate.
	res, err = p.Process(ctx, evt)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestProcessDeletionOfUnknownSubscription(t *testing.T) {
	store := newTestStore(t)
	p := NewProcessor(store, nil, models.ProviderStripe)
	ctx := context.Background()

	res, err := p.Process(ctx, subscriptionDeletedEvent("evt_del", time.Now().UTC()))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Len(t, store.ProcessedEvents(), 1)
	assert.Empty(t, store.Subscriptions())
}

func TestProcessSubscriptionDeletedRevokesEntitlement(t *testing.T) {
	store := newTestStore(t)
	p := NewProcessor(store, nil, models.ProviderStripe)
	ctx := context.Background()
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := p.Process(ctx, checkoutEvent("evt_a"))
	require.NoError(t, err)
	_, err = p.Process(ctx, subscriptionUpdatedEvent("evt_b", periodEnd))
	require.NoError(t, err)

	endedAt := time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)
	_, err = p.Process(ctx, subscriptionDeletedEvent("evt_c", endedAt))
	require.NoError(t, err)

	subs := store.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, models.SubscriptionStatusCanceled, subs[0].Status)
	require.NotNil(t, subs[0].CanceledAt)
	assert.Equal(t, endedAt, *subs[0].CanceledAt)

	ents := store.Entitlements()
	require.Len(t, ents, 1)
	assert.Equal(t, models.EntitlementStatusRevoked, ents[0].Status)

	audits := store.AuditEntries()
	require.Len(t, audits, 1)
	assert.Equal(t, models.AuditActionRevoke, audits[0].Action)
	assert.Equal(t, "webhook", audits[0].Actor)
}

func TestProcessInvoicePaidRollsUsagePeriodOnce(t *testing.T) {
	store := newTestStore(t)
	p := NewProcessor(store, nil, models.ProviderStripe)
	ctx := context.Background()
	firstEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := p.Process(ctx, checkoutEvent("evt_a"))
	require.NoError(t, err)
	_, err = p.Process(ctx, subscriptionUpdatedEvent("evt_b", firstEnd))
	require.NoError(t, err)
	_, err = p.Process(ctx, invoicePaidEvent("evt_inv1", "in_1", firstEnd))
	require.NoError(t, err)

	matched, err := store.Repos().Entitlements.IncrementUsage(42, "api", 37)
	require.NoError(t, err)
	require.True(t, matched)

	// Same period under a fresh event ID must not wipe consumed usage.
	_, err = p.Process(ctx, invoicePaidEvent("evt_inv1_redeliver", "in_1", firstEnd))
	require.NoError(t, err)
	ents := store.Entitlements()
	require.Len(t, ents, 1)
	assert.Equal(t, int64(37), ents[0].UsageCount)

	// The next billing period resets the counter.
	secondEnd := firstEnd.AddDate(0, 1, 0)
	_, err = p.Process(ctx, invoicePaidEvent("evt_inv2", "in_2", secondEnd))
	require.NoError(t, err)
	ents = store.Entitlements()
	require.Len(t, ents, 1)
	assert.Zero(t, ents[0].UsageCount)
	require.NotNil(t, ents[0].UsageResetAt)
	assert.Equal(t, secondEnd, *ents[0].UsageResetAt)

	assert.Len(t, store.Payments(), 2)
}

func TestProcessAfterGuardRetentionPrune(t *testing.T) {
	store := newTestStore(t)
	p := NewProcessor(store, nil, models.ProviderStripe)
	ctx := context.Background()
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := p.Process(ctx, invoicePaidEvent("evt_1", "in_1", periodEnd))
	require.NoError(t, err)

	// A cutoff in the past keeps the row; dedup still holds.
	pruned, err := store.Repos().Events.PruneOlderThan(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, pruned)
	res, err := p.Process(ctx, invoicePaidEvent("evt_1", "in_1", periodEnd))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	// After the retention window the guard row goes; a replay is treated as
	// novel, which is safe because the handlers are convergent upserts.
	pruned, err = store.Repos().Events.PruneOlderThan(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
	res, err = p.Process(ctx, invoicePaidEvent("evt_1", "in_1", periodEnd))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Len(t, store.Payments(), 1)
}

func TestProcessInvalidatesCachedEntitlement(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	store := newTestStore(t)
	p := NewProcessor(store, c, models.ProviderStripe)
	ctx := context.Background()
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := p.Process(ctx, checkoutEvent("evt_a"))
	require.NoError(t, err)

	key := entitlements.CacheKey(42, "api")
	require.NoError(t, mr.Set(key, `{"stale":true}`))

	_, err = p.Process(ctx, subscriptionUpdatedEvent("evt_b", periodEnd))
	require.NoError(t, err)

	assert.False(t, mr.Exists(key), "entitlement snapshot must be invalidated after commit")
}
