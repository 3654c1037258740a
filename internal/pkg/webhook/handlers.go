package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quotagate/quotagate/app/models"
	"github.com/quotagate/quotagate/app/repository"
)

// Every handler is written as a convergent upsert: any other event type may or
// may not have run already, and the same final state must be reached
// regardless of arrival order.

// handleCheckoutCompleted establishes the customer linkage and, when the
// session references a subscription, a placeholder row in status incomplete.
// Full status/period data is deferred to the subscription update event.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, repos *repository.Repositories, evt *Event, out *Outcome) error {
	payload := evt.Checkout
	if payload.UserID == 0 {
		log.Warnf("[webhook] checkout event %s carries no user reference, nothing to link", evt.ID)
		return nil
	}

	if err := repos.Customers.Upsert(&models.Customer{
		UserID:             payload.UserID,
		Provider:           p.provider,
		ProviderCustomerID: payload.ProviderCustomerID,
		Email:              payload.Email,
	}); err != nil {
		return err
	}

	if payload.SubscriptionID == "" {
		return nil
	}
	// No-op when the update event arrived first; it owns status and period.
	_, err := repos.Subscriptions.CreateIfAbsent(&models.Subscription{
		TenantID:               payload.TenantID,
		UserID:                 payload.UserID,
		Provider:               p.provider,
		ProviderSubscriptionID: payload.SubscriptionID,
		ProviderCustomerID:     payload.ProviderCustomerID,
		Status:                 models.SubscriptionStatusIncomplete,
		RawPayloadJSON:         string(evt.Raw),
	})
	return err
}

// handleSubscriptionUpdated upserts the subscription keyed by its provider ID
// and propagates active/trialing status into the entitlement.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, repos *repository.Repositories, evt *Event, out *Outcome) error {
	payload := evt.Subscription

	existing, err := repos.Subscriptions.GetByProviderSubscriptionID(p.provider, payload.SubscriptionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	userID := payload.UserID
	if userID == 0 {
		if customer, err := repos.Customers.GetByProviderCustomerID(p.provider, payload.ProviderCustomerID); err == nil {
			userID = customer.UserID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	if userID == 0 && existing != nil {
		userID = existing.UserID
	}

	plan, err := p.resolvePlan(repos, payload.PriceRef, payload.BillingInterval)
	if err != nil {
		return err
	}
	planID := uint(0)
	if plan != nil {
		planID = plan.ID
	} else if existing != nil {
		// Unresolvable price ref: retain the previous plan rather than
		// failing the event. A missing mapping is a catalog problem.
		planID = existing.PlanID
		log.Warnf("[webhook] price ref %q of event %s has no active plan mapping, keeping plan %d",
			payload.PriceRef, evt.ID, planID)
	} else {
		log.Warnf("[webhook] price ref %q of event %s has no active plan mapping and no prior plan",
			payload.PriceRef, evt.ID)
	}

	sub := &models.Subscription{
		UserID:                 userID,
		PlanID:                 planID,
		Provider:               p.provider,
		ProviderSubscriptionID: payload.SubscriptionID,
		ProviderCustomerID:     payload.ProviderCustomerID,
		Status:                 normalizeSubscriptionStatus(payload.Status),
		CurrentPeriodStart:     payload.CurrentPeriodStart,
		CurrentPeriodEnd:       payload.CurrentPeriodEnd,
		CancelAtPeriodEnd:      payload.CancelAtPeriodEnd,
		RawPayloadJSON:         string(evt.Raw),
	}
	if existing != nil {
		sub.TenantID = existing.TenantID
	}
	if err := repos.Subscriptions.Upsert(sub); err != nil {
		return err
	}

	if !sub.IsBillable() {
		return nil
	}
	if userID == 0 || plan == nil {
		// Without a user link or catalog entry there is nothing to grant yet;
		// a later checkout or mapping fix converges the state.
		return nil
	}

	subID := sub.ID
	ent := &models.Entitlement{
		EntitlementID:  uuid.NewString(),
		UserID:         userID,
		ProductID:      plan.ProductID,
		PlanID:         plan.ID,
		SubscriptionID: &subID,
		Status:         models.EntitlementStatusActive,
		UsageLimit:     plan.UsageLimit,
		ValidUntil:     sub.CurrentPeriodEnd,
	}
	if err := repos.Entitlements.Upsert(ent); err != nil {
		return err
	}
	out.InvalidateEntitlement(userID, plan.ProductID)
	return nil
}

// handleSubscriptionDeleted cancels the subscription and revokes the linked
// entitlement. A missing subscription is already-satisfied, not an error.
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, repos *repository.Repositories, evt *Event, out *Outcome) error {
	payload := evt.Subscription

	canceledAt := time.Now().UTC()
	if payload.EndedAt != nil {
		canceledAt = *payload.EndedAt
	}

	if err := repos.Subscriptions.MarkCanceled(p.provider, payload.SubscriptionID, canceledAt); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[webhook] subscription %s not found for deletion event %s, nothing to cancel",
				payload.SubscriptionID, evt.ID)
			return nil
		}
		return err
	}

	sub, err := repos.Subscriptions.GetByProviderSubscriptionID(p.provider, payload.SubscriptionID)
	if err != nil {
		return err
	}

	ent, err := repos.Entitlements.GetBySubscriptionID(sub.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if ent.Status == models.EntitlementStatusRevoked {
		return nil
	}
	if err := repos.Entitlements.UpdateStatus(ent.ID, models.EntitlementStatusRevoked); err != nil {
		return err
	}
	if err := repos.Usage.CreateAudit(&models.EntitlementAudit{
		EntitlementID: ent.ID,
		UserID:        ent.UserID,
		ProductID:     ent.ProductID,
		Action:        models.AuditActionRevoke,
		Actor:         "webhook",
		Reason:        "subscription deleted",
	}); err != nil {
		return err
	}
	out.InvalidateEntitlement(ent.UserID, ent.ProductID)
	return nil
}

// handleInvoicePaid rolls the billing period forward, marks the subscription
// active and records the payment keyed by the provider invoice ID.
func (p *Processor) handleInvoicePaid(ctx context.Context, repos *repository.Repositories, evt *Event, out *Outcome) error {
	payload := evt.Invoice

	userID := uint(0)
	if customer, err := repos.Customers.GetByProviderCustomerID(p.provider, payload.ProviderCustomerID); err == nil {
		userID = customer.UserID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var sub *models.Subscription
	if payload.SubscriptionID != "" {
		var err error
		sub, err = repos.Subscriptions.GetByProviderSubscriptionID(p.provider, payload.SubscriptionID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		// Fall back to the subscription link when the checkout event was
		// skipped or lost and no customer row exists.
		if userID == 0 && sub != nil {
			userID = sub.UserID
		}
	}

	if sub != nil {
		if err := repos.Subscriptions.UpdatePeriod(
			p.provider, payload.SubscriptionID,
			payload.PeriodStart, payload.PeriodEnd,
			models.SubscriptionStatusActive,
		); err != nil {
			return err
		}
		if err := p.rollUsagePeriod(repos, sub.ID, payload.PeriodEnd, out); err != nil {
			return err
		}
	}

	return repos.Payments.Upsert(&models.Payment{
		Provider:               p.provider,
		ProviderInvoiceID:      payload.InvoiceID,
		ProviderSubscriptionID: payload.SubscriptionID,
		UserID:                 userID,
		AmountTotal:            payload.AmountPaid,
		Currency:               payload.Currency,
		PeriodStart:            payload.PeriodStart,
		PeriodEnd:              payload.PeriodEnd,
		Status:                 models.PaymentStatusPaid,
		PaidAt:                 payload.PaidAt,
	})
}

// rollUsagePeriod resets the usage counter once per billing period. The reset
// is keyed on the period end moving forward, which keeps invoice replays from
// wiping usage consumed after the first delivery.
func (p *Processor) rollUsagePeriod(repos *repository.Repositories, subscriptionID uint, periodEnd *time.Time, out *Outcome) error {
	if periodEnd == nil {
		return nil
	}
	ent, err := repos.Entitlements.GetBySubscriptionID(subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if ent.Status != models.EntitlementStatusActive {
		return nil
	}
	if ent.UsageResetAt != nil && !periodEnd.After(*ent.UsageResetAt) {
		return nil
	}
	if err := repos.Entitlements.ResetUsage(ent.ID, periodEnd); err != nil {
		return err
	}
	out.InvalidateEntitlement(ent.UserID, ent.ProductID)
	return nil
}

// resolvePlan maps a provider price ref to an internal plan, preferring an
// exact interval match with a fallback for mappings filed under "unknown".
func (p *Processor) resolvePlan(repos *repository.Repositories, priceRef, interval string) (*models.Plan, error) {
	if priceRef == "" {
		return nil, nil
	}
	mapping, err := repos.Plans.FindActiveMapping(p.provider, priceRef, normalizeInterval(interval))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		mapping, err = repos.Plans.FindActiveMapping(p.provider, priceRef, models.BillingIntervalUnknown)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	plan, err := repos.Plans.GetByCode(mapping.PlanCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return plan, nil
}

func normalizeSubscriptionStatus(status string) string {
	switch status {
	case models.SubscriptionStatusActive,
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusUnpaid:
		return status
	default:
		return models.SubscriptionStatusIncomplete
	}
}

func normalizeInterval(interval string) string {
	switch interval {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return interval
	default:
		return models.BillingIntervalUnknown
	}
}
