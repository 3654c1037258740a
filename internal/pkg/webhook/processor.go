package webhook

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/quotagate/quotagate/app/models"
	"github.com/quotagate/quotagate/app/repository"
	"github.com/quotagate/quotagate/internal/pkg/cache"
	"github.com/quotagate/quotagate/internal/pkg/entitlements"
	"github.com/quotagate/quotagate/internal/pkg/metrics/counter"
)

// Outcome collects side effects a handler requests beyond its transaction.
// Cache invalidations run only after the transaction commits: invalidating
// inside it would let a concurrent read repopulate the old value.
type Outcome struct {
	invalidations []cacheKeyRef
}

type cacheKeyRef struct {
	userID    uint
	productID string
}

// InvalidateEntitlement schedules a post-commit cache invalidation for the
// given user/product snapshot.
func (o *Outcome) InvalidateEntitlement(userID uint, productID string) {
	o.invalidations = append(o.invalidations, cacheKeyRef{userID: userID, productID: productID})
}

// HandlerFunc mutates durable state for one event type. It runs inside the
// processing transaction; returning an error rolls everything back, including
// the idempotency guard row.
type HandlerFunc func(ctx context.Context, repos *repository.Repositories, evt *Event, out *Outcome) error

// Result describes how an event was concluded.
type Result struct {
	Duplicate bool
	Ignored   bool
}

// Processor is the event router. It applies the idempotency guard and
// dispatches to the handler registered for the event type, all within one
// transaction.
type Processor struct {
	store    repository.Store
	cache    *cache.Cache
	provider string
	handlers map[Type]HandlerFunc
	counter  *counter.Counter
}

// NewProcessor creates a processor with the default lifecycle handlers
// registered. cache may be nil; invalidations are then skipped.
func NewProcessor(store repository.Store, c *cache.Cache, provider string) *Processor {
	p := &Processor{
		store:    store,
		cache:    c,
		provider: provider,
		handlers: map[Type]HandlerFunc{},
	}
	p.handlers[TypeCheckoutCompleted] = p.handleCheckoutCompleted
	p.handlers[TypeSubscriptionUpdated] = p.handleSubscriptionUpdated
	p.handlers[TypeSubscriptionDeleted] = p.handleSubscriptionDeleted
	p.handlers[TypeInvoicePaid] = p.handleInvoicePaid
	return p
}

// Register installs or replaces the handler for an event type.
func (p *Processor) Register(t Type, h HandlerFunc) {
	p.handlers[t] = h
}

// WithCounter enables per-event-type tallying. ctr may be nil.
func (p *Processor) WithCounter(ctr *counter.Counter) *Processor {
	p.counter = ctr
	return p
}

// Process applies the event exactly once. The guard row is inserted first; a
// rejected insert means a duplicate, which is acknowledged without mutation.
// Unknown event types are acknowledged with the guard row committed so the
// provider stops redelivering them.
func (p *Processor) Process(ctx context.Context, evt *Event) (Result, error) {
	var res Result
	out := &Outcome{}

	err := p.store.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		created, err := repos.Events.CreateIfNotExists(&models.ProcessedEvent{
			Provider:  p.provider,
			EventID:   evt.ID,
			EventType: evt.RawType,
		})
		if err != nil {
			return err
		}
		if !created {
			res.Duplicate = true
			return nil
		}

		handler, ok := p.handlers[evt.Type]
		if !ok {
			log.Infof("[webhook] ignoring event %s with unhandled type %q", evt.ID, evt.RawType)
			res.Ignored = true
			return nil
		}
		return handler(ctx, repos, evt, out)
	})
	if err != nil {
		return Result{}, err
	}

	p.flushInvalidations(ctx, out)
	if !res.Duplicate {
		p.counter.AddEvent(ctx, evt.RawType)
	}
	return res, nil
}

func (p *Processor) flushInvalidations(ctx context.Context, out *Outcome) {
	if p.cache == nil {
		return
	}
	for _, ref := range out.invalidations {
		key := entitlements.CacheKey(ref.userID, ref.productID)
		if err := p.cache.Delete(ctx, key); err != nil {
			// Stale reads self-heal at TTL expiry; the durable state is correct.
			log.Warnf("[webhook] cache invalidation failed for %s: %v", key, err)
		}
	}
}
