package entitlements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quotagate/quotagate/app/models"
	"github.com/quotagate/quotagate/app/repository"
	"github.com/quotagate/quotagate/internal/pkg/cache"
	"github.com/quotagate/quotagate/internal/pkg/metrics/counter"
	"github.com/quotagate/quotagate/internal/pkg/tasks"
)

// CacheTTL bounds how stale a cached entitlement snapshot may get when an
// invalidation is lost. Reads within the window after a write are kept
// coherent by delete-on-write, not by the TTL.
const CacheTTL = 60 * time.Second

var (
	// ErrNotEntitled means no active entitlement exists for the user and
	// product. Callers must distinguish this from an exhausted quota.
	ErrNotEntitled = errors.New("no active entitlement")
	// ErrInvalidAmount rejects non-positive usage increments; corrections
	// happen via administrative adjustment, never through this path.
	ErrInvalidAmount = errors.New("usage amount must be positive")
	// ErrUnknownPlan rejects grants against a plan code missing from the
	// catalog.
	ErrUnknownPlan = errors.New("unknown plan code")
)

// CacheKey builds the snapshot key for one user/product entitlement.
func CacheKey(userID uint, productID string) string {
	return fmt.Sprintf("entitlement:%d:%s", userID, productID)
}

// Usage is the quota arithmetic for one entitlement.
type Usage struct {
	Limit         int64      `json:"limit"`
	Used          int64      `json:"used"`
	Remaining     int64      `json:"remaining"`
	SoftLimit     int64      `json:"soft_limit"`
	OverLimit     bool       `json:"over_limit"`
	OverSoftLimit bool       `json:"over_soft_limit"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
}

// Info is the entitlement snapshot served to clients and cached with
// CacheTTL.
type Info struct {
	EntitlementID string         `json:"entitlement_id"`
	UserID        uint           `json:"user_id"`
	ProductID     string         `json:"product_id"`
	PlanCode      string         `json:"plan_code"`
	Status        string         `json:"status"`
	Features      map[string]any `json:"features"`
	Usage         Usage          `json:"usage"`
	ValidUntil    *time.Time     `json:"valid_until,omitempty"`
}

// GrantInput describes an administrative entitlement grant.
type GrantInput struct {
	UserID     uint
	ProductID  string
	PlanCode   string
	UsageLimit *int64
	SoftLimit  *int64
	Features   map[string]any
	ValidUntil *time.Time
	Actor      string
	Reason     string
}

// Service is the entitlement/usage engine. The cache is a read-through
// latency optimization; every write path invalidates instead of updating.
type Service struct {
	store   repository.Store
	cache   *cache.Cache
	runner  *tasks.Runner
	counter *counter.Counter
}

// NewService wires the engine. cache and runner may be nil, which disables
// caching and asynchronous usage records respectively.
func NewService(store repository.Store, c *cache.Cache, runner *tasks.Runner) *Service {
	return &Service{store: store, cache: c, runner: runner}
}

// WithCounter enables per-product usage tallying. ctr may be nil.
func (s *Service) WithCounter(ctr *counter.Counter) *Service {
	s.counter = ctr
	return s
}

// Get returns the entitlement snapshot for (user, product). Anything but an
// active, unexpired entitlement is ErrNotEntitled.
func (s *Service) Get(ctx context.Context, userID uint, productID string) (*Info, error) {
	if cached := s.cacheGet(ctx, userID, productID); cached != nil {
		return cached, nil
	}

	repos := s.store.Repos()
	ent, err := repos.Entitlements.GetActiveByUserProduct(userID, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotEntitled
		}
		return nil, err
	}
	if ent.ValidUntil != nil && ent.ValidUntil.Before(time.Now()) {
		// Lazy expiry: flip the row so subsequent reads skip the time check.
		if err := repos.Entitlements.UpdateStatus(ent.ID, models.EntitlementStatusExpired); err != nil {
			log.Warnf("[entitlements] failed to expire entitlement %d: %v", ent.ID, err)
		}
		return nil, ErrNotEntitled
	}

	var plan *models.Plan
	if ent.PlanID != 0 {
		plan, err = repos.Plans.GetByID(ent.PlanID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	info := buildInfo(ent, plan)
	s.cacheSet(ctx, info)
	return info, nil
}

// RecordUsage atomically adds amount to the usage counter and invalidates the
// cached snapshot so the next read recomputes from durable state. The usage
// line item is written best-effort in the background.
func (s *Service) RecordUsage(ctx context.Context, userID uint, productID string, amount int64, usageType string, metadata map[string]any) (*Info, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	repos := s.store.Repos()
	matched, err := repos.Entitlements.IncrementUsage(userID, productID, amount)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, ErrNotEntitled
	}

	s.cacheDelete(ctx, userID, productID)
	s.counter.AddUsage(ctx, productID, amount)
	s.submitUsageRecord(userID, productID, amount, usageType, metadata)

	return s.Get(ctx, userID, productID)
}

// Grant creates or reactivates the entitlement for (user, product) against an
// explicit plan, with optional limit/flag overrides and an expiry.
func (s *Service) Grant(ctx context.Context, in GrantInput) (*Info, error) {
	var granted *models.Entitlement
	err := s.store.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		plan, err := repos.Plans.GetByCode(in.PlanCode)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownPlan
			}
			return err
		}

		productID := in.ProductID
		if productID == "" {
			productID = plan.ProductID
		}

		ent := &models.Entitlement{
			EntitlementID: uuid.NewString(),
			UserID:        in.UserID,
			ProductID:     productID,
			PlanID:        plan.ID,
			Status:        models.EntitlementStatusActive,
			UsageLimit:    plan.UsageLimit,
			ValidUntil:    in.ValidUntil,
		}
		if in.UsageLimit != nil {
			ent.UsageLimit = *in.UsageLimit
		}
		if in.SoftLimit != nil {
			ent.SoftLimit = *in.SoftLimit
		}
		ent.SetFeatureFlagMap(in.Features)

		if err := repos.Entitlements.Upsert(ent); err != nil {
			return err
		}
		granted = ent

		return repos.Usage.CreateAudit(&models.EntitlementAudit{
			EntitlementID: ent.ID,
			UserID:        in.UserID,
			ProductID:     productID,
			Action:        models.AuditActionGrant,
			Actor:         in.Actor,
			Reason:        in.Reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.cacheDelete(ctx, granted.UserID, granted.ProductID)
	return s.Get(ctx, granted.UserID, granted.ProductID)
}

// Subscriptions lists the user's subscription rows, the billing state backing
// their entitlements. Includes canceled rows; they are history, not garbage.
func (s *Service) Subscriptions(ctx context.Context, userID uint) ([]models.Subscription, error) {
	return s.store.Repos().Subscriptions.ListByUser(userID)
}

// Revoke suspends the active entitlement for (user, product) and records who
// asked and why. A missing active entitlement is reported as ErrNotEntitled;
// silent success would hide a failed revocation from the administrator.
func (s *Service) Revoke(ctx context.Context, userID uint, productID, actor, reason string) error {
	err := s.store.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		ent, err := repos.Entitlements.GetActiveByUserProduct(userID, productID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotEntitled
			}
			return err
		}

		if err := repos.Entitlements.UpdateStatus(ent.ID, models.EntitlementStatusSuspended); err != nil {
			return err
		}
		return repos.Usage.CreateAudit(&models.EntitlementAudit{
			EntitlementID: ent.ID,
			UserID:        userID,
			ProductID:     productID,
			Action:        models.AuditActionRevoke,
			Actor:         actor,
			Reason:        reason,
		})
	})
	if err != nil {
		return err
	}

	s.cacheDelete(ctx, userID, productID)
	return nil
}

func (s *Service) submitUsageRecord(userID uint, productID string, amount int64, usageType string, metadata map[string]any) {
	if s.runner == nil {
		return
	}
	metadataJSON := ""
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			metadataJSON = string(raw)
		}
	}
	s.runner.Submit(func(ctx context.Context) {
		repos := s.store.Repos()
		ent, err := repos.Entitlements.GetByUserProduct(userID, productID)
		if err != nil {
			log.Warnf("[entitlements] usage record skipped, entitlement lookup failed: %v", err)
			return
		}
		if err := repos.Usage.CreateRecord(&models.UsageRecord{
			RecordID:      uuid.NewString(),
			EntitlementID: ent.ID,
			UserID:        userID,
			ProductID:     productID,
			Amount:        amount,
			UsageType:     usageType,
			MetadataJSON:  metadataJSON,
		}); err != nil {
			log.Warnf("[entitlements] usage record write failed: %v", err)
		}
	})
}

func (s *Service) cacheGet(ctx context.Context, userID uint, productID string) *Info {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, CacheKey(userID, productID))
	if err != nil {
		if !cache.IsMiss(err) {
			log.Warnf("[entitlements] cache read failed, falling back to store: %v", err)
		}
		return nil
	}
	var info Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil
	}
	return &info
}

func (s *Service) cacheSet(ctx context.Context, info *Info) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, CacheKey(info.UserID, info.ProductID), string(raw), CacheTTL); err != nil {
		log.Warnf("[entitlements] cache populate failed: %v", err)
	}
}

func (s *Service) cacheDelete(ctx context.Context, userID uint, productID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, CacheKey(userID, productID)); err != nil {
		log.Warnf("[entitlements] cache invalidation failed: %v", err)
	}
}
