package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/quotagate/quotagate/app/controllers"
	"github.com/quotagate/quotagate/internal/pkg/cache"
	"github.com/quotagate/quotagate/internal/pkg/env"
	"github.com/quotagate/quotagate/internal/pkg/middleware"
)

// HTTPRouter installs the webhook, service API and internal admin routes.
type HTTPRouter struct {
	Webhook      *controllers.WebhookController
	Entitlements *controllers.EntitlementController
	Admin        *controllers.AdminController
	Cache        *cache.Cache
}

func (h *HTTPRouter) InstallRouter(app *fiber.App) {
	// Provider callbacks authenticate via payload signature, not tokens.
	app.Post("/webhook/payments", h.Webhook.HandlePaymentWebhook)

	api := app.Group("/api",
		limiter.New(h.limiterConfig()),
		middleware.TokenAuth("X-Service-Token", env.GetEnv("SERVICE_API_TOKEN", "")),
	)
	v1 := api.Group("/v1")
	v1.Get("/users/:user_id/entitlements/:product_id", h.Entitlements.HandleGetEntitlement)
	v1.Post("/users/:user_id/entitlements/:product_id/usage", h.Entitlements.HandleRecordUsage)
	v1.Get("/users/:user_id/subscriptions", h.Entitlements.HandleListSubscriptions)

	internal := app.Group("/internal/v1",
		middleware.TokenAuth("X-Admin-Token", env.GetEnv("ADMIN_API_TOKEN", "")),
	)
	internal.Post("/grants", h.Admin.HandleGrant)
	internal.Post("/revocations", h.Admin.HandleRevoke)
	internal.Get("/stats", h.Admin.HandleStats)
}

// limiterConfig backs the rate limiter with Redis so limits hold across
// instances. Without a reachable cache the limiter falls back to its
// in-memory storage.
func (h *HTTPRouter) limiterConfig() limiter.Config {
	cfg := limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
	}

	if h.Cache == nil || h.Cache.Client() == nil {
		return cfg
	}
	host := "localhost"
	port := 6379
	addr := h.Cache.Client().Options().Addr
	if hostPart, portPart, err := net.SplitHostPort(addr); err == nil {
		host = hostPart
		if v, err := strconv.Atoi(portPart); err == nil {
			port = v
		}
	}
	cfg.Storage = redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: h.Cache.Client().Options().Password,
		Database: 1, // separate database, cache snapshots use DB 0
		Reset:    false,
	})
	return cfg
}

func NewHTTPRouter(
	webhookController *controllers.WebhookController,
	entitlementController *controllers.EntitlementController,
	adminController *controllers.AdminController,
	c *cache.Cache,
) *HTTPRouter {
	return &HTTPRouter{
		Webhook:      webhookController,
		Entitlements: entitlementController,
		Admin:        adminController,
		Cache:        c,
	}
}
