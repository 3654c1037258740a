package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/quotagate/quotagate/app/controllers"
	"github.com/quotagate/quotagate/app/models"
	"github.com/quotagate/quotagate/app/repository"
	"github.com/quotagate/quotagate/internal/pkg/cache"
	"github.com/quotagate/quotagate/internal/pkg/database"
	"github.com/quotagate/quotagate/internal/pkg/entitlements"
	"github.com/quotagate/quotagate/internal/pkg/env"
	"github.com/quotagate/quotagate/internal/pkg/metrics/counter"
	"github.com/quotagate/quotagate/internal/pkg/router"
	"github.com/quotagate/quotagate/internal/pkg/tasks"
	"github.com/quotagate/quotagate/internal/pkg/webhook"
)

func main() {
	app, runner := NewApplication()
	defer runner.Stop()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

// NewApplication constructs every dependency once and passes it down
// explicitly; there is no global DB, cache or client state.
func NewApplication() (*fiber.App, *tasks.Runner) {
	env.SetupEnvFile()

	db, err := database.Setup()
	if err != nil {
		log.Fatalf("database setup failed: %v", err)
	}
	if env.IsDev() {
		if err := database.AutoMigrate(db); err != nil {
			log.Fatalf("auto-migration failed: %v", err)
		}
	}

	c := cache.Setup()
	store := repository.NewStore(db)

	runner := tasks.NewRunner(3, 256)
	runner.Start()

	ctr := counter.New(c)
	entitlementService := entitlements.NewService(store, c, runner).WithCounter(ctr)
	processor := webhook.NewProcessor(store, c, models.ProviderStripe).WithCounter(ctr)

	webhookController := controllers.NewWebhookController(processor, env.GetEnv("PAYMENT_WEBHOOK_SECRET", ""))
	entitlementController := controllers.NewEntitlementController(entitlementService)
	adminController := controllers.NewAdminController(entitlementService, ctr)

	app := fiber.New(fiber.Config{
		AppName:   "quotagate",
		BodyLimit: 1 << 20, // webhook payloads are small JSON documents
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "metrics"),
		},
	}), monitor.New())

	httpRouter := router.NewHTTPRouter(webhookController, entitlementController, adminController, c)
	httpRouter.InstallRouter(app)

	go pruneProcessedEvents(store)

	return app, runner
}

// pruneProcessedEvents trims old idempotency guard rows once a day. Providers
// stop redelivering events long before the retention window, so dropping the
// rows cannot resurface duplicates.
func pruneProcessedEvents(store repository.Store) {
	retentionDays := 90
	if v, err := strconv.Atoi(env.GetEnv("EVENT_RETENTION_DAYS", "90")); err == nil && v > 0 {
		retentionDays = v
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		pruned, err := store.Repos().Events.PruneOlderThan(cutoff)
		if err != nil {
			log.Printf("pruning processed events failed: %v", err)
			continue
		}
		if pruned > 0 {
			log.Printf("pruned %d processed events older than %s", pruned, cutoff.Format("2006-01-02"))
		}
	}
}
