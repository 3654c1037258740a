package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/quotagate/quotagate/app/models"
	"github.com/quotagate/quotagate/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Setup connects to MySQL with retries and returns the handle. The caller
// owns the handle and passes it down explicitly; there is no package-level
// singleton.
func Setup() (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	var db *gorm.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{})
		if err == nil {
			return db, nil
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, err
}

// AutoMigrate applies the schema in dev setups; production uses cmd/migrate.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ProcessedEvent{},
		&models.Subscription{},
		&models.Entitlement{},
		&models.Customer{},
		&models.Payment{},
		&models.Plan{},
		&models.PlanMapping{},
		&models.UsageRecord{},
		&models.EntitlementAudit{},
	)
}
