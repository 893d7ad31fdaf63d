package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/payper/payper-api/internal/fulfillment"
	"github.com/payper/payper-api/internal/notifications"
	"github.com/payper/payper-api/internal/payments"
	"github.com/payper/payper-api/internal/types"
	"github.com/payper/payper-api/internal/vault"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the schema for all domain models
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Store{},
		&types.Order{},
		&types.OrderItem{},
		&payments.PaymentIntent{},
		&payments.PaymentRecord{},
		&payments.WebhookEvent{},
		&vault.EncryptedSecret{},
		&notifications.Task{},
		&fulfillment.InventoryItem{},
		&fulfillment.OpenPackage{},
		&fulfillment.Recipe{},
		&fulfillment.RecipeItem{},
		&fulfillment.DeductionError{},
	)
}
