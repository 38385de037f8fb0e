package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/alerts"
	"github.com/ksred/brokerlink-api/internal/oauth"
	"github.com/ksred/brokerlink-api/internal/trading"
	"github.com/ksred/brokerlink-api/internal/webhook"
)

// NewDatabase opens the store and migrates the schema. TranslateError is on
// so unique-constraint conflicts surface as gorm.ErrDuplicatedKey, which the
// idempotency and dedup paths depend on.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&oauth.BrokerConnection{},
		&oauth.PKCEVerifier{},
		&trading.Order{},
		&webhook.ProcessedEvent{},
		&webhook.AccountSubscription{},
		&alerts.Alert{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
