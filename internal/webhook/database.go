package webhook

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) EventProcessed(eventID string) (bool, error) {
	var count int64
	err := d.db.Model(&ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ApplyEvent inserts the dedup row and runs the state mutation in one
// transaction. If the mutation fails the dedup row rolls back with it, so a
// crashed delivery can be retried; if the dedup insert conflicts, a
// concurrent delivery won and this one is a no-op.
func (d *Database) ApplyEvent(event *ProcessedEvent, apply func(tx *gorm.DB) error) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		return apply(tx)
	})
}

func (d *Database) GetSubscription(userID string) (*AccountSubscription, error) {
	var sub AccountSubscription
	if err := d.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// upsertSubscription writes the subscription state inside tx, creating the
// row on first sight of a user.
func upsertSubscription(tx *gorm.DB, userID string, mutate func(sub *AccountSubscription)) error {
	var sub AccountSubscription
	err := tx.Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sub = AccountSubscription{UserID: userID}
		mutate(&sub)
		return tx.Create(&sub).Error
	}
	if err != nil {
		return err
	}
	mutate(&sub)
	return tx.Save(&sub).Error
}
