package trading

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

// CreateOrder inserts the order row. A gorm.ErrDuplicatedKey result means
// another request already holds this (client, idempotency key) pair.
func (d *Database) CreateOrder(order *Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrderByIdempotencyKey(clientID, key string) (*Order, error) {
	var order Order
	err := d.db.Where("client_id = ? AND idempotency_key = ?", clientID, key).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByOrderIDAndClientID(orderID, clientID string) (*Order, error) {
	var order Order
	err := d.db.Where("order_id = ? AND client_id = ?", orderID, clientID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) UpdateOrder(order *Order) error {
	return d.db.Save(order).Error
}

func (d *Database) ListOrders(clientID string, limit int) ([]Order, error) {
	var orders []Order
	err := d.db.Where("client_id = ?", clientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) CountOrders() (int64, error) {
	var count int64
	if err := d.db.Model(&Order{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
