package trading

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/types"
)

// Order is the persisted order record. The unique (client_id,
// idempotency_key) index is the concurrency guard: the row is inserted in
// pending state before the broker call, and a conflicting insert means the
// request is a replay.
type Order struct {
	gorm.Model     `json:"-"`
	OrderID        string              `gorm:"uniqueIndex" json:"id"`
	ClientID       string              `gorm:"index:idx_client_idempotency,unique" json:"client_id"`
	IdempotencyKey string              `gorm:"index:idx_client_idempotency,unique" json:"-"`
	Broker         string              `json:"broker"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	OrderType      string              `json:"order_type"`
	Quantity       int                 `json:"qty"`
	LimitPrice     decimal.NullDecimal `json:"limit_price,omitempty"`
	TimeInForce    string              `json:"time_in_force"`
	Status         types.OrderStatus   `json:"status"`
	BrokerOrderID  string              `json:"broker_order_id,omitempty"`
	ErrorMessage   string              `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}
