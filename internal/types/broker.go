package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Broker identifies a supported brokerage venue.
type Broker string

const (
	BrokerAlpaca  Broker = "alpaca"
	BrokerTradier Broker = "tradier"
	BrokerIBKR    Broker = "ibkr"
)

// SupportedBrokers returns every broker the adapter factory can dispatch to.
func SupportedBrokers() []Broker {
	return []Broker{BrokerAlpaca, BrokerTradier, BrokerIBKR}
}

// Valid reports whether b is a member of the supported broker set.
func (b Broker) Valid() bool {
	for _, s := range SupportedBrokers() {
		if b == s {
			return true
		}
	}
	return false
}

// Credentials is everything an order adapter needs to act on a user's behalf.
// Session-backed brokers carry no token; the gateway holds the session.
type Credentials struct {
	AccessToken string
	TokenType   string
	AccountID   string
	ExpiresAt   time.Time
}

// Order sides and types accepted on the wire.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// OrderStatus is the order state machine:
// pending -> submitted -> filled | rejected | cancelled | expired.
// An order that fails irrecoverably before reaching the broker ends in invalid.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusInvalid   OrderStatus = "invalid"
)

// OrderRequest is the client-supplied order payload.
type OrderRequest struct {
	Broker      Broker           `json:"broker"`
	Action      string           `json:"action"`
	Symbol      string           `json:"symbol"`
	Quantity    int              `json:"qty"`
	OrderType   string           `json:"order_type"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	TimeInForce string           `json:"time_in_force"`
}

// BrokerOrder is the broker's definitive answer to an order placement.
type BrokerOrder struct {
	BrokerOrderID string
	Status        OrderStatus
}
