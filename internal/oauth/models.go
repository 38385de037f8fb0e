package oauth

import (
	"time"

	"gorm.io/gorm"
)

// Connection statuses. A connection enters revocation_pending when the
// broker-side revocation call failed, so local and remote state are known
// to possibly diverge until the disconnect is retried.
const (
	ConnectionStatusActive            = "active"
	ConnectionStatusRevocationPending = "revocation_pending"
)

// BrokerConnection holds a user's credentials for one broker. One row per
// (user, broker); tokens are stored encrypted. Owned by the token lifecycle
// manager, read by order submission.
type BrokerConnection struct {
	gorm.Model   `json:"-"`
	UserID       string    `gorm:"index:idx_user_broker,unique" json:"user_id"`
	Broker       string    `gorm:"index:idx_user_broker,unique" json:"broker"`
	AccessToken  string    `json:"-"` // encrypted
	RefreshToken string    `json:"-"` // encrypted
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccountID    string    `json:"account_id"`
	Status       string    `json:"status"`
	IsActive     bool      `json:"is_active"`
}

// PKCEVerifier is a one-time code verifier awaiting the authorization
// callback. Created at URL generation, deleted immediately after a
// successful code exchange, never reused.
type PKCEVerifier struct {
	gorm.Model   `json:"-"`
	UserID       string    `gorm:"index" json:"user_id"`
	Broker       string    `json:"broker"`
	State        string    `gorm:"uniqueIndex" json:"-"`
	CodeVerifier string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConnectionStatus is the per-broker view returned by the status endpoint.
type ConnectionStatus struct {
	Broker    string     `json:"broker"`
	Connected bool       `json:"connected"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
