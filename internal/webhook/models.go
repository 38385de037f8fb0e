package webhook

import (
	"time"

	"gorm.io/gorm"
)

// ProcessedEvent is the replay-protection ledger. Append-only: the
// existence of a row for an event id is the sole dedup signal, so rows are
// never updated or deleted.
type ProcessedEvent struct {
	gorm.Model  `json:"-"`
	EventID     string    `gorm:"uniqueIndex" json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Subscription statuses.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// AccountSubscription is the account state webhook events mutate. All
// transitions are absolute sets, never increments, so a double-applied
// event converges to the same state.
type AccountSubscription struct {
	gorm.Model       `json:"-"`
	UserID           string    `gorm:"uniqueIndex" json:"user_id"`
	Tier             string    `json:"tier"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
}
