package alerts

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Alert kinds emitted by this subsystem. The notification dispatcher that
// consumes these rows lives outside this service.
const (
	KindReauthorizationRequired = "reauthorization_required"
	KindPaymentFailed           = "payment_failed"
)

// Alert is a write-only record handed off to the external notification
// dispatcher. This subsystem only ever appends.
type Alert struct {
	gorm.Model `json:"-"`
	AlertID    string    `gorm:"uniqueIndex" json:"alert_id"`
	UserID     string    `gorm:"index" json:"user_id"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Emitter appends alert rows for the notification dispatcher.
type Emitter struct {
	db *gorm.DB
}

func NewEmitter(db *gorm.DB) *Emitter {
	return &Emitter{db: db}
}

// Emit records an alert. Delivery is best effort: a failed write is logged
// and dropped rather than failing the operation that triggered it.
func (e *Emitter) Emit(userID, kind, message string) {
	alert := Alert{
		AlertID:   uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}

	logger := log.With().Str("component", "alerts").Logger()
	if err := e.db.Create(&alert).Error; err != nil {
		logger.Error().Err(err).
			Str("user_id", userID).
			Str("kind", kind).
			Msg("failed to persist alert")
		return
	}

	logger.Info().
		Str("user_id", userID).
		Str("kind", kind).
		Str("alert_id", alert.AlertID).
		Msg("alert emitted")
}
