package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/alerts"
	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/response"
)

// Event types delivered by the payment processor.
const (
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
	EventPaymentFailed       = "payment.failed"
)

// Event is the payment processor's webhook payload.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	UserID           string `json:"user_id"`
	Tier             string `json:"tier"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// Service processes payment webhooks exactly once: signature first, then
// dedup by event id, then the state transition in the same transaction as
// the dedup row.
type Service struct {
	db      *Database
	secret  []byte
	alerter *alerts.Emitter
}

// NewService creates the webhook processor with the processor's signing
// secret.
func NewService(gormDB *gorm.DB, secret string, alerter *alerts.Emitter) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		secret:  []byte(secret),
		alerter: alerter,
	}
}

// HandleEvent verifies and applies one delivery. The signature check is
// unconditional: no configuration state admits an unsigned or mis-signed
// payload. A previously seen event id succeeds without reprocessing.
func (s *Service) HandleEvent(rawBody []byte, signature string) error {
	if !s.verifySignature(rawBody, signature) {
		log.Warn().
			Str("component", "webhook").
			Msg("webhook signature verification failed")
		return types.ErrSignatureInvalid
	}

	var event Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return types.NewValidationError("malformed webhook payload")
	}
	if event.ID == "" {
		return types.NewValidationError("webhook event has no id")
	}

	logger := log.With().
		Str("component", "webhook").
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Logger()

	seen, err := s.db.EventProcessed(event.ID)
	if err != nil {
		return err
	}
	if seen {
		logger.Debug().Msg("event already processed, skipping")
		return nil
	}

	record := &ProcessedEvent{
		EventID:     event.ID,
		EventType:   event.Type,
		ProcessedAt: time.Now(),
	}
	err = s.db.ApplyEvent(record, func(tx *gorm.DB) error {
		return s.apply(tx, &event)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent delivery of the same event inserted the dedup
			// row first; its transaction owns the side effects.
			logger.Debug().Msg("event processed by concurrent delivery")
			return nil
		}
		return err
	}

	logger.Info().Msg("webhook event processed")

	if event.Type == EventPaymentFailed {
		s.alerter.Emit(event.Data.UserID, alerts.KindPaymentFailed,
			"A payment failed. Please update your payment method.")
	}
	return nil
}

// apply performs the account state transition. Every branch sets absolute
// values so a re-applied event cannot compound.
func (s *Service) apply(tx *gorm.DB, event *Event) error {
	switch event.Type {
	case EventSubscriptionUpdated:
		return upsertSubscription(tx, event.Data.UserID, func(sub *AccountSubscription) {
			sub.Tier = event.Data.Tier
			if event.Data.Status != "" {
				sub.Status = event.Data.Status
			} else {
				sub.Status = SubscriptionStatusActive
			}
			if event.Data.CurrentPeriodEnd > 0 {
				sub.CurrentPeriodEnd = time.Unix(event.Data.CurrentPeriodEnd, 0)
			}
		})
	case EventSubscriptionDeleted:
		return upsertSubscription(tx, event.Data.UserID, func(sub *AccountSubscription) {
			sub.Status = SubscriptionStatusCanceled
		})
	case EventPaymentFailed:
		return upsertSubscription(tx, event.Data.UserID, func(sub *AccountSubscription) {
			sub.Status = SubscriptionStatusPastDue
		})
	default:
		// Unknown types are recorded in the dedup ledger and otherwise
		// ignored, so a later redelivery stays a no-op.
		log.Info().
			Str("component", "webhook").
			Str("event_type", event.Type).
			Msg("ignoring unknown webhook event type")
		return nil
	}
}

func (s *Service) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GinHandlers contains HTTP handlers for webhook endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for webhook endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// EventHandler handles POST requests from the payment processor.
// A signature failure answers 400, not 500, so the processor stops
// retrying a delivery that can never verify.
func (h *GinHandlers) EventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawBody, err := c.GetRawData()
		if err != nil {
			response.BadRequest(c, "unable to read request body")
			return
		}

		signature := c.GetHeader("X-Webhook-Signature")
		if err := h.service.HandleEvent(rawBody, signature); err != nil {
			response.Handle(c, nil, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
