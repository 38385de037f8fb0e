package trading

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/broker"
	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/response"
)

const (
	minQuantity = 1
	maxQuantity = 10000

	defaultListLimit = 100
)

var symbolPattern = regexp.MustCompile(`^[A-Z]{1,10}$`)

// BrokerGateway resolves brokers to credential providers and order
// adapters. Satisfied by broker.Factory.
type BrokerGateway interface {
	CredentialProvider(broker types.Broker, userID string) (broker.CredentialProvider, error)
	OrderAdapter(broker types.Broker) (broker.OrderAdapter, error)
}

// Service handles idempotent order submission.
type Service struct {
	db      *Database
	gateway BrokerGateway
	timeout time.Duration
}

// NewService creates the order submission service. timeout bounds the
// broker order call.
func NewService(gormDB *gorm.DB, gateway BrokerGateway, timeout time.Duration) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		gateway: gateway,
		timeout: timeout,
	}
}

// SubmitOrder validates, persists and submits an order exactly once per
// (client, idempotency key).
//
// The pending row is inserted before the broker call; the unique constraint
// on (client_id, idempotency_key) is the only concurrency control. When the
// insert conflicts the request is a replay and the existing order's current
// result is returned, without a second broker call.
func (s *Service) SubmitOrder(ctx context.Context, clientID, idempotencyKey string, req *types.OrderRequest) (*Order, error) {
	if err := validateRequest(idempotencyKey, req); err != nil {
		return nil, err
	}

	order := &Order{
		OrderID:        uuid.New().String(),
		ClientID:       clientID,
		IdempotencyKey: idempotencyKey,
		Broker:         string(req.Broker),
		Symbol:         req.Symbol,
		Side:           req.Action,
		OrderType:      req.OrderType,
		Quantity:       req.Quantity,
		TimeInForce:    req.TimeInForce,
		Status:         types.OrderStatusPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if req.LimitPrice != nil {
		order.LimitPrice = decimal.NullDecimal{Decimal: *req.LimitPrice, Valid: true}
	}

	if err := s.db.CreateOrder(order); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.replay(clientID, idempotencyKey)
		}
		return nil, err
	}

	return s.submit(ctx, order, req)
}

// replay returns the order already recorded for this idempotency key. A
// reused key is authoritative: the caller gets whatever the first
// submission produced, never a second broker call.
func (s *Service) replay(clientID, idempotencyKey string) (*Order, error) {
	existing, err := s.db.GetOrderByIdempotencyKey(clientID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, gorm.ErrRecordNotFound
	}

	log.Debug().
		Str("component", "trading").
		Str("order_id", existing.OrderID).
		Msg("idempotent replay, returning existing order")
	return existing, nil
}

func (s *Service) submit(ctx context.Context, order *Order, req *types.OrderRequest) (*Order, error) {
	logger := log.With().
		Str("component", "trading").
		Str("order_id", order.OrderID).
		Str("broker", order.Broker).
		Logger()

	provider, err := s.gateway.CredentialProvider(req.Broker, order.ClientID)
	if err != nil {
		s.fail(order, types.OrderStatusInvalid, err)
		return nil, err
	}

	creds, err := provider.GetValidCredentials(ctx)
	if err != nil {
		s.fail(order, types.OrderStatusInvalid, err)
		return nil, err
	}

	adapter, err := s.gateway.OrderAdapter(req.Broker)
	if err != nil {
		s.fail(order, types.OrderStatusInvalid, err)
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := adapter.PlaceOrder(callCtx, creds, req)
	switch {
	case errors.Is(err, types.ErrBrokerTimeout):
		// The order may have reached the broker. Claiming failure here
		// could let a filled order go unrecorded, so the status stays
		// ambiguous and the caller is told to poll.
		order.Status = types.OrderStatusSubmitted
		order.ErrorMessage = "broker response pending, poll for status"
		logger.Warn().Msg("broker call timed out, order status unknown")
	case errors.Is(err, types.ErrBrokerRejected):
		order.Status = types.OrderStatusRejected
		order.ErrorMessage = err.Error()
		logger.Info().Msg("order rejected by broker")
	case err != nil:
		s.fail(order, types.OrderStatusInvalid, err)
		return nil, err
	default:
		order.Status = result.Status
		order.BrokerOrderID = result.BrokerOrderID
		logger.Info().
			Str("broker_order_id", result.BrokerOrderID).
			Str("status", string(result.Status)).
			Msg("order submitted")
	}

	order.UpdatedAt = time.Now()
	if dbErr := s.db.UpdateOrder(order); dbErr != nil {
		return nil, dbErr
	}
	return order, nil
}

// fail records a terminal pre-submission failure on the order row so that
// replays of the same key observe it.
func (s *Service) fail(order *Order, status types.OrderStatus, cause error) {
	order.Status = status
	order.ErrorMessage = cause.Error()
	order.UpdatedAt = time.Now()
	if err := s.db.UpdateOrder(order); err != nil {
		log.Error().Err(err).
			Str("component", "trading").
			Str("order_id", order.OrderID).
			Msg("failed to record order failure")
	}
}

// GetOrder retrieves one of the caller's orders.
func (s *Service) GetOrder(orderID, clientID string) (*Order, error) {
	return s.db.GetOrderByOrderIDAndClientID(orderID, clientID)
}

// ListOrders returns the caller's most recent orders.
func (s *Service) ListOrders(clientID string) ([]Order, error) {
	return s.db.ListOrders(clientID, defaultListLimit)
}

// validateRequest runs all schema checks before anything is persisted or
// any external call is made.
func validateRequest(idempotencyKey string, req *types.OrderRequest) error {
	if _, err := uuid.Parse(idempotencyKey); err != nil {
		return types.NewValidationError("idempotency key must be a UUID")
	}
	if !req.Broker.Valid() {
		return &types.UnsupportedBrokerError{Broker: req.Broker}
	}
	if req.Action != types.SideBuy && req.Action != types.SideSell {
		return types.NewValidationError("action must be %q or %q", types.SideBuy, types.SideSell)
	}
	if !symbolPattern.MatchString(req.Symbol) {
		return types.NewValidationError("symbol must be 1-10 uppercase letters")
	}
	if req.Quantity < minQuantity || req.Quantity > maxQuantity {
		return types.NewValidationError("quantity must be between %d and %d", minQuantity, maxQuantity)
	}

	switch req.OrderType {
	case types.OrderTypeMarket:
	case types.OrderTypeLimit:
		if req.LimitPrice == nil || !req.LimitPrice.IsPositive() {
			return types.NewValidationError("limit orders require a positive limit_price")
		}
	default:
		return types.NewValidationError("order_type must be %q or %q", types.OrderTypeMarket, types.OrderTypeLimit)
	}

	switch req.TimeInForce {
	case "":
		req.TimeInForce = "day"
	case "day", "gtc", "ioc", "fok":
	default:
		return types.NewValidationError("time_in_force must be one of day, gtc, ioc, fok")
	}
	return nil
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to submit new orders
// Requires a valid JWT token and an Idempotency-Key header
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req types.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.SubmitOrder(
			c.Request.Context(), c.GetString("clientID"), idempotencyKey, &req)
		response.Handle(c, order, err)
	}
}

// GetOrderStatusHandler handles GET requests to retrieve order status
// URL parameter: order_id
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(orderID, c.GetString("clientID"))
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests for the caller's order history
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := h.service.ListOrders(c.GetString("clientID"))
		response.Handle(c, orders, err)
	}
}
