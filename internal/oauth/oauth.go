package oauth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/crypto"
	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/response"
)

// Service runs the PKCE authorization flow: it hands out authorization URLs
// and completes the code exchange, persisting broker connections.
type Service struct {
	db       *Database
	tokens   *TokenClient
	cipher   *crypto.Cipher
	stateTTL time.Duration
}

// NewService creates the PKCE flow service.
func NewService(gormDB *gorm.DB, tokens *TokenClient, cipher *crypto.Cipher, stateTTL time.Duration) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		tokens:   tokens,
		cipher:   cipher,
		stateTTL: stateTTL,
	}
}

// BeginAuthorization generates a PKCE verifier and anti-CSRF state, persists
// the verifier, and returns the broker's authorization URL.
func (s *Service) BeginAuthorization(userID string, broker types.Broker) (string, error) {
	cfg, ok := s.tokens.ClientConfig(broker)
	if !ok {
		return "", &types.ConfigurationError{Broker: broker}
	}

	// Opportunistic cleanup of abandoned flows.
	if err := s.db.DeleteExpiredVerifiers(s.stateTTL); err != nil {
		log.Warn().Err(err).Str("component", "oauth").Msg("failed to clear expired verifiers")
	}

	verifier, err := generateVerifier()
	if err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}

	state, err := encodeState(userID)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	record := &PKCEVerifier{
		UserID:       userID,
		Broker:       string(broker),
		State:        state,
		CodeVerifier: verifier,
		CreatedAt:    time.Now(),
	}
	if err := s.db.CreateVerifier(record); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", cfg.ClientID)
	params.Set("redirect_uri", cfg.RedirectURI)
	params.Set("state", state)
	params.Set("code_challenge", challengeS256(verifier))
	params.Set("code_challenge_method", "S256")

	return cfg.AuthURL + "?" + params.Encode(), nil
}

// CompleteAuthorization validates the callback and exchanges the code for
// tokens. Validation short-circuits on first failure and writes nothing.
// The verifier is consumed only after a successful exchange: a transient
// exchange failure leaves it in place for a retry, a success removes it
// immediately so the state cannot be replayed.
func (s *Service) CompleteAuthorization(ctx context.Context, userID string, broker types.Broker, code, state, callerIP string) (*BrokerConnection, error) {
	logger := log.With().
		Str("component", "oauth").
		Str("user_id", userID).
		Str("broker", string(broker)).
		Str("caller_ip", callerIP).
		Logger()

	stateUser, issuedAt, err := decodeState(state)
	if err != nil || stateUser != userID {
		logger.Warn().Err(err).Msg("oauth state mismatch")
		return nil, types.ErrStateMismatch
	}

	if time.Since(issuedAt) > s.stateTTL {
		logger.Warn().Time("issued_at", issuedAt).Msg("oauth state expired")
		return nil, types.ErrStateExpired
	}

	verifier, err := s.db.GetVerifierByState(state)
	if err != nil {
		return nil, err
	}
	if verifier == nil {
		logger.Warn().Msg("no pending verifier for state")
		return nil, types.ErrVerifierNotFound
	}
	if verifier.UserID != userID || verifier.Broker != string(broker) {
		logger.Warn().Msg("verifier does not match caller")
		return nil, types.ErrStateMismatch
	}

	grant, err := s.tokens.Exchange(ctx, broker, code, verifier.CodeVerifier)
	if err != nil {
		logger.Error().Err(err).Msg("code exchange failed")
		return nil, err
	}

	encAccess, err := s.cipher.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh, err := s.cipher.Encrypt(grant.RefreshToken)
	if err != nil {
		return nil, err
	}

	conn := &BrokerConnection{
		UserID:       userID,
		Broker:       string(broker),
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
		TokenType:    grant.TokenType,
		ExpiresAt:    grant.Expiry(),
		AccountID:    grant.AccountID,
		Status:       ConnectionStatusActive,
		IsActive:     true,
	}
	if err := s.db.UpsertConnection(conn); err != nil {
		return nil, err
	}

	if _, err := s.db.ConsumeVerifier(state); err != nil {
		logger.Error().Err(err).Msg("failed to consume verifier after exchange")
		return nil, err
	}

	logger.Info().Msg("broker connected")
	return conn, nil
}

// Status reports the connection state for each supported broker, or for one
// broker when filter is non-empty.
func (s *Service) Status(userID string, filter types.Broker) ([]ConnectionStatus, error) {
	conns, err := s.db.ListConnections(userID)
	if err != nil {
		return nil, err
	}

	byBroker := make(map[string]BrokerConnection, len(conns))
	for _, conn := range conns {
		byBroker[conn.Broker] = conn
	}

	brokers := types.SupportedBrokers()
	if filter != "" {
		if !filter.Valid() {
			return nil, &types.UnsupportedBrokerError{Broker: filter}
		}
		brokers = []types.Broker{filter}
	}

	statuses := make([]ConnectionStatus, 0, len(brokers))
	for _, b := range brokers {
		status := ConnectionStatus{Broker: string(b)}
		if conn, ok := byBroker[string(b)]; ok && conn.IsActive {
			status.Connected = true
			expires := conn.ExpiresAt
			status.ExpiresAt = &expires
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Revoker disconnects a broker, confirming revocation remotely before local
// state is removed. Implemented by the token lifecycle manager.
type Revoker interface {
	Revoke(ctx context.Context, userID string, broker types.Broker) error
}

// GinHandlers contains HTTP handlers for the OAuth endpoints
type GinHandlers struct {
	service *Service
	revoker Revoker
}

// NewGinHandlers creates a new set of HTTP handlers for the OAuth endpoints
func NewGinHandlers(service *Service, revoker Revoker) *GinHandlers {
	return &GinHandlers{
		service: service,
		revoker: revoker,
	}
}

type brokerRequest struct {
	Broker types.Broker `json:"broker"`
}

type callbackRequest struct {
	Broker types.Broker `json:"broker"`
	Code   string       `json:"code"`
	State  string       `json:"state"`
}

// InitiateHandler handles POST requests to start a broker authorization flow
func (h *GinHandlers) InitiateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req brokerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if !req.Broker.Valid() {
			response.Handle(c, nil, &types.UnsupportedBrokerError{Broker: req.Broker})
			return
		}

		authURL, err := h.service.BeginAuthorization(c.GetString("clientID"), req.Broker)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		// Authorization URLs are single-use, the embedded state must not be
		// served from any cache.
		c.Header("Cache-Control", "no-store")
		response.Success(c, gin.H{"url": authURL})
	}
}

// CallbackHandler handles POST requests completing the authorization flow
func (h *GinHandlers) CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req callbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if req.Code == "" || req.State == "" {
			response.BadRequest(c, "code and state are required")
			return
		}

		conn, err := h.service.CompleteAuthorization(
			c.Request.Context(), c.GetString("clientID"), req.Broker,
			req.Code, req.State, c.ClientIP())
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{
			"success":    true,
			"expires_at": conn.ExpiresAt,
		})
	}
}

// DisconnectHandler handles POST requests to revoke a broker connection
func (h *GinHandlers) DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req brokerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if !req.Broker.Valid() {
			response.Handle(c, nil, &types.UnsupportedBrokerError{Broker: req.Broker})
			return
		}

		err := h.revoker.Revoke(c.Request.Context(), c.GetString("clientID"), req.Broker)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"success": true})
	}
}

// StatusHandler handles GET requests for per-broker connection status
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, err := h.service.Status(
			c.GetString("clientID"), types.Broker(c.Query("broker")))
		response.Handle(c, statuses, err)
	}
}
