package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/alerts"
	"github.com/ksred/brokerlink-api/internal/crypto"
	"github.com/ksred/brokerlink-api/internal/oauth"
	"github.com/ksred/brokerlink-api/internal/types"
)

// Manager owns the stored broker connections after the authorization flow
// completes: it hands out valid credentials, refreshing when needed, and
// runs the two-phase disconnect.
type Manager struct {
	db      *oauth.Database
	client  *oauth.TokenClient
	cipher  *crypto.Cipher
	alerter *alerts.Emitter
	skew    time.Duration
}

// NewManager creates the token lifecycle manager. skew is subtracted from
// the recorded expiry when deciding whether a token is still usable.
func NewManager(gormDB *gorm.DB, client *oauth.TokenClient, cipher *crypto.Cipher, alerter *alerts.Emitter, skew time.Duration) *Manager {
	return &Manager{
		db:      oauth.NewDatabase(gormDB),
		client:  client,
		cipher:  cipher,
		alerter: alerter,
		skew:    skew,
	}
}

// GetValidCredentials returns usable credentials for (user, broker). Tokens
// within skew of expiry are refreshed first; a token past expiry is never
// returned. A refresh the endpoint definitively refuses deactivates the
// connection and surfaces ErrReauthorizationRequired; an endpoint outage
// leaves the connection intact and the error is retryable.
//
// Refresh is not serialized across requests. Two callers may both refresh;
// brokers tolerate redundant refresh grants and the last row write wins, so
// callers must re-read credentials on every call rather than cache them.
func (m *Manager) GetValidCredentials(ctx context.Context, userID string, broker types.Broker) (*types.Credentials, error) {
	conn, err := m.db.GetActiveConnection(userID, string(broker))
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, types.ErrReauthorizationRequired
	}

	if time.Now().Before(conn.ExpiresAt.Add(-m.skew)) {
		return m.credentialsFrom(conn)
	}

	return m.refresh(ctx, conn, broker)
}

func (m *Manager) refresh(ctx context.Context, conn *oauth.BrokerConnection, broker types.Broker) (*types.Credentials, error) {
	logger := log.With().
		Str("component", "tokens").
		Str("user_id", conn.UserID).
		Str("broker", conn.Broker).
		Logger()

	refreshToken, err := m.cipher.Decrypt(conn.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	grant, err := m.client.Refresh(ctx, broker, refreshToken)
	if err != nil {
		var refused *oauth.GrantRefusedError
		if !errors.As(err, &refused) {
			// Endpoint down or unreachable. The stored refresh token may
			// still be good, so the connection survives and the caller
			// retries later.
			logger.Warn().Err(err).Msg("token refresh failed transiently")
			return nil, fmt.Errorf("token refresh failed: %w", err)
		}

		logger.Warn().Err(err).Msg("refresh token no longer accepted, reauthorization required")
		if dbErr := m.db.DeactivateConnection(conn.UserID, conn.Broker); dbErr != nil {
			logger.Error().Err(dbErr).Msg("failed to deactivate connection")
		}
		m.alerter.Emit(conn.UserID, alerts.KindReauthorizationRequired,
			fmt.Sprintf("Your %s connection has expired. Please reconnect your account.", conn.Broker))
		return nil, types.ErrReauthorizationRequired
	}

	encAccess, err := m.cipher.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, err
	}
	conn.AccessToken = encAccess
	if grant.RefreshToken != "" {
		encRefresh, err := m.cipher.Encrypt(grant.RefreshToken)
		if err != nil {
			return nil, err
		}
		conn.RefreshToken = encRefresh
	}
	conn.TokenType = grant.TokenType
	conn.ExpiresAt = grant.Expiry()
	if err := m.db.UpdateConnection(conn); err != nil {
		return nil, err
	}

	logger.Info().Time("expires_at", conn.ExpiresAt).Msg("token refreshed")
	return m.credentialsFrom(conn)
}

func (m *Manager) credentialsFrom(conn *oauth.BrokerConnection) (*types.Credentials, error) {
	accessToken, err := m.cipher.Decrypt(conn.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return &types.Credentials{
		AccessToken: accessToken,
		TokenType:   conn.TokenType,
		AccountID:   conn.AccountID,
		ExpiresAt:   conn.ExpiresAt,
	}, nil
}

// Revoke disconnects a broker. The broker-side revocation runs first; the
// local row is removed only once the broker confirms (or reports the token
// already revoked). On a provider failure the row is marked
// revocation_pending instead of being deleted, so local and remote state
// cannot silently diverge; a later disconnect retry converges.
func (m *Manager) Revoke(ctx context.Context, userID string, broker types.Broker) error {
	conn, err := m.db.GetConnection(userID, string(broker))
	if err != nil {
		return err
	}
	if conn == nil {
		// Nothing to disconnect; a repeated disconnect is a no-op.
		return nil
	}

	logger := log.With().
		Str("component", "tokens").
		Str("user_id", userID).
		Str("broker", string(broker)).
		Logger()

	accessToken, err := m.cipher.Decrypt(conn.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt access token: %w", err)
	}

	if err := m.client.Revoke(ctx, broker, accessToken); err != nil {
		logger.Warn().Err(err).Msg("broker revocation failed, marking revocation pending")
		if dbErr := m.db.MarkRevocationPending(userID, string(broker)); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("broker revocation failed, disconnect will be retried: %w", err)
	}

	if err := m.db.DeleteConnection(userID, string(broker)); err != nil {
		return err
	}
	logger.Info().Msg("broker disconnected")
	return nil
}
