package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/alerts"
	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/crypto"
	"github.com/ksred/brokerlink-api/internal/oauth"
	"github.com/ksred/brokerlink-api/internal/types"
)

const testKey = "6d79732d6465762d6b65792d6d79732d6465762d6b65792d3132333435363738"

type fixture struct {
	manager *Manager
	gormDB  *gorm.DB
	cipher  *crypto.Cipher
}

func newFixture(t *testing.T, endpointURL string) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&oauth.BrokerConnection{}, &alerts.Alert{}))

	cipher, err := crypto.NewCipher(testKey)
	require.NoError(t, err)

	clients := map[types.Broker]config.OAuthClientConfig{
		types.BrokerAlpaca: {
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			TokenURL:     endpointURL,
			RevokeURL:    endpointURL,
		},
	}

	manager := NewManager(db, oauth.NewTokenClient(clients), cipher, alerts.NewEmitter(db), time.Minute)
	return &fixture{manager: manager, gormDB: db, cipher: cipher}
}

func (f *fixture) seedConnection(t *testing.T, expiresAt time.Time) {
	t.Helper()
	encAccess, err := f.cipher.Encrypt("stored-access")
	require.NoError(t, err)
	encRefresh, err := f.cipher.Encrypt("stored-refresh")
	require.NoError(t, err)

	require.NoError(t, f.gormDB.Create(&oauth.BrokerConnection{
		UserID:       "u1",
		Broker:       string(types.BrokerAlpaca),
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
		AccountID:    "acct-1",
		Status:       oauth.ConnectionStatusActive,
		IsActive:     true,
	}).Error)
}

func (f *fixture) connection(t *testing.T) *oauth.BrokerConnection {
	t.Helper()
	var conn oauth.BrokerConnection
	err := f.gormDB.Where("user_id = ? AND broker = ?", "u1", "alpaca").First(&conn).Error
	require.NoError(t, err)
	return &conn
}

func TestGetValidCredentialsFreshTokenSkipsRefresh(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.seedConnection(t, time.Now().Add(time.Hour))

	creds, err := f.manager.GetValidCredentials(context.Background(), "u1", types.BrokerAlpaca)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", creds.AccessToken)
	assert.Equal(t, "acct-1", creds.AccountID)
	assert.Equal(t, 0, hits, "a token outside the skew window must not trigger a refresh")
}

func TestGetValidCredentialsRefreshesExpiringToken(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "stored-refresh", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oauth.TokenGrant{
			AccessToken:  "fresh-access",
			RefreshToken: "fresh-refresh",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
		})
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	// Inside the 60s skew window even though not yet expired.
	f.seedConnection(t, time.Now().Add(10*time.Second))

	creds, err := f.manager.GetValidCredentials(context.Background(), "u1", types.BrokerAlpaca)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", creds.AccessToken)
	assert.Equal(t, 1, hits)

	conn := f.connection(t)
	newRefresh, err := f.cipher.Decrypt(conn.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh", newRefresh)
	assert.True(t, conn.ExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestGetValidCredentialsRefreshFailureRequiresReauth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.seedConnection(t, time.Now().Add(-time.Minute))

	_, err := f.manager.GetValidCredentials(context.Background(), "u1", types.BrokerAlpaca)
	assert.ErrorIs(t, err, types.ErrReauthorizationRequired)

	conn := f.connection(t)
	assert.False(t, conn.IsActive, "a connection that cannot refresh must be deactivated")

	var alertCount int64
	require.NoError(t, f.gormDB.Model(&alerts.Alert{}).
		Where("user_id = ? AND kind = ?", "u1", alerts.KindReauthorizationRequired).
		Count(&alertCount).Error)
	assert.EqualValues(t, 1, alertCount)
}

func TestGetValidCredentialsTransientRefreshFailureKeepsConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "temporarily down", http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.seedConnection(t, time.Now().Add(10*time.Second))

	_, err := f.manager.GetValidCredentials(context.Background(), "u1", types.BrokerAlpaca)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrReauthorizationRequired)

	// An endpoint outage must not destroy a connection whose refresh token
	// is still good; only a definitive refusal deactivates it.
	conn := f.connection(t)
	assert.True(t, conn.IsActive)

	var alertCount int64
	require.NoError(t, f.gormDB.Model(&alerts.Alert{}).Count(&alertCount).Error)
	assert.EqualValues(t, 0, alertCount)
}

func TestGetValidCredentialsEndpointUnreachableKeepsConnection(t *testing.T) {
	// Nothing listens on this port.
	f := newFixture(t, "http://127.0.0.1:1")
	f.seedConnection(t, time.Now().Add(-time.Minute))

	_, err := f.manager.GetValidCredentials(context.Background(), "u1", types.BrokerAlpaca)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrReauthorizationRequired)

	conn := f.connection(t)
	assert.True(t, conn.IsActive)
}

func TestGetValidCredentialsWithoutConnection(t *testing.T) {
	f := newFixture(t, "http://unused")

	_, err := f.manager.GetValidCredentials(context.Background(), "u1", types.BrokerAlpaca)
	assert.ErrorIs(t, err, types.ErrReauthorizationRequired)
}

func TestRevokeDeletesRowOnBrokerConfirmation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.seedConnection(t, time.Now().Add(time.Hour))

	require.NoError(t, f.manager.Revoke(context.Background(), "u1", types.BrokerAlpaca))

	var count int64
	require.NoError(t, f.gormDB.Model(&oauth.BrokerConnection{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestRevokeTreatsAlreadyRevokedAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_token"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.seedConnection(t, time.Now().Add(time.Hour))

	require.NoError(t, f.manager.Revoke(context.Background(), "u1", types.BrokerAlpaca))

	var count int64
	require.NoError(t, f.gormDB.Model(&oauth.BrokerConnection{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestRevokeProviderFailureMarksPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.seedConnection(t, time.Now().Add(time.Hour))

	err := f.manager.Revoke(context.Background(), "u1", types.BrokerAlpaca)
	require.Error(t, err)

	// The row must survive with the pending marker, never an optimistic
	// delete that diverges from broker-side state.
	conn := f.connection(t)
	assert.Equal(t, oauth.ConnectionStatusRevocationPending, conn.Status)
	assert.False(t, conn.IsActive)
}

func TestRevokeWithoutConnectionIsNoOp(t *testing.T) {
	f := newFixture(t, "http://unused")
	assert.NoError(t, f.manager.Revoke(context.Background(), "u1", types.BrokerAlpaca))
}
