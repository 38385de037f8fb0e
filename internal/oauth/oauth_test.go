package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/crypto"
	"github.com/ksred/brokerlink-api/internal/types"
)

const testKey = "6d79732d6465762d6b65792d6d79732d6465762d6b65792d3132333435363738"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&BrokerConnection{}, &PKCEVerifier{}))
	return db
}

func newTestService(t *testing.T, tokenURL string) (*Service, *crypto.Cipher) {
	t.Helper()
	cipher, err := crypto.NewCipher(testKey)
	require.NoError(t, err)

	clients := map[types.Broker]config.OAuthClientConfig{
		types.BrokerAlpaca: {
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			AuthURL:      "https://broker.example/oauth/authorize",
			TokenURL:     tokenURL,
			RevokeURL:    tokenURL,
			RedirectURI:  "https://app.example/callback",
		},
	}
	return NewService(newTestDB(t), NewTokenClient(clients), cipher, 15*time.Minute), cipher
}

func grantServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.NotEmpty(t, r.Form.Get("code_verifier"))
		if hits != nil {
			*hits++
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenGrant{
			AccessToken:  "access-123",
			RefreshToken: "refresh-456",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			AccountID:    "acct-1",
		})
	}))
}

func TestBeginAuthorizationBuildsPKCEURL(t *testing.T) {
	svc, _ := newTestService(t, "http://unused")

	authURL, err := svc.BeginAuthorization("u1", types.BrokerAlpaca)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL, "https://broker.example/oauth/authorize?"))

	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("code_challenge"))
	assert.NotEmpty(t, query.Get("state"))

	verifier, err := svc.db.GetVerifierByState(query.Get("state"))
	require.NoError(t, err)
	require.NotNil(t, verifier)
	assert.Equal(t, "u1", verifier.UserID)
}

func TestBeginAuthorizationUnconfiguredBroker(t *testing.T) {
	svc, _ := newTestService(t, "http://unused")

	_, err := svc.BeginAuthorization("u1", types.BrokerTradier)
	var configErr *types.ConfigurationError
	assert.ErrorAs(t, err, &configErr)
}

func TestCompleteAuthorizationStoresEncryptedConnection(t *testing.T) {
	server := grantServer(t, nil)
	defer server.Close()
	svc, cipher := newTestService(t, server.URL)

	authURL, err := svc.BeginAuthorization("u1", types.BrokerAlpaca)
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	conn, err := svc.CompleteAuthorization(context.Background(), "u1", types.BrokerAlpaca, "code-1", state, "10.0.0.1")
	require.NoError(t, err)

	assert.True(t, conn.IsActive)
	assert.Equal(t, "acct-1", conn.AccountID)
	assert.NotEqual(t, "access-123", conn.AccessToken)

	plaintext, err := cipher.Decrypt(conn.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-123", plaintext)

	// Verifier must be gone once the exchange succeeded.
	verifier, err := svc.db.GetVerifierByState(state)
	require.NoError(t, err)
	assert.Nil(t, verifier)
}

func TestCompleteAuthorizationConsumesVerifierOnce(t *testing.T) {
	hits := 0
	server := grantServer(t, &hits)
	defer server.Close()
	svc, _ := newTestService(t, server.URL)

	authURL, err := svc.BeginAuthorization("u1", types.BrokerAlpaca)
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	_, err = svc.CompleteAuthorization(context.Background(), "u1", types.BrokerAlpaca, "code-1", state, "10.0.0.1")
	require.NoError(t, err)

	_, err = svc.CompleteAuthorization(context.Background(), "u1", types.BrokerAlpaca, "code-1", state, "10.0.0.1")
	assert.ErrorIs(t, err, types.ErrVerifierNotFound)
	assert.Equal(t, 1, hits)
}

func TestCompleteAuthorizationStateMismatch(t *testing.T) {
	svc, _ := newTestService(t, "http://unused")

	state, err := encodeState("someone-else")
	require.NoError(t, err)

	_, err = svc.CompleteAuthorization(context.Background(), "u1", types.BrokerAlpaca, "code-1", state, "10.0.0.1")
	assert.ErrorIs(t, err, types.ErrStateMismatch)

	_, err = svc.CompleteAuthorization(context.Background(), "u1", types.BrokerAlpaca, "code-1", "garbage-state", "10.0.0.1")
	assert.ErrorIs(t, err, types.ErrStateMismatch)
}

func TestCompleteAuthorizationStateExpired(t *testing.T) {
	svc, _ := newTestService(t, "http://unused")

	state, err := encodeStateAt("u1", time.Now().Add(-31*time.Minute))
	require.NoError(t, err)
	require.NoError(t, svc.db.CreateVerifier(&PKCEVerifier{
		UserID:       "u1",
		Broker:       string(types.BrokerAlpaca),
		State:        state,
		CodeVerifier: "verifier",
		CreatedAt:    time.Now().Add(-31 * time.Minute),
	}))

	_, err = svc.CompleteAuthorization(context.Background(), "u1", types.BrokerAlpaca, "code-1", state, "10.0.0.1")
	assert.ErrorIs(t, err, types.ErrStateExpired)
}

func TestCompleteAuthorizationKeepsVerifierOnExchangeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
	}))
	defer server.Close()
	svc, _ := newTestService(t, server.URL)

	authURL, err := svc.BeginAuthorization("u1", types.BrokerAlpaca)
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	_, err = svc.CompleteAuthorization(context.Background(), "u1", types.BrokerAlpaca, "code-1", state, "10.0.0.1")
	require.Error(t, err)

	// The verifier survives a transient exchange failure so the callback
	// can be retried.
	verifier, dbErr := svc.db.GetVerifierByState(state)
	require.NoError(t, dbErr)
	assert.NotNil(t, verifier)
}

func TestStatusReportsPerBrokerConnections(t *testing.T) {
	server := grantServer(t, nil)
	defer server.Close()
	svc, _ := newTestService(t, server.URL)

	authURL, err := svc.BeginAuthorization("u1", types.BrokerAlpaca)
	require.NoError(t, err)
	state := stateFromURL(t, authURL)
	_, err = svc.CompleteAuthorization(context.Background(), "u1", types.BrokerAlpaca, "code-1", state, "10.0.0.1")
	require.NoError(t, err)

	statuses, err := svc.Status("u1", "")
	require.NoError(t, err)
	require.Len(t, statuses, len(types.SupportedBrokers()))

	byBroker := make(map[string]ConnectionStatus)
	for _, s := range statuses {
		byBroker[s.Broker] = s
	}
	assert.True(t, byBroker["alpaca"].Connected)
	assert.NotNil(t, byBroker["alpaca"].ExpiresAt)
	assert.False(t, byBroker["tradier"].Connected)
	assert.False(t, byBroker["ibkr"].Connected)
}

func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}
