package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/session"
	"github.com/ksred/brokerlink-api/internal/types"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	cfg := &config.Config{GatewayBaseURL: "https://localhost:5000"}
	return NewFactory(nil, session.NewAdapter(cfg.GatewayBaseURL), cfg)
}

func TestFactoryRejectsUnsupportedBroker(t *testing.T) {
	factory := newTestFactory(t)

	_, err := factory.CredentialProvider("etrade", "u1")
	var unsupported *types.UnsupportedBrokerError
	require.ErrorAs(t, err, &unsupported)
	// The message must name the supported set, never be a bare error.
	assert.Contains(t, err.Error(), "alpaca")
	assert.Contains(t, err.Error(), "tradier")
	assert.Contains(t, err.Error(), "ibkr")

	_, err = factory.OrderAdapter("etrade")
	assert.ErrorAs(t, err, &unsupported)
}

func TestFactoryDispatchesEveryBroker(t *testing.T) {
	factory := newTestFactory(t)

	for _, b := range types.SupportedBrokers() {
		provider, err := factory.CredentialProvider(b, "u1")
		require.NoError(t, err, "broker %s", b)
		assert.NotNil(t, provider)

		adapter, err := factory.OrderAdapter(b)
		require.NoError(t, err, "broker %s", b)
		assert.NotNil(t, adapter)
	}
}

func TestAlpacaPlaceOrderSubmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		var body alpacaOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "AAPL", body.Symbol)
		assert.Equal(t, "10", body.Qty)
		assert.Equal(t, "150.5", body.LimitPrice)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(alpacaOrderResponse{ID: "bo-1", Status: "new"})
	}))
	defer server.Close()

	adapter := newAlpacaAdapter(server.URL)
	price := decimal.RequireFromString("150.5")
	result, err := adapter.PlaceOrder(context.Background(), &types.Credentials{AccessToken: "token-1"}, &types.OrderRequest{
		Broker:      types.BrokerAlpaca,
		Action:      types.SideBuy,
		Symbol:      "AAPL",
		Quantity:    10,
		OrderType:   types.OrderTypeLimit,
		LimitPrice:  &price,
		TimeInForce: "day",
	})
	require.NoError(t, err)
	assert.Equal(t, "bo-1", result.BrokerOrderID)
	assert.Equal(t, types.OrderStatusSubmitted, result.Status)
}

func TestAlpacaPlaceOrderRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"insufficient buying power"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	adapter := newAlpacaAdapter(server.URL)
	_, err := adapter.PlaceOrder(context.Background(), &types.Credentials{AccessToken: "token-1"}, &types.OrderRequest{
		Broker:      types.BrokerAlpaca,
		Action:      types.SideBuy,
		Symbol:      "AAPL",
		Quantity:    10,
		OrderType:   types.OrderTypeMarket,
		TimeInForce: "day",
	})
	assert.ErrorIs(t, err, types.ErrBrokerRejected)
}

func TestAlpacaPlaceOrderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	adapter := newAlpacaAdapter(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := adapter.PlaceOrder(ctx, &types.Credentials{AccessToken: "token-1"}, &types.OrderRequest{
		Broker:      types.BrokerAlpaca,
		Action:      types.SideSell,
		Symbol:      "AAPL",
		Quantity:    5,
		OrderType:   types.OrderTypeMarket,
		TimeInForce: "day",
	})
	assert.ErrorIs(t, err, types.ErrBrokerTimeout)
}

func TestAlpacaPlaceOrderDialFailureIsDefinitive(t *testing.T) {
	// Nothing listens on this port: the request never left the process, so
	// the outcome must not be the ambiguous timeout that tells callers to
	// poll for a status that will never arrive.
	adapter := newAlpacaAdapter("http://127.0.0.1:1")

	_, err := adapter.PlaceOrder(context.Background(), &types.Credentials{AccessToken: "token-1"}, &types.OrderRequest{
		Broker:      types.BrokerAlpaca,
		Action:      types.SideBuy,
		Symbol:      "AAPL",
		Quantity:    1,
		OrderType:   types.OrderTypeMarket,
		TimeInForce: "day",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrBrokerTimeout)
}

func TestTradierPlaceOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acct-9/orders", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "equity", r.Form.Get("class"))
		assert.Equal(t, "MSFT", r.Form.Get("symbol"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"order":{"id":4217,"status":"ok"}}`))
	}))
	defer server.Close()

	adapter := newTradierAdapter(server.URL)
	result, err := adapter.PlaceOrder(context.Background(), &types.Credentials{AccessToken: "token-1", AccountID: "acct-9"}, &types.OrderRequest{
		Broker:      types.BrokerTradier,
		Action:      types.SideBuy,
		Symbol:      "MSFT",
		Quantity:    3,
		OrderType:   types.OrderTypeMarket,
		TimeInForce: "day",
	})
	require.NoError(t, err)
	assert.Equal(t, "4217", result.BrokerOrderID)
	assert.Equal(t, types.OrderStatusSubmitted, result.Status)
}
