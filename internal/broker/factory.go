package broker

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/session"
	"github.com/ksred/brokerlink-api/internal/tokens"
	"github.com/ksred/brokerlink-api/internal/types"
)

// CredentialProvider yields valid credentials for one (user, broker) pair.
// OAuth2 and session brokers both satisfy it; callers never learn which
// variant they hold.
type CredentialProvider interface {
	GetValidCredentials(ctx context.Context) (*types.Credentials, error)
}

// OrderAdapter places an order at one broker.
type OrderAdapter interface {
	PlaceOrder(ctx context.Context, creds *types.Credentials, req *types.OrderRequest) (*types.BrokerOrder, error)
}

// oauthProvider binds the token lifecycle manager to one user and broker.
type oauthProvider struct {
	manager *tokens.Manager
	userID  string
	broker  types.Broker
}

func (p *oauthProvider) GetValidCredentials(ctx context.Context) (*types.Credentials, error) {
	return p.manager.GetValidCredentials(ctx, p.userID, p.broker)
}

// Factory is the single seam where broker identifiers resolve to concrete
// credential providers and order adapters. Adding a broker means touching
// this package only.
type Factory struct {
	manager  *tokens.Manager
	session  *session.Adapter
	adapters map[types.Broker]OrderAdapter
}

// NewFactory wires the supported broker set.
func NewFactory(manager *tokens.Manager, sessionAdapter *session.Adapter, cfg *config.Config) *Factory {
	return &Factory{
		manager: manager,
		session: sessionAdapter,
		adapters: map[types.Broker]OrderAdapter{
			types.BrokerAlpaca:  newAlpacaAdapter(cfg.Alpaca.OrderURL),
			types.BrokerTradier: newTradierAdapter(cfg.Tradier.OrderURL),
			types.BrokerIBKR:    newIBKRAdapter(cfg.GatewayBaseURL),
		},
	}
}

// CredentialProvider dispatches on the broker identifier.
func (f *Factory) CredentialProvider(broker types.Broker, userID string) (CredentialProvider, error) {
	switch broker {
	case types.BrokerAlpaca, types.BrokerTradier:
		return &oauthProvider{manager: f.manager, userID: userID, broker: broker}, nil
	case types.BrokerIBKR:
		return f.session, nil
	default:
		return nil, &types.UnsupportedBrokerError{Broker: broker}
	}
}

// OrderAdapter returns the order client for a broker.
func (f *Factory) OrderAdapter(broker types.Broker) (OrderAdapter, error) {
	adapter, ok := f.adapters[broker]
	if !ok {
		return nil, &types.UnsupportedBrokerError{Broker: broker}
	}
	return adapter, nil
}

// mapTransportError classifies an outbound order call failure. A timeout
// means the request may have reached the broker, so the order's fate is
// unknown and the ambiguous outcome is returned. A dial or resolution
// failure means the request never left the process; that is a definitive
// failure, not something to poll for.
func mapTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.ErrBrokerTimeout
	}
	return fmt.Errorf("broker request failed before submission: %w", err)
}
