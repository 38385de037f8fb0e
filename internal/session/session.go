package session

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/ksred/brokerlink-api/internal/types"
)

// State is the session lifecycle:
// disconnected -> authenticating -> active -> expired -> disconnected.
// The two-factor login itself happens out of band in the gateway's browser
// UI; this adapter only observes the result.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateAuthenticating State = "authenticating"
	StateActive         State = "active"
	StateExpired        State = "expired"
)

// Gateway sessions die broker-side after a fixed duration regardless of
// keep-alives.
const sessionDuration = 24 * time.Hour

type authStatus struct {
	Authenticated bool `json:"authenticated"`
	Connected     bool `json:"connected"`
}

type accountsResponse struct {
	Accounts []string `json:"accounts"`
}

// Adapter provides credentials for the legacy broker through its locally
// run gateway process. The gateway holds the actual session; the adapter
// probes it rather than caching authentication across calls.
type Adapter struct {
	http *resty.Client

	mu              sync.Mutex
	state           State
	accountID       string
	authenticatedAt time.Time
}

// NewAdapter builds an adapter for a gateway at baseURL. The gateway serves
// a self-signed certificate on localhost, hence the TLS verification skip.
func NewAdapter(baseURL string) *Adapter {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})

	return &Adapter{
		http:  httpClient,
		state: StateDisconnected,
	}
}

// State returns the last observed session state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Authenticate probes the gateway and updates the observed state. Each
// failure mode is distinct so the user gets the right remediation: start
// the gateway, complete the 2FA login, or log in again after expiry.
func (a *Adapter) Authenticate(ctx context.Context) error {
	var status authStatus
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/v1/api/iserver/auth/status")

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.state = StateDisconnected
		return types.ErrGatewayUnreachable
	}
	if !resp.IsSuccess() {
		a.state = StateDisconnected
		return types.ErrGatewayUnreachable
	}

	if !status.Authenticated {
		if a.state == StateActive || a.state == StateExpired {
			a.state = StateExpired
			return types.ErrSessionExpired
		}
		a.state = StateAuthenticating
		return types.ErrNotAuthenticated
	}

	if a.state != StateActive {
		a.authenticatedAt = time.Now()
	}
	a.state = StateActive
	return nil
}

// KeepAlive tickles the gateway so the broker-side session survives. Must
// run roughly every 30 seconds while the session is active.
func (a *Adapter) KeepAlive(ctx context.Context) error {
	resp, err := a.http.R().
		SetContext(ctx).
		Post("/v1/api/tickle")

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.state = StateDisconnected
		return types.ErrGatewayUnreachable
	}
	if !resp.IsSuccess() {
		a.state = StateExpired
		return types.ErrSessionExpired
	}

	if time.Since(a.authenticatedAt) > sessionDuration {
		a.state = StateExpired
		return types.ErrSessionExpired
	}
	return nil
}

// GetValidCredentials satisfies the credential provider contract. Gateway
// sessions carry no bearer token; the returned credentials only identify
// the account, and the gateway authenticates the order call itself.
func (a *Adapter) GetValidCredentials(ctx context.Context) (*types.Credentials, error) {
	if err := a.Authenticate(ctx); err != nil {
		return nil, err
	}

	accountID, err := a.fetchAccountID(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	expiresAt := a.authenticatedAt.Add(sessionDuration)
	a.mu.Unlock()

	return &types.Credentials{
		TokenType: "session",
		AccountID: accountID,
		ExpiresAt: expiresAt,
	}, nil
}

func (a *Adapter) fetchAccountID(ctx context.Context) (string, error) {
	a.mu.Lock()
	cached := a.accountID
	a.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var accounts accountsResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&accounts).
		Get("/v1/api/iserver/accounts")
	if err != nil || !resp.IsSuccess() {
		return "", types.ErrGatewayUnreachable
	}
	if len(accounts.Accounts) == 0 {
		return "", types.ErrNotAuthenticated
	}

	a.mu.Lock()
	a.accountID = accounts.Accounts[0]
	a.mu.Unlock()

	log.Debug().
		Str("component", "session").
		Str("account_id", accounts.Accounts[0]).
		Msg("resolved gateway account")
	return accounts.Accounts[0], nil
}
