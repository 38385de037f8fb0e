package oauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/types"
)

// TokenGrant is a token endpoint response, for both the authorization-code
// exchange and the refresh grant.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	AccountID    string `json:"account_id,omitempty"`
}

// Expiry converts the relative expires_in into an absolute deadline.
func (g *TokenGrant) Expiry() time.Time {
	return time.Now().Add(time.Duration(g.ExpiresIn) * time.Second)
}

// GrantRefusedError is a definitive refusal from the token endpoint: the
// grant itself is invalid, revoked or expired. Transport failures and 5xx
// responses are not refusals and surface as plain errors, since the stored
// grant may still be good once the endpoint recovers.
type GrantRefusedError struct {
	StatusCode int
	Body       string
}

func (e *GrantRefusedError) Error() string {
	return fmt.Sprintf("token endpoint refused the grant: status %d: %s", e.StatusCode, e.Body)
}

// TokenClient talks to broker OAuth2 token endpoints. All calls are
// synchronous with a bounded timeout; transient transport failures get a
// small retry budget.
type TokenClient struct {
	http    *resty.Client
	clients map[types.Broker]config.OAuthClientConfig
}

// NewTokenClient builds a TokenClient over the configured broker set.
func NewTokenClient(clients map[types.Broker]config.OAuthClientConfig) *TokenClient {
	httpClient := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &TokenClient{
		http:    httpClient,
		clients: clients,
	}
}

// ClientConfig returns the OAuth client registration for a broker.
func (c *TokenClient) ClientConfig(broker types.Broker) (config.OAuthClientConfig, bool) {
	cfg, ok := c.clients[broker]
	return cfg, ok
}

// Exchange trades an authorization code plus PKCE verifier for tokens.
func (c *TokenClient) Exchange(ctx context.Context, broker types.Broker, code, verifier string) (*TokenGrant, error) {
	cfg, ok := c.clients[broker]
	if !ok {
		return nil, &types.ConfigurationError{Broker: broker}
	}

	return c.grant(ctx, cfg.TokenURL, map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
		"redirect_uri":  cfg.RedirectURI,
		"code_verifier": verifier,
	})
}

// Refresh trades a refresh token for a new token pair. Brokers tolerate
// redundant refresh calls, so this is safe to race.
func (c *TokenClient) Refresh(ctx context.Context, broker types.Broker, refreshToken string) (*TokenGrant, error) {
	cfg, ok := c.clients[broker]
	if !ok {
		return nil, &types.ConfigurationError{Broker: broker}
	}

	return c.grant(ctx, cfg.TokenURL, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
	})
}

// Revoke invalidates a token at the broker. Per RFC 7009 an already-revoked
// or unknown token answers 200; a 400 invalid_token body is treated the same
// way so a retried disconnect converges instead of wedging.
func (c *TokenClient) Revoke(ctx context.Context, broker types.Broker, token string) error {
	cfg, ok := c.clients[broker]
	if !ok {
		return &types.ConfigurationError{Broker: broker}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"token":         token,
			"client_id":     cfg.ClientID,
			"client_secret": cfg.ClientSecret,
		}).
		Post(cfg.RevokeURL)
	if err != nil {
		return fmt.Errorf("revocation request failed: %w", err)
	}

	if resp.IsSuccess() {
		return nil
	}
	if resp.StatusCode() == 400 && strings.Contains(resp.String(), "invalid_token") {
		return nil
	}
	return fmt.Errorf("broker refused revocation: status %d", resp.StatusCode())
}

func (c *TokenClient) grant(ctx context.Context, tokenURL string, form map[string]string) (*TokenGrant, error) {
	var grant TokenGrant
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&grant).
		Post(tokenURL)
	if err != nil {
		return nil, fmt.Errorf("token endpoint unreachable: %w", err)
	}
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		return nil, &GrantRefusedError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}
	return &grant, nil
}
