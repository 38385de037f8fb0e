package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/ksred/brokerlink-api/internal/types"
)

// OAuthClientConfig holds one broker's registered OAuth2 application.
type OAuthClientConfig struct {
	ClientID     string `split_words:"true"`
	ClientSecret string `split_words:"true"`
	AuthURL      string `split_words:"true"`
	TokenURL     string `split_words:"true"`
	RevokeURL    string `split_words:"true"`
	RedirectURI  string `split_words:"true"`
	OrderURL     string `split_words:"true"`
}

// Config is the full environment-driven configuration for the service.
type Config struct {
	Port         string `envconfig:"PORT" default:"8080"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"brokerlink.db"`
	JWTSecret    string `envconfig:"JWT_SECRET" default:"brokerlink-dev-secret"`

	// Hex-encoded 32 byte key for at-rest token encryption.
	EncryptionKey string `envconfig:"CREDENTIAL_ENCRYPTION_KEY" default:"6d79732d6465762d6b65792d6d79732d6465762d6b65792d3132333435363738"`

	WebhookSecret string `envconfig:"WEBHOOK_SIGNING_SECRET" default:"whsec-dev-secret"`

	StateTTL      time.Duration `envconfig:"OAUTH_STATE_TTL" default:"15m"`
	RefreshSkew   time.Duration `envconfig:"TOKEN_REFRESH_SKEW" default:"60s"`
	BrokerTimeout time.Duration `envconfig:"BROKER_ORDER_TIMEOUT" default:"10s"`

	GatewayBaseURL    string        `envconfig:"IBKR_GATEWAY_URL" default:"https://localhost:5000"`
	KeepAliveInterval time.Duration `envconfig:"GATEWAY_KEEPALIVE_INTERVAL" default:"30s"`

	Alpaca  OAuthClientConfig `envconfig:"ALPACA"`
	Tradier OAuthClientConfig `envconfig:"TRADIER"`
}

// GetConfig loads the configuration from the environment, panicking on
// malformed values since the process cannot run without them.
func GetConfig() *Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	cfg.applyBrokerDefaults()
	return &cfg
}

// applyBrokerDefaults fills in the well-known broker endpoints so only the
// client id/secret pairs have to come from the environment.
func (c *Config) applyBrokerDefaults() {
	if c.Alpaca.AuthURL == "" {
		c.Alpaca.AuthURL = "https://app.alpaca.markets/oauth/authorize"
	}
	if c.Alpaca.TokenURL == "" {
		c.Alpaca.TokenURL = "https://api.alpaca.markets/oauth/token"
	}
	if c.Alpaca.RevokeURL == "" {
		c.Alpaca.RevokeURL = "https://api.alpaca.markets/oauth/revoke"
	}
	if c.Alpaca.OrderURL == "" {
		c.Alpaca.OrderURL = "https://api.alpaca.markets"
	}
	if c.Tradier.AuthURL == "" {
		c.Tradier.AuthURL = "https://api.tradier.com/v1/oauth/authorize"
	}
	if c.Tradier.TokenURL == "" {
		c.Tradier.TokenURL = "https://api.tradier.com/v1/oauth/accesstoken"
	}
	if c.Tradier.RevokeURL == "" {
		c.Tradier.RevokeURL = "https://api.tradier.com/v1/oauth/revoke"
	}
	if c.Tradier.OrderURL == "" {
		c.Tradier.OrderURL = "https://api.tradier.com"
	}
}

// OAuthClients maps each OAuth2-capable broker to its client configuration.
// Brokers with an empty client id are considered unconfigured and are left
// out, which surfaces as a ConfigurationError at flow start.
func (c *Config) OAuthClients() map[types.Broker]OAuthClientConfig {
	clients := make(map[types.Broker]OAuthClientConfig)
	if c.Alpaca.ClientID != "" {
		clients[types.BrokerAlpaca] = c.Alpaca
	}
	if c.Tradier.ClientID != "" {
		clients[types.BrokerTradier] = c.Tradier
	}
	return clients
}
