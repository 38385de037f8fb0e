package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the credential and order subsystems.
// Handlers map these onto HTTP statuses in pkg/response.
var (
	// OAuth flow integrity failures. Never retried automatically, always
	// logged with caller context for audit.
	ErrStateMismatch    = errors.New("oauth state does not belong to the authenticated user")
	ErrStateExpired     = errors.New("oauth state has expired, restart the connection flow")
	ErrVerifierNotFound = errors.New("no pending authorization found for this state")

	// ErrReauthorizationRequired means the stored broker connection can no
	// longer be refreshed and the user must reconnect.
	ErrReauthorizationRequired = errors.New("broker connection is no longer valid, please reconnect")

	// ErrSignatureInvalid is returned for webhook payloads whose signature
	// does not verify. Such payloads are never processed.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	// Broker call outcomes. A timeout leaves the order status ambiguous;
	// a rejection is terminal.
	ErrBrokerTimeout  = errors.New("broker did not respond in time, order status unknown")
	ErrBrokerRejected = errors.New("order rejected by broker")

	// Session gateway failure modes, each with its own remediation.
	ErrGatewayUnreachable = errors.New("trading gateway is not running, start the gateway and retry")
	ErrNotAuthenticated   = errors.New("gateway session is not authenticated, complete the two-factor login in the gateway")
	ErrSessionExpired     = errors.New("gateway session has expired, log in to the gateway again")
)

// ValidationError reports a malformed or out-of-bounds user input. It is
// raised before any persistence or external call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConfigurationError means a broker has no registered OAuth2 client
// configuration, so an authorization flow cannot be started for it.
type ConfigurationError struct {
	Broker Broker
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no oauth client configuration registered for broker %q", e.Broker)
}

// UnsupportedBrokerError names the broker that failed dispatch and the full
// supported set, so callers are never left with a bare generic error.
type UnsupportedBrokerError struct {
	Broker Broker
}

func (e *UnsupportedBrokerError) Error() string {
	return fmt.Sprintf("unsupported broker %q, supported brokers: %v", e.Broker, SupportedBrokers())
}
