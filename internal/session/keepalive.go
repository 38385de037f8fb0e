package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// KeepAliveRunner tickles the gateway on an interval while a session is
// active. Without it the broker silently expires the session server-side.
type KeepAliveRunner struct {
	adapter  *Adapter
	interval time.Duration
}

func NewKeepAliveRunner(adapter *Adapter, interval time.Duration) *KeepAliveRunner {
	return &KeepAliveRunner{
		adapter:  adapter,
		interval: interval,
	}
}

// Start begins the keep-alive loop and blocks until ctx is cancelled.
func (r *KeepAliveRunner) Start(ctx context.Context) {
	logger := log.With().Str("component", "session_keepalive").Logger()
	logger.Info().Dur("interval", r.interval).Msg("starting gateway keep-alive")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down gateway keep-alive")
			return
		case <-ticker.C:
			if r.adapter.State() != StateActive {
				continue
			}
			if err := r.adapter.KeepAlive(ctx); err != nil {
				logger.Warn().Err(err).Msg("gateway keep-alive failed")
			}
		}
	}
}
