package client

import (
	"context"
	"time"

	"github.com/avast/retry-go"

	"github.com/dbxops/mcpwire/pkg/logging"
)

// Reconnect tears the current connection down and brings up a fresh one:
// disconnect, a fixed delay so a flapping server gets a moment to settle,
// then connect. The new connection performs a full handshake and receives a
// new session id; nothing from the old session is reused.
//
// By default this makes exactly one connect attempt and reports its outcome.
// Bounded retrying can be opted into with WithReconnectRetries, but there is
// never an unbounded internal loop; sustained failure is the caller's policy
// decision.
func (c *Client) Reconnect(ctx context.Context) error {
	c.logger.Info("reconnecting",
		logging.Duration("delay", c.reconnectDelay),
		logging.Int("attempts", int(c.reconnectRetries)))

	// Disconnect never fails: local cleanup always completes.
	_ = c.Disconnect(ctx)

	select {
	case <-time.After(c.reconnectDelay):
	case <-ctx.Done():
		c.metrics.RecordReconnect("cancelled")
		return ctx.Err()
	}

	err := retry.Do(
		func() error { return c.Connect(ctx) },
		retry.Attempts(c.reconnectRetries),
		retry.Delay(c.reconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		c.metrics.RecordReconnect("error")
		c.logger.WithError(err).Warn("reconnect failed")
		return err
	}

	c.metrics.RecordReconnect("ok")
	c.logger.Info("reconnected", logging.String("session_id", c.SessionID()))
	return nil
}
