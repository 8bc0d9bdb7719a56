package server

import (
	"context"
	"time"

	"github.com/dbxops/mcpwire/pkg/protocol"
	"github.com/dbxops/mcpwire/pkg/transport"
)

// ServePipe serves requests arriving on a pipe transport until the context
// is cancelled. There is no session header channel on a pipe; the connected
// client synthesizes its own session id, and the pipe itself scopes the
// session.
func (s *Server) ServePipe(ctx context.Context, t *transport.StdioTransport) error {
	t.SetRequestHandler(func(ctx context.Context, request *protocol.Request) *protocol.Response {
		return s.HandleRequest(ctx, request)
	})
	t.SetNotificationHandler(s.HandleNotification)

	if err := t.Initialize(ctx); err != nil {
		return err
	}
	s.logger.Info("serving on pipe")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.Stop(stopCtx)
}
