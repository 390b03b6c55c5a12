package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/doodlehub/pkg/doodlehub/client"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"go.uber.org/zap"
)

// Flags shared by the desktop and tablet commands.
type clientFlags struct {
	url            string
	origin         string
	reconnectDelay time.Duration
	dialTimeout    time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "hub WebSocket URL, e.g. ws://localhost:5000/ws")
	cmd.Flags().StringVar(&f.origin, "origin", "http://localhost:5000", "page origin the hub URL is derived from when --url is not given")
	cmd.Flags().DurationVar(&f.reconnectDelay, "reconnect-delay", client.DefaultReconnectDelay, "delay before reconnecting after the connection drops")
	cmd.Flags().DurationVar(&f.dialTimeout, "dial-timeout", client.DefaultDialTimeout, "WebSocket dial timeout")
}

func (f *clientFlags) build(logger *zap.Logger, role protocol.Role, handlers client.Handlers) (*client.Controller, error) {
	return client.NewController().
		WithURL(f.url).
		WithPageOrigin(f.origin).
		WithRole(role).
		WithHandlers(handlers).
		WithLogger(logger).
		WithReconnectDelay(f.reconnectDelay).
		WithDialTimeout(f.dialTimeout).
		Build()
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
