package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thejuampi/msgbus-client-go/msgbus"
)

func newPingCommand(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect to the endpoint, report the connect time and disconnect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			elapsed, err := ping(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s in %s\n", cfg.Endpoint, elapsed.Round(time.Millisecond))
			return nil
		},
	}
}

func ping(ctx context.Context, cfg config) (time.Duration, error) {
	logger := newLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	started := time.Now()
	connected := make(chan struct{})
	var once sync.Once
	bus, err := msgbus.New(cfg.Endpoint, cfg.busConfig(),
		msgbus.WithLogger(logger.Named("msgbus")),
		msgbus.WithHook(msgbus.StateConnected, func() { once.Do(func() { close(connected) }) }))
	if err != nil {
		return 0, err
	}
	defer bus.Close()

	select {
	case <-connected:
		return time.Since(started), nil
	case <-bus.Done():
		return 0, fmt.Errorf("connection to %s closed by server", cfg.Endpoint)
	case <-ctx.Done():
		return 0, fmt.Errorf("connect to %s: %w", cfg.Endpoint, ctx.Err())
	}
}
