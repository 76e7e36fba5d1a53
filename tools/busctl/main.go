// Command busctl is a command line client for msgbus endpoints.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLogger(debug bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newRootCommand(cfg *config, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "busctl",
		Short:         "Command line client for msgbus endpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "bus endpoint URL")
	flags.StringVar(&cfg.Token, "token", cfg.Token, "authentication token appended to the endpoint")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "verbose client tracing")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout for connecting and subscribing")
	flags.DurationVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "heartbeat idle threshold")

	root.AddCommand(newListenCommand(cfg), newPingCommand(cfg))
	return root
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "busctl: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(&cfg, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "busctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
