package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Thejuampi/msgbus-client-go/msgbus"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

type eventLine struct {
	Channel string              `json:"channel"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// printer writes one JSON line per event.
type printer struct {
	lock sync.Mutex
	out  io.Writer
}

func (out *printer) handler(channel string) msgbus.Handler {
	return func(payload msgbus.Payload) {
		line, err := wire.Marshal(eventLine{Channel: channel, Payload: jsoniter.RawMessage(payload)})
		if err != nil {
			return
		}
		out.lock.Lock()
		defer out.lock.Unlock()
		_, _ = out.out.Write(append(line, '\n'))
	}
}

func newListenCommand(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to channels and print every event as a JSON line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listen(cmd.Context(), *cfg, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&cfg.Channels, "channel", cfg.Channels, "channel to subscribe to (repeatable)")
	flags.StringVar(&cfg.Filter, "filter", cfg.Filter, "JSON filter sent with every subscription")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address")
	flags.StringSliceVar(&cfg.LogStates, "log-state", cfg.LogStates, "lifecycle state to log: connecting, connected, reconnecting or closed (repeatable)")
	return cmd
}

func parseFilter(raw string) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var filter interface{}
	if err := wire.UnmarshalFromString(raw, &filter); err != nil {
		return nil, fmt.Errorf("invalid --filter: %w", err)
	}
	return filter, nil
}

func parseStates(names []string) ([]msgbus.State, error) {
	states := make([]msgbus.State, 0, len(names))
	for _, name := range names {
		state, ok := msgbus.ParseState(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("invalid --log-state %q", name)
		}
		states = append(states, state)
	}
	return states, nil
}

// stateHooks logs every transition into one of states.
func stateHooks(logger *zap.Logger, endpoint string, states []msgbus.State) []msgbus.Option {
	hooks := make([]msgbus.Option, 0, len(states))
	for _, state := range states {
		state := state
		level := zap.InfoLevel
		if state == msgbus.StateReconnecting {
			level = zap.WarnLevel
		}
		hooks = append(hooks, msgbus.WithHook(state, func() {
			logger.Check(level, "state").Write(zap.Stringer("state", state), zap.String("endpoint", endpoint))
		}))
	}
	return hooks
}

func listen(ctx context.Context, cfg config, out io.Writer) error {
	if len(cfg.Channels) == 0 {
		return errors.New("at least one --channel is required")
	}
	filter, err := parseFilter(cfg.Filter)
	if err != nil {
		return err
	}
	states, err := parseStates(cfg.LogStates)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	metrics := msgbus.NewMetrics("busctl")
	if err := metrics.Register(registry); err != nil {
		return err
	}

	opts := append([]msgbus.Option{
		msgbus.WithLogger(logger.Named("msgbus")),
		msgbus.WithMetrics(metrics),
	}, stateHooks(logger, cfg.Endpoint, states)...)
	bus, err := msgbus.New(cfg.Endpoint, cfg.busConfig(), opts...)
	if err != nil {
		return err
	}
	defer bus.Close()

	group, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		server := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		group.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	events := &printer{out: out}
	group.Go(func() error {
		subscribeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		for _, channel := range cfg.Channels {
			if err := bus.Subscribe(subscribeCtx, channel, filter, events.handler(channel)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("subscribe %s: %w", channel, err)
			}
			logger.Info("subscribed", zap.String("channel", channel))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-bus.Done():
			return errors.New("connection closed by server")
		}
	})

	err = group.Wait()
	closeErr := bus.Close()
	if err != nil {
		return err
	}
	return closeErr
}
