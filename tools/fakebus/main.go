// Package main implements fakebus, a deterministic websocket pub/sub server
// speaking the msgbus wire protocol. It acknowledges subscribe, unsubscribe
// and heartbeat frames, enforces an optional connection token and channel
// deny list, applies subscription filters, and exposes an admin API to
// publish events and simulate connection failures.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type denyFlags []string

func (deny *denyFlags) String() string { return strings.Join(*deny, ",") }
func (deny *denyFlags) Set(value string) error {
	*deny = append(*deny, value)
	return nil
}

type settings struct {
	addr      string
	adminAddr string
	token     string
	deny      []string
	dev       bool
}

func parseSettings(flagSet *flag.FlagSet, args []string) (settings, error) {
	var current settings
	var deny denyFlags
	flagSet.StringVar(&current.addr, "addr", "127.0.0.1:19100", "websocket listen address; the bus is served at /bus")
	flagSet.StringVar(&current.adminAddr, "admin", "", "separate admin API listen address (default: served on -addr)")
	flagSet.StringVar(&current.token, "token", "", "require this token query parameter on connect")
	flagSet.Var(&deny, "deny", "reject subscriptions matching this channel pattern (repeatable)")
	flagSet.BoolVar(&current.dev, "dev", false, "development logging")
	if err := flagSet.Parse(args); err != nil {
		return settings{}, err
	}
	current.deny = deny
	return current, nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// routes builds the bus handler and, unless adminAddr is separate, the admin
// endpoints on the same mux.
func routes(srv *server, separateAdmin bool) (*http.ServeMux, *http.ServeMux) {
	bus := http.NewServeMux()
	bus.Handle("/bus", srv)
	if !separateAdmin {
		srv.adminRoutes(bus)
		return bus, nil
	}
	admin := http.NewServeMux()
	srv.adminRoutes(admin)
	return bus, admin
}

func serve(ctx context.Context, group *errgroup.Group, httpServer *http.Server, logger *zap.Logger) {
	group.Go(func() error {
		logger.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
}

func run(ctx context.Context, current settings, logger *zap.Logger) error {
	srv := newServer(logger, newEntitlements(current.token, current.deny))
	busMux, adminMux := routes(srv, current.adminAddr != "")

	group, ctx := errgroup.WithContext(ctx)
	serve(ctx, group, &http.Server{Addr: current.addr, Handler: busMux, ReadHeaderTimeout: 10 * time.Second}, logger)
	if adminMux != nil {
		serve(ctx, group, &http.Server{Addr: current.adminAddr, Handler: adminMux, ReadHeaderTimeout: 10 * time.Second}, logger.Named("admin"))
	}
	group.Go(func() error {
		<-ctx.Done()
		closed := srv.closeAll("server shutting down")
		logger.Info("shutting down", zap.Int("sessions", closed))
		return nil
	})

	logger.Info("fakebus started",
		zap.String("addr", current.addr),
		zap.String("admin", current.adminAddr),
		zap.Bool("token", current.token != ""),
		zap.Strings("deny", current.deny))
	return group.Wait()
}

func main() {
	flag.CommandLine.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakebus: deterministic websocket pub/sub server for msgbus testing\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	current, err := parseSettings(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger, err := newLogger(current.dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fakebus: logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, current, logger); err != nil {
		logger.Error("fakebus failed", zap.Error(err))
		os.Exit(1)
	}
}
