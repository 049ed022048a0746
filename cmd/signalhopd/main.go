// Command signalhopd runs the signal relay daemon: the HTTP surface two
// peers use to rendezvous through a shared store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/signalhop/signalhop/internal/broker"
	"github.com/signalhop/signalhop/internal/config"
	"github.com/signalhop/signalhop/internal/httpserver"
	"github.com/signalhop/signalhop/internal/metrics"
	"github.com/signalhop/signalhop/internal/ratelimit"
	"github.com/signalhop/signalhop/internal/signaling"
	"github.com/signalhop/signalhop/internal/store"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting signalhopd",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"store", cfg.Store,
		"watch_poll_interval", cfg.WatchPollInterval,
		"max_requests_per_second", cfg.MaxRequestsPerSecond,
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	st, err := newStore(cfg)
	if err != nil {
		logger.Error("failed to configure store", "err", err)
		os.Exit(2)
	}

	m := metrics.New()
	svc := broker.NewService(st, m)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	srv, err := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m)
	if err != nil {
		logger.Error("failed to configure http server", "err", err)
		os.Exit(2)
	}

	var limiter *ratelimit.RemoteLimiter
	if cfg.MaxRequestsPerSecond > 0 {
		limiter = ratelimit.NewRemoteLimiter(
			ratelimit.RealClock{},
			int64(cfg.RequestBurst),
			int64(cfg.MaxRequestsPerSecond),
			0,
		)
	}

	sig := signaling.NewServer(signaling.Config{
		Broker:  svc,
		Metrics: m,
		Logger:  logger,
		Limiter: limiter,

		MaxPayloadBytes:   cfg.MaxPayloadBytes,
		WatchPollInterval: cfg.WatchPollInterval,
	})
	sig.RegisterRoutes(srv.Mux())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func newStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreDynamoDB:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return store.NewDynamo(ctx, cfg.DynamoDBTable)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
