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

	"github.com/sketchdeck/peerlink/internal/config"
	"github.com/sketchdeck/peerlink/internal/httpserver"
	"github.com/sketchdeck/peerlink/internal/metrics"
	"github.com/sketchdeck/peerlink/internal/relay"
	"github.com/sketchdeck/peerlink/internal/turncred"
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

	logger.Info("starting peerlink-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"discovery", cfg.Discovery,
		"peer_idle_timeout", cfg.PeerIdleTimeout,
		"ws_ping_interval", cfg.WSPingInterval,
		"max_signal_message_bytes", cfg.MaxSignalMessageBytes,
		"max_signal_messages_per_second", cfg.MaxSignalMessagesPerSecond,
		"static_dir_set", cfg.StaticDir != "",
		"redis_presence", cfg.Redis.Enabled(),
	)

	logStartupSecurityWarnings(logger, cfg)

	var presence relay.Presence
	if cfg.Redis.Enabled() {
		rp, err := relay.NewRedisPresence(cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect redis presence", "err", err)
			os.Exit(2)
		}
		presence = rp
	}

	m := metrics.New()

	rs, err := relay.NewServer(cfg, logger, m, presence)
	if err != nil {
		logger.Error("failed to configure relay", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg, logger, m, resolveBuildInfo(buildCommit, buildTime))
	rs.RegisterRoutes(srv.Mux())

	var minter *turncred.Minter
	if cfg.TURNURL != "" {
		minter, err = turncred.NewMinter(turncred.MinterConfig{
			SharedSecret: cfg.TURNSecret,
			Realm:        "peerlink",
			TTL:          cfg.TURNTTL,
		})
		if err != nil {
			logger.Error("failed to configure turn credentials", "err", err)
			os.Exit(2)
		}
	}
	srv.Mux().Handle("GET /ice", turncred.Handler(cfg.STUNURLs, cfg.TURNURL, minter))

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go rs.RunSweeper(sweepCtx)

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
	stopSweeper()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
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

	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
