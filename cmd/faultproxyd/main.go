// Command faultproxyd runs the fault-injection proxy server: an HTTP
// control plane plus a default proxy listener, both started from CLI flags.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rom8726/faultproxy/internal/api"
	"github.com/rom8726/faultproxy/internal/config"
	"github.com/rom8726/faultproxy/internal/metrics"
	"github.com/rom8726/faultproxy/internal/registry"
)

const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 clean shutdown, 1 fatal init error,
// 2 runtime panic.
func run() (exitCode int) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("runtime panic", "panic", r)
			exitCode = 2
		}
	}()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		logger.Error("invalid flags", "error", err)

		return 1
	}

	metricsReg := metrics.New()
	reg := registry.New(metricsReg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := reg.Create(ctx, "default", cfg.DefaultProxyListenAddr(), cfg.DefaultProxyUpstreamAddr()); err != nil {
		logger.Error("failed to bind default proxy listener", "error", err)

		return 1
	}
	logger.Info("default proxy listening",
		"listen", cfg.DefaultProxyListenAddr(), "upstream", cfg.DefaultProxyUpstreamAddr())

	apiServer := api.New(reg, metricsReg, logger)
	httpServer := &http.Server{Addr: cfg.APIAddr(), Handler: apiServer.Handler()}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("control plane listening", "addr", cfg.APIAddr())
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control plane listener failed", "error", err)
			reg.StopAll()

			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	reg.StopAll()

	return 0
}
