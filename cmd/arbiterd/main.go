// Package main is the entry point for the arbiterd binary: the admission
// control front door serving the intent router and the attention gate.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/logging"
	"github.com/arbiterhq/arbiter/pkg/server"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
)

const serviceName = "arbiterd"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (empty uses built-in defaults)")
	listenAddr := flag.String("listen", "", "Address to listen on (overrides config if set)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	prettyLogs := flag.Bool("pretty", false, "Enable pretty console logging")
	flag.Parse()

	logger := logging.NewLogger(logging.Config{
		Level:  *logLevel,
		Pretty: *prettyLogs,
	})

	logger.Info().Str("config", *configPath).Msg("starting arbiterd")

	provider, err := config.NewProvider(*configPath, logging.Component(logger, "config"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *configPath != "" {
		if err := provider.Watch(); err != nil {
			logger.Error().Err(err).Msg("config watcher unavailable, hot reload disabled")
		}
		defer provider.Close()
	}

	cfg := provider.Current().Config

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	srv, closeBus, err := server.Build(ctx, provider, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build service")
	}

	addr := cfg.Server.ListenAddr
	if *listenAddr != "" {
		addr = *listenAddr
	}

	httpServer := startServer(addr, srv.Handler(), logger)
	waitForShutdown(httpServer, logger)

	if err := closeBus(); err != nil {
		logger.Error().Err(err).Msg("bus close error")
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown error")
	}
}

func startServer(addr string, handler http.Handler, logger zerolog.Logger) *http.Server {
	httpServer := &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("failed to bind listener")
	}

	// Log the resolved address (useful when addr is :0).
	logger.Info().Str("addr", listener.Addr().String()).Msg("server listening")

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	return httpServer
}

func waitForShutdown(httpServer *http.Server, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
