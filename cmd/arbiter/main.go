// Package main is the entry point for the arbiter CLI. It provides operator
// commands: running the service, validating configuration files and fetching
// decision explanations from a running instance.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/logging"
	"github.com/arbiterhq/arbiter/pkg/server"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "arbiter",
		Short:        "Admission control front door for the event pipeline",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd(), newConfigCmd(), newExplainCmd(), newVersionCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router and gate HTTP service",
		RunE:  runServe,
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().String("listen", "", "Address to listen on (overrides config)")
	cmd.Flags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("pretty", false, "Enable pretty console logging")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen")
	logLevel, _ := cmd.Flags().GetString("log-level")
	pretty, _ := cmd.Flags().GetBool("pretty")

	logger := logging.NewLogger(logging.Config{Level: logLevel, Pretty: pretty})

	provider, err := config.NewProvider(configPath, logging.Component(logger, "config"))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if configPath != "" {
		if err := provider.Watch(); err != nil {
			logger.Error().Err(err).Msg("config watcher unavailable, hot reload disabled")
		}
		defer provider.Close()
	}

	cfg := provider.Current().Config

	ctx := cmd.Context()
	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "arbiter",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}

	srv, closeBus, err := server.Build(ctx, provider, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	addr := cfg.Server.ListenAddr
	if listenAddr != "" {
		addr = listenAddr
	}

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	if err := closeBus(); err != nil {
		logger.Error().Err(err).Msg("bus close error")
	}
	return shutdownTracing(shutdownCtx)
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load a configuration file and report validation errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (listen %s, admit %.2f, boost %.2f, drop %.2f)\n",
				args[0], cfg.Server.ListenAddr, cfg.Thresholds.Admit, cfg.Thresholds.Boost, cfg.Thresholds.Drop)
			return nil
		},
	}

	configCmd.AddCommand(validateCmd)
	return configCmd
}

func newExplainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <trace-id>",
		Short: "Fetch the human-readable explanation for a decision trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			u, err := url.JoinPath(addr, "v1", "traces", args[0])
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, u+"?explain=true", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("query %s: %w", addr, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s: %s", resp.Status, string(body))
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
	cmd.Flags().String("addr", "http://127.0.0.1:8080", "Base URL of a running arbiter instance")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "arbiter %s\n", version)
		},
	}
}
