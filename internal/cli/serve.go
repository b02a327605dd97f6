// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Runs the chat API server.
//
// Examples:
//
//	orchat serve
//	orchat serve --addr :8080 --storage json
//	OPENROUTER_API_KEY=sk-or-... orchat serve
package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/orchat/internal/cloud"
	"github.com/jeranaias/orchat/internal/config"
	"github.com/jeranaias/orchat/internal/metrics"
	"github.com/jeranaias/orchat/internal/server"
	"github.com/jeranaias/orchat/internal/storage"
	"github.com/jeranaias/orchat/internal/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr   string
		driver string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API server",
		Long: `Serve the orchat HTTP API.

Chat turns are relayed to OpenRouter using cloud.openrouter_key (or
OPENROUTER_API_KEY). Without a key the server still starts and reports
"degraded" on /health.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Clone()
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if driver != "" {
				cfg.Storage.Driver = driver
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, cleanup, err := buildServer(ctx, cfg, a.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
			}
			if !a.quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s orchat listening on http://%s\n", RenderStatus("ok"), ln.Addr())
			}
			return runServer(ctx, srv, ln, cfg.Server.ShutdownTimeout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&driver, "storage", "", "storage driver: memory, json or sqlite")
	return cmd
}

// buildServer wires the store, upstream client and usage ledger into a
// server. cleanup closes the store.
func buildServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server.Server, func(), error) {
	storePath := cfg.StoragePath()
	if cfg.Storage.Driver == storage.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(storePath), 0700); err != nil {
			return nil, nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	store, err := storage.Open(ctx, cfg.Storage.Driver, storePath, cfg.Storage.MaxThreads, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close store")
		}
	}

	ledgerPath := cfg.UsagePath()
	if cfg.Storage.Driver == storage.DriverMemory {
		ledgerPath = ""
	}
	ledger, err := telemetry.NewUsageLedger(ledgerPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	ledger.WithLogger(logger)

	client := cloud.NewOpenRouterClient(cfg.Cloud.OpenRouterKey).
		WithBaseURL(cfg.Cloud.BaseURL).
		WithSiteURL(cfg.Cloud.SiteURL).
		WithSiteName(cfg.Cloud.SiteName).
		WithRetryPolicy(cloud.RetryPolicy{MaxRetries: cfg.Cloud.MaxRetries, BaseDelay: cfg.Cloud.BaseDelay()}).
		WithObserver(metrics.UpstreamObserver{}).
		WithLogger(logger)
	if !client.IsConfigured() {
		logger.Warn().Msg("OpenRouter API key is not configured; chat requests will fail")
	} else {
		logger.Info().Str("key", client.KeyFingerprint()).Msg("OpenRouter client configured")
	}

	srv := server.NewServer(cfg.Server, store, client).
		WithLogger(logger).
		WithLedger(ledger).
		WithDefaultModel(cfg.Cloud.DefaultModel)
	logger.Info().
		Str("driver", cfg.Storage.Driver).
		Str("path", storePath).
		Msg("STORE_OPEN")
	return srv, cleanup, nil
}

// runServer serves on ln until ctx is canceled, then shuts down gracefully
// within timeout.
func runServer(ctx context.Context, srv *server.Server, ln net.Listener, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
