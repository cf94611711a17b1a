package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/stormctl/pkg/api"
	"github.com/cuemby/stormctl/pkg/computehook"
	"github.com/cuemby/stormctl/pkg/config"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/metrics"
	"github.com/cuemby/stormctl/pkg/pageclient"
	"github.com/cuemby/stormctl/pkg/reconciler"
	"github.com/cuemby/stormctl/pkg/service"
	"github.com/cuemby/stormctl/pkg/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller: reconcile loop, HTTP API, and metrics",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "HTTP listen address (overrides STORMCTL_LISTEN_ADDR)")
	serveCmd.Flags().String("database-dsn", "", "database DSN (overrides STORMCTL_DATABASE_DSN)")
	serveCmd.Flags().String("database-driver", "", "database driver: postgres or sqlite (overrides STORMCTL_DATABASE_DRIVER)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("database-dsn"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v, _ := cmd.Flags().GetString("database-driver"); v != "" {
		cfg.DatabaseDriver = v
	}

	persistence, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer persistence.Close()

	pageClient := pageclient.NewHTTPClient(reconciler.DefaultRPCTimeout, reconciler.DefaultMaxRetries, reconciler.DefaultInitialBack)

	var hook computehook.Hook = computehook.NoopHook{}
	if cfg.ComputeHookURL != "" {
		hook = computehook.NewHTTPHook(cfg.ComputeHookURL, 10*time.Second)
	}

	svc := service.New(cfg.Service, persistence, pageClient, hook)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startupCtx, startupCancel := context.WithTimeout(ctx, cfg.Service.StartupScanTimeout)
	err = svc.StartupReconcile(startupCtx)
	startupCancel()
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	log.Logger.Info().Msg("startup reconcile complete")

	svc.Run(ctx)
	log.Logger.Info().Msg("reconcile loops started")

	collector := metrics.NewCollector(svc)
	collector.Start()
	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "ready")
	metrics.RegisterComponent("api", false, "starting")

	apiServer := api.NewServer(cfg.ListenAddr, svc, cfg.AuthToken)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	metrics.RegisterComponent("api", true, "ready")
	log.Logger.Info().Str("addr", cfg.ListenAddr).Msg("api server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("api server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Logger.Warn().Err(err).Msg("api server shutdown error")
	}
	collector.Stop()
	svc.Close()

	log.Logger.Info().Msg("shutdown complete")
	return nil
}

func openStore(cfg config.Config) (*storage.GormStore, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return storage.OpenPostgres(cfg.DatabaseDSN)
	case "sqlite", "":
		return storage.OpenSQLite(cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}
