// Command vaultpnl reconciles vault positions of users: deposited principal,
// redeemable value and earnings.
//
// Usage:
//
//	vaultpnl serve --config config.yaml
//	vaultpnl reconcile --config config.yaml --user 0x... --chain ethereum [--vault 0x...]
//
// Environment variables:
//
//	VAULTPNL_REDIS_PASSWORD overrides cache.redis.password
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpnl/config"
	"github.com/vadiminshakov/vaultpnl/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:          "vaultpnl",
		Short:        "Vault position reconciliation service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to yaml config")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	setup := func(cmd *cobra.Command) (*app.App, *zap.Logger, error) {
		logger, err := newLogger(debug)
		if err != nil {
			return nil, nil, err
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			logger.Error("failed to load config", zap.String("path", configPath), zap.Error(err))
			return nil, logger, err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		a, err := app.New(cmd.Context(), cfg, logger, reg)
		if err != nil {
			logger.Error("failed to start", zap.Error(err))
			return nil, logger, err
		}
		return a, logger, nil
	}

	root.AddCommand(serveCmd(setup), reconcileCmd(setup))
	return root
}

type setupFunc func(cmd *cobra.Command) (*app.App, *zap.Logger, error)

func serveCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve reconciliation over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := setup(cmd)
			if logger != nil {
				defer logger.Sync()
			}
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Server.Start(cmd.Context())
		},
	}
}

func reconcileCmd(setup setupFunc) *cobra.Command {
	var user, chain, vault string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile one user's positions and print them as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := setup(cmd)
			if logger != nil {
				defer logger.Sync()
			}
			if err != nil {
				return err
			}
			defer a.Close()

			if a.CacheErr != nil {
				return a.CacheErr
			}

			var out interface{}
			if vault != "" {
				out, err = a.Orchestrator.ReconcileVault(cmd.Context(), user, chain, vault)
			} else {
				out, err = a.Orchestrator.Reconcile(cmd.Context(), user, chain)
			}
			if err != nil {
				logger.Error("reconciliation failed", zap.Error(err))
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user address")
	cmd.Flags().StringVar(&chain, "chain", "", "chain name or id")
	cmd.Flags().StringVar(&vault, "vault", "", "reconcile a single vault")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("chain")

	return cmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
