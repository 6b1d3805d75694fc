package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/vaultpilot/config"
	"github.com/vadiminshakov/vaultpilot/internal"
	"github.com/vadiminshakov/vaultpilot/internal/setup"
	"github.com/vadiminshakov/vaultpilot/internal/web"
)

var version = "dev"

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "vaultpilot",
		Short:         "Yield monitoring agent for a multisig controlled DeFi vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to yaml config")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newOnceCmd(opts),
		newAprCmd(opts),
		newSetupCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var noHTTP bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an optimization cycle every check interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(opts.debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return errors.Wrap(err, "failed to load configuration")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := internal.NewApp(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return app.Scheduler.Run(ctx)
			})
			if !noHTTP {
				g.Go(func() error {
					return app.Server.Start(ctx)
				})
			}
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("vault agent stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "do not serve the APR and cycle report endpoints")
	return cmd
}

func newOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single optimization cycle and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(opts.debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return errors.Wrap(err, "failed to load configuration")
			}

			app, err := internal.NewApp(cmd.Context(), logger, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			result, cycleErr := app.Optimizer.RunCycle(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return errors.Wrap(err, "encode cycle report")
			}
			return cycleErr
		},
	}
}

func newAprCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "apr",
		Short: "Serve only the read-only APR endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(opts.debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return errors.Wrap(err, "failed to load configuration")
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return web.NewServer(logger, cfg.HTTPAddr, cfg.AprData, nil, nil).Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultHTTPAddr, "listen address")
	return cmd
}

func newSetupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create a config file with the interactive wizard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if path == "" {
				path = "config.yaml"
			}
			return setup.RunTUI(path)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
