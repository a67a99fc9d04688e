package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/termcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/server"
	"github.com/GriffinCanCode/termcore/internal/providers/terminal"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var host, port string
	var noRateLimit bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host shell sessions over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.apply(config.LoadOrDefault())
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if noRateLimit {
				cfg.RateLimit.Enabled = false
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("Starting termcore",
				zap.String("version", version),
				zap.String("host", cfg.Server.Host),
				zap.String("port", cfg.Server.Port),
			)

			metrics := monitoring.NewMetrics()
			manager, err := terminal.NewManager(cfg, logger.Logger, metrics)
			if err != nil {
				return err
			}
			srv := server.NewServer(cfg, manager, logger, metrics, version)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return manager.Run(ctx) })
			g.Go(func() error {
				// A server that stops on its own takes the manager down with it.
				defer cancel()
				return srv.Run(ctx)
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("termcore stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides HOST)")
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&noRateLimit, "no-rate-limit", false, "disable per-client rate limiting")
	return cmd
}
