package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/csmportal/internal/portal"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web portal",
		Long:  "Launches the PIN-gated web portal and the session sweeper. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "csm.yaml", "path to portal config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.log.Sync()
	if port <= 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return portal.Start(gctx, portal.StartOpts{
			Gate:     a.gate,
			Sessions: a.sessions,
			Service:  a.service,
			Port:     port,
			Logger:   a.log.Named("portal"),
			Out:      cmd.OutOrStdout(),
		})
	})
	g.Go(func() error {
		return a.sessions.RunSweeper(gctx, a.cfg.Server.SweepSchedule, a.log.Named("session"))
	})

	err = g.Wait()
	if err != nil {
		a.log.Error("portal stopped", zap.Error(err))
	}
	return err
}
