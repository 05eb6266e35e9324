package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/brainbox/pkg/config"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	Long: `Run the BrainBox orchestrator: the HTTP API, the job runner and the
session bus. Deciders are read from the configuration file and installed in
the background.

Examples:
  # Serve with a configuration file
  brainbox serve --config brainbox.yaml

  # Override the listen address and data directory
  brainbox serve --config brainbox.yaml --addr 0.0.0.0:8080 --data-dir /var/lib/brainbox`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Configuration file (defaults are used when empty)")
	serveCmd.Flags().String("addr", "", "Address for the HTTP API (overrides server.addr)")
	serveCmd.Flags().String("data-dir", "", "Store path (overrides store.path)")

	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads --config, or the defaults when it is not set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Store.Path = dir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.LogConfig()
	logCfg.Output = os.Stderr
	log.Init(logCfg)
	logger := log.WithComponent("serve")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		_ = a.stop(context.Background())
		return err
	}

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("store", cfg.Store.Driver).
		Str("runtime", cfg.Runtime.Driver).
		Str("planner", cfg.Planner.Policy).
		Int("deciders", len(cfg.Deciders)).
		Msg("BrainBox is running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Start(cfg.Server.Addr)
	})
	g.Go(func() error {
		a.installAll(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	serveErr := g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.stop(sctx); err != nil {
		logger.Error().Err(err).Msg("Shutdown incomplete")
		if serveErr == nil {
			serveErr = err
		}
	}
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}
