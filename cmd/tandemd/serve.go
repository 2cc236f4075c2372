package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tandem-vcs/tandem/internal/config"
	"github.com/tandem-vcs/tandem/internal/coordinator"
	"github.com/tandem-vcs/tandem/internal/health"
	"github.com/tandem-vcs/tandem/internal/logging"
	"github.com/tandem-vcs/tandem/internal/rpcserver"
	"github.com/tandem-vcs/tandem/internal/rpcwire"
	"github.com/tandem-vcs/tandem/internal/serverstore"
	"github.com/tandem-vcs/tandem/internal/sidecar"
	"github.com/tandem-vcs/tandem/internal/vcs"
	"github.com/tandem-vcs/tandem/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tandem storage server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Address to listen on (default 127.0.0.1:7420)")
	serveCmd.Flags().String("data-dir", "", "Directory holding the repository and sidecar state")
	serveCmd.Flags().String("config", "", "Path to a YAML server config file")
	serveCmd.Flags().String("health-addr", "127.0.0.1:7421", "Address for the /health, /ready and /metrics HTTP endpoints")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Addr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}

	log := logging.WithComponent("tandemd")

	repo, err := vcs.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	sidecarStore, err := sidecar.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open sidecar: %w", err)
	}

	broker := watch.NewBroker()
	defer broker.Close()

	coord := coordinator.New(repo, sidecarStore, broker)
	store := serverstore.New(repo, coord)

	connector := rpcwire.NewTCPConnector(cfg.Addr)
	server := rpcserver.New(store, broker, connector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx)
	}()

	healthAddr, _ := cmd.Flags().GetString("health-addr")
	healthSrv := health.NewServer(coord, cfg.Addr, Version)
	go healthSrv.Run(ctx)
	healthErrCh := make(chan error, 1)
	go func() {
		healthErrCh <- healthSrv.Start(ctx, healthAddr)
	}()

	select {
	case <-server.Ready():
		log.Info().Str("addr", cfg.Addr).Str("data_dir", cfg.DataDir).Str("health_addr", healthAddr).Msg("tandemd listening")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
		cancel()
		server.Stop()
		if err := <-errCh; err != nil {
			return err
		}
		if err := <-healthErrCh; err != nil {
			log.Warn().Err(err).Msg("health server shutdown reported an error")
		}
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server exited with error")
			return err
		}
	case err := <-healthErrCh:
		if err != nil {
			log.Error().Err(err).Msg("health server exited with error")
			return err
		}
	}

	log.Info().Msg("shutdown complete")
	return nil
}
