package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fedmgr/config"
	"fedmgr/pkg/accounting"
	"fedmgr/pkg/federation"
	"fedmgr/pkg/logging"
	"fedmgr/pkg/server"
	"fedmgr/pkg/transport"
)

var (
	cfgFile     string
	clusterName string
	stateDir    string
	fedFile     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fedmgrd",
		Short: "fedmgrd - cluster federation coordinator",
		Long: `fedmgrd maintains federation membership for a cluster controller:
sibling control connections, liveness probing, and durable membership state.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(stateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the federation coordinator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().StringVar(&clusterName, "cluster-name", "", "Local cluster name")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "State save location")
	cmd.Flags().StringVar(&fedFile, "fed-file", "", "Federation definition file to watch")
	return cmd
}

func runServe() error {
	// Flag overrides take priority over file and environment.
	if clusterName != "" {
		viper.Set("cluster.name", clusterName)
	}
	if stateDir != "" {
		viper.Set("state.save_location", stateDir)
	}
	if fedFile != "" {
		viper.Set("federation.fed_file", fedFile)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.State.SaveLocation, 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	dialer := transport.NewGRPCDialer(cfg.Federation.DialTimeout, cfg.Federation.RequestTimeout)
	mgr := federation.NewManager(cfg, dialer, logger)
	srv := server.NewServer(cfg, mgr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	mgr.Init()
	if err := mgr.LoadState(ctx); err != nil {
		// A stale or foreign state file must not keep the controller
		// down; start unfederated and wait for an accounting update.
		logger.Error("failed to recover federation state", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })

	if cfg.Federation.FedFile != "" {
		source := accounting.NewFileSource(cfg.Federation.FedFile, logger)
		if err := source.Start(gctx); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return mgr.Run(gctx, source.Updates()) })
	}

	logger.Info("fedmgrd started",
		zap.String("cluster", cfg.Cluster.Name),
		zap.String("state_dir", cfg.State.SaveLocation))

	err = g.Wait()

	if serr := mgr.Save(); serr != nil {
		logger.Error("failed to save federation state", zap.Error(serr))
	}
	mgr.Fini()

	logger.Info("fedmgrd stopped")
	return err
}

func stateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Dump the persisted federation state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(dir, federation.StateFileName)
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			snap, err := federation.DecodeSnapshot(data)
			if err != nil {
				return err
			}

			fmt.Printf("Saved: %s\n", snap.SavedAt.Format("2006-01-02 15:04:05"))
			for i, c := range snap.Clusters {
				self := ""
				if c.IsSelf {
					self = " (self)"
				}
				fmt.Printf("%d) %s - %s:%d - id %d%s\n",
					i+1, c.Name, c.Host, c.Port, c.FedID, self)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "state-dir", "./state", "State save location")
	return cmd
}
