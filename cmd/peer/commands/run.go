package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gossipmesh/gossipmesh/internal/config"
	"github.com/gossipmesh/gossipmesh/internal/peernode"
	"github.com/gossipmesh/gossipmesh/internal/seeddir"
)

var cfg = config.NewDefaultConfig()

// ExitCode is set on the config/bind/registration error path so Execute
// can report the exact status the CLI surface requires.
var ExitCode int

// NewRunCmd returns the command that starts a peer node.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a peer node",
		PreRunE: loadConfig,
		RunE:    runPeer,
	}
	AddRunFlags(cmd)
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("port")
	cmd.MarkFlagRequired("config")
	return cmd
}

// AddRunFlags registers the peer node's flags.
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", cfg.Host, "Bind host")
	cmd.Flags().Int("port", cfg.Port, "Bind port")
	cmd.Flags().String("config", cfg.SeedListPath, "Path to the seed list file")
	cmd.Flags().String("log", cfg.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("event-log", cfg.EventLogPath, "Append-only event log path")
	cmd.Flags().Int64("rng-seed", cfg.RNGSeed, "Seed for deterministic overlay sampling (0 derives one)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.Unmarshal(cfg)
}

func runPeer(cmd *cobra.Command, args []string) error {
	dir, err := seeddir.Load(cfg.SeedListPath)
	if err != nil {
		ExitCode = 1
		return fmt.Errorf("seed list: %w", err)
	}

	node, err := peernode.New(cfg, dir)
	if err != nil {
		ExitCode = 1
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		node.Run()
		close(done)
	}()

	select {
	case <-sig:
		node.Shutdown()
		<-done
	case <-done:
	}

	return nil
}
