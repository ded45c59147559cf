package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/raft"
	"github.com/spf13/cobra"

	"github.com/cuemby/netledger/pkg/api"
	"github.com/cuemby/netledger/pkg/codec"
	"github.com/cuemby/netledger/pkg/events"
	"github.com/cuemby/netledger/pkg/ledger"
	"github.com/cuemby/netledger/pkg/log"
	"github.com/cuemby/netledger/pkg/manager"
	"github.com/cuemby/netledger/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netledger",
	Short: "netledger - distributed ledger of network resources",
	Long: `netledger keeps track of which network resources exist (devices,
ports, VLAN ids, MPLS labels, wavelengths, bandwidth) and which consumer
holds each of them, with strong consistency across a cluster.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		levelName, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")

		level, err := log.ParseLevel(levelName)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: level, JSONOutput: jsonOutput})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"netledger version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a ledger node",
	Long: `Run a ledger node: the replicated store, the ledger on top of it, and the
HTTP API, which also serves /metrics, /health and /ready.

With --bootstrap the node initializes a new cluster made of itself and the
nodes given with --peer. Without it, the node waits to be added by the
leader.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "node-1", "Unique node ID")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Address for Raft communication")
	serveCmd.Flags().String("data-dir", "./netledger-data", "Data directory for the store and Raft log")
	serveCmd.Flags().String("http-addr", "127.0.0.1:9090", "Address for the HTTP API")
	serveCmd.Flags().Bool("bootstrap", false, "Initialize a new cluster")
	serveCmd.Flags().StringSlice("peer", nil, "Initial cluster member as ID=ADDRESS (with --bootstrap)")
}

func parsePeers(specs []string) ([]raft.Server, error) {
	peers := make([]raft.Server, 0, len(specs))
	for _, spec := range specs {
		id, addr, ok := strings.Cut(spec, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid peer %q, expected ID=ADDRESS", spec)
		}
		peers = append(peers, raft.Server{
			ID:      raft.ServerID(id),
			Address: raft.ServerAddress(addr),
		})
	}
	return peers, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	peerSpecs, _ := cmd.Flags().GetStringSlice("peer")

	peers, err := parsePeers(peerSpecs)
	if err != nil {
		return err
	}
	if len(peers) > 0 && !bootstrap {
		return fmt.Errorf("--peer requires --bootstrap")
	}

	logger := log.WithNodeID(nodeID)
	health := metrics.NewHealthChecker(Version, "raft", "ledger")

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	if bootstrap {
		if err := mgr.Bootstrap(peers...); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
		if err := mgr.WaitForLeader(30 * time.Second); err != nil {
			return err
		}
	} else if err := mgr.Join(); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}

	broker := events.NewBroker()
	defer broker.Stop()

	l, err := ledger.New(mgr, codec.NewRegistry(),
		ledger.WithBroker(broker),
		ledger.WithLogger(log.WithComponent("ledger")),
	)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	health.Set("ledger", true, "")

	evs, cancel := broker.Subscribe()
	defer cancel()
	go logEvents(evs)

	collector := metrics.NewCollector(mgr, mgr)
	collector.Start()
	defer collector.Stop()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go watchRaft(ctx, mgr, health)

	server := api.NewServer(l, mgr, health)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(httpAddr); err != nil {
			errCh <- err
		}
	}()

	logger.Info().
		Str("bind_addr", bindAddr).
		Str("http_addr", httpAddr).
		Str("data_dir", dataDir).
		Bool("bootstrap", bootstrap).
		Msg("Node is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("Shutting down")
	case err = <-errCh:
		logger.Error().Err(err).Msg("Stopping")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if serr := server.Stop(shutdownCtx); serr != nil {
		logger.Warn().Err(serr).Msg("HTTP server shutdown failed")
	}

	return err
}

// logEvents writes every ledger change to the log until the subscription ends
func logEvents(evs <-chan *events.Event) {
	logger := log.WithComponent("events")
	for ev := range evs {
		l := logger
		if ev.Consumer != "" {
			l = log.WithConsumer(logger, string(ev.Consumer))
		}
		l.Info().
			Str("type", string(ev.Type)).
			Str("tx_id", ev.TxID).
			Stringer("resource", ev.Resource).
			Msg("Ledger changed")
	}
}

// watchRaft keeps the raft health component in line with leader visibility
func watchRaft(ctx context.Context, mgr *manager.Manager, health *metrics.HealthChecker) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if leader := mgr.LeaderAddr(); leader != "" {
			health.Set("raft", true, "leader "+leader)
		} else {
			health.Set("raft", false, "no leader")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
