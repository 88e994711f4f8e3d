package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/graftio/ingestify/pkg/blobstore"
	"github.com/graftio/ingestify/pkg/cluster"
	"github.com/graftio/ingestify/pkg/config"
	"github.com/graftio/ingestify/pkg/health"
	"github.com/graftio/ingestify/pkg/log"
	"github.com/graftio/ingestify/pkg/metadataindex"
	"github.com/graftio/ingestify/pkg/rpc"
	"github.com/graftio/ingestify/pkg/scheduler"
	"github.com/graftio/ingestify/pkg/vectorindex"
	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Run and manage an ingestify cluster node",
}

var clusterConfigFlag string

func init() {
	clusterCmd.PersistentFlags().StringVar(&clusterConfigFlag, "config", "", "Path to YAML config file (required)")
	clusterCmd.AddCommand(clusterInitCmd)
	clusterCmd.AddCommand(clusterJoinCmd)
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a new single-node cluster and serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(true)
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Start this node and join an existing cluster via its current leader",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(false)
	},
}

// runServe brings up one ingestify node end to end: the Raft-backed
// cluster.Node, the scheduler, the RPC facade, and the health listener,
// each in its own goroutine, then blocks on a shutdown signal.
func runServe(bootstrap bool) error {
	if clusterConfigFlag == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(clusterConfigFlag)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: cfg.LogLevel(), JSONOutput: cfg.Log.JSON})

	node, err := cluster.New(cluster.Config{
		NodeID:   cfg.Node.ID,
		BindAddr: cfg.Node.BindAddr,
		DataDir:  cfg.Node.DataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to construct node: %w", err)
	}

	if bootstrap {
		if err := node.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
		fmt.Println("cluster bootstrapped")
	} else {
		if err := node.Join(); err != nil {
			return fmt.Errorf("failed to start raft transport: %w", err)
		}
		if cfg.Node.JoinAddr == "" {
			return fmt.Errorf("node.join_addr is required to join an existing cluster")
		}
		if err := requestAddVoter(cfg.Node.JoinAddr, cfg.Node.ID, cfg.Node.BindAddr); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
		fmt.Println("joined cluster via", cfg.Node.JoinAddr)
	}

	blobs, err := blobstore.NewLocalDiskStore(cfg.Storage.BlobRoot)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	vectors := vectorindex.NewMemoryIndexManager()
	metadataRoot := filepath.Join(cfg.Node.DataDir, "metadata")
	attrs, err := metadataindex.NewBoltMetadataIndex(metadataRoot)
	if err != nil {
		return fmt.Errorf("failed to open metadata index: %w", err)
	}

	sched := scheduler.New(node)
	sched.Start()
	fmt.Println("scheduler started")

	embedder := vectorindex.NewHashEmbedder(vectorindex.DefaultEmbeddingDim)
	rpcServer := rpc.NewServer(node, blobs, vectors, attrs, embedder)
	grpcServer := rpc.NewGRPCServer(rpcServer)
	lis, err := net.Listen("tcp", cfg.RPC.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.RPC.ListenAddr, err)
	}
	errCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("rpc server error: %w", err)
		}
	}()
	fmt.Printf("rpc listening on %s\n", cfg.RPC.ListenAddr)

	if cfg.RPC.HealthAddr != "" {
		healthServer := health.NewServer(node)
		go func() {
			if err := healthServer.Start(cfg.RPC.HealthAddr); err != nil {
				errCh <- fmt.Errorf("health server error: %w", err)
			}
		}()
		fmt.Printf("health listening on %s\n", cfg.RPC.HealthAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nshutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
	}

	sched.Stop()
	grpcServer.GracefulStop()
	return node.Shutdown()
}

func requestAddVoter(leaderAddr, nodeID, bindAddr string) error {
	client, err := rpc.NewClient(leaderAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.AddVoter(ctx, nodeID, bindAddr)
}
