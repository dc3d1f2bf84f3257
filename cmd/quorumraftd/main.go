// Package main provides the quorumraftd CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quorumraftd",
		Short: "quorumraftd - a Raft consensus and quorum key-value toolkit",
		Long: `quorumraftd runs a single replica of a Raft consensus cluster, or a
quorum key-value example replica using the same Replica/correlation
primitives.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quorumraftd v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a quorumraftd node",
		RunE:  runServe,
	}
	serveCmd.Flags().Uint64("node-id", 0, "replica id (required, nonzero)")
	serveCmd.Flags().String("bind", "", "bind address, host:port (default 0.0.0.0:7690)")
	serveCmd.Flags().String("peers", "", "comma-separated peer addresses, host:port")
	serveCmd.Flags().String("cluster-file", "", "YAML cluster bootstrap file (overrides --peers)")
	serveCmd.Flags().Bool("kv", false, "run the quorum KV example service instead of Raft")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nodeID, _ := cmd.Flags().GetUint64("node-id")
	bind, _ := cmd.Flags().GetString("bind")
	peersFlag, _ := cmd.Flags().GetString("peers")
	clusterFile, _ := cmd.Flags().GetString("cluster-file")
	kvMode, _ := cmd.Flags().GetBool("kv")

	if nodeID != 0 {
		os.Setenv("QUORUMRAFT_NODE_ID", fmt.Sprintf("%d", nodeID))
	}
	if bind != "" {
		os.Setenv("QUORUMRAFT_BIND_ADDR", bind)
	}
	if peersFlag != "" {
		os.Setenv("QUORUMRAFT_PEERS", peersFlag)
	}
	if clusterFile != "" {
		os.Setenv("QUORUMRAFT_CLUSTER_FILE", clusterFile)
	}

	srv, err := NewServer(kvMode)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
