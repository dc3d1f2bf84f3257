package main

import (
	"context"
	"fmt"
	"log"

	"github.com/orneryd/quorumraft/pkg/clock"
	"github.com/orneryd/quorumraft/pkg/config"
	"github.com/orneryd/quorumraft/pkg/network"
	"github.com/orneryd/quorumraft/pkg/quorumkv"
	"github.com/orneryd/quorumraft/pkg/raft"
	"github.com/orneryd/quorumraft/pkg/replica"
)

// Server owns one node's full wiring: config, transport, Replica, and
// whichever consensus variant (Raft or quorum KV) it runs.
type Server struct {
	cfg       *config.Config
	transport network.Transport
	net       *network.AsyncNetwork
	r         *replica.Replica

	node    *raft.Node
	kv      *quorumkv.Service
	kvMode  bool
}

// NewServer loads configuration from the environment and wires up a
// Server, without starting any network I/O yet.
func NewServer(kvMode bool) (*Server, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := network.NewTCPTransport(network.DefaultTCPConfig())
	asyncNet := network.NewAsyncNetwork(cfg.BindAddr, transport)
	r := replica.New(replica.ID(cfg.NodeID), cfg.BindAddr, cfg.Peers, clock.NewSystem(), asyncNet, cfg.SUQChannelCapacity)

	srv := &Server{cfg: cfg, transport: transport, net: asyncNet, r: r, kvMode: kvMode}

	if kvMode {
		srv.kv = quorumkv.NewService(r, cfg.QuorumAwaitTimeout)
	} else {
		raftCfg := raft.Config{
			HeartbeatInterval:  cfg.HeartbeatInterval,
			ElectionTimeoutMin: cfg.ElectionTimeoutMin,
			ElectionTimeoutMax: cfg.ElectionTimeoutMax,
			QuorumAwaitTimeout: cfg.QuorumAwaitTimeout,
		}
		srv.node = raft.NewNode(r, raftCfg)
	}

	return srv, nil
}

// Run starts listening and blocks until ctx is cancelled (SIGINT/SIGTERM),
// then shuts everything down in reverse order.
func (s *Server) Run(ctx context.Context) error {
	log.Printf("quorumraftd node %d starting on %s (kv=%v, peers=%d)", s.cfg.NodeID, s.cfg.BindAddr, s.kvMode, len(s.cfg.Peers))

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- s.net.Listen(ctx, s.cfg.BindAddr)
	}()

	if s.node != nil {
		s.node.Start()
	}

	select {
	case <-ctx.Done():
		log.Printf("quorumraftd node %d shutting down", s.cfg.NodeID)
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("server: listen failed: %w", err)
		}
	}

	if s.node != nil {
		s.node.Stop()
	}
	s.r.Shutdown()
	return s.net.Close()
}
