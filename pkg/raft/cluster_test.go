package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orneryd/quorumraft/pkg/clock"
	"github.com/orneryd/quorumraft/pkg/netaddr"
	"github.com/orneryd/quorumraft/pkg/network"
	"github.com/orneryd/quorumraft/pkg/replica"
)

// fakeSwitchboard routes Send calls directly to a peer's registered
// handlers, in-process, with no real sockets — grounded on
// pkg/replication/scenario_test.go's in-memory cluster harness style.
type fakeSwitchboard struct {
	mu    sync.RWMutex
	nodes map[netaddr.HostAndPort]map[network.MessageType]network.Handler
}

func newFakeSwitchboard() *fakeSwitchboard {
	return &fakeSwitchboard{nodes: make(map[netaddr.HostAndPort]map[network.MessageType]network.Handler)}
}

func (sb *fakeSwitchboard) handlersFor(addr netaddr.HostAndPort) map[network.MessageType]network.Handler {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	h, ok := sb.nodes[addr]
	if !ok {
		h = make(map[network.MessageType]network.Handler)
		sb.nodes[addr] = h
	}
	return h
}

type fakeTransport struct {
	sb      *fakeSwitchboard
	self    netaddr.HostAndPort
	handlers map[network.MessageType]network.Handler
}

func newFakeTransport(sb *fakeSwitchboard, self netaddr.HostAndPort) *fakeTransport {
	return &fakeTransport{sb: sb, self: self, handlers: sb.handlersFor(self)}
}

func (t *fakeTransport) RegisterHandler(msgType network.MessageType, h network.Handler) {
	t.sb.mu.Lock()
	defer t.sb.mu.Unlock()
	t.handlers[msgType] = h
}

func (t *fakeTransport) Listen(ctx context.Context, bind netaddr.HostAndPort) error {
	<-ctx.Done()
	return nil
}

func (t *fakeTransport) Send(ctx context.Context, target netaddr.HostAndPort, env network.Envelope) (*network.Envelope, error) {
	t.sb.mu.RLock()
	handlers, ok := t.sb.nodes[target]
	t.sb.mu.RUnlock()
	if !ok {
		return nil, network.ErrTransportClosed
	}
	t.sb.mu.RLock()
	h, ok := handlers[env.Type]
	t.sb.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	go h(ctx, env)
	return nil, nil
}

func (t *fakeTransport) Close() error { return nil }

var _ network.Transport = (*fakeTransport)(nil)

type testCluster struct {
	nodes []*Node
	addrs []netaddr.HostAndPort
}

// newTestCluster wires n Nodes together on a shared fake switchboard, each
// with a fast election timeout suitable for tests.
func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	sb := newFakeSwitchboard()

	addrs := make([]netaddr.HostAndPort, n)
	for i := 0; i < n; i++ {
		addrs[i] = netaddr.New("127.0.0.1", uint16(20000+i))
	}

	cfg := Config{
		HeartbeatInterval:  10 * time.Millisecond,
		ElectionTimeoutMin: 60 * time.Millisecond,
		ElectionTimeoutMax: 120 * time.Millisecond,
		QuorumAwaitTimeout: 200 * time.Millisecond,
	}

	cluster := &testCluster{addrs: addrs}
	for i := 0; i < n; i++ {
		peers := make([]netaddr.HostAndPort, 0, n-1)
		for j, a := range addrs {
			if j != i {
				peers = append(peers, a)
			}
		}
		transport := newFakeTransport(sb, addrs[i])
		asyncNet := network.NewAsyncNetwork(addrs[i], transport)
		r := replica.New(replica.ID(i+1), addrs[i], peers, clock.NewSystem(), asyncNet, 100)
		node := NewNode(r, cfg)
		cluster.nodes = append(cluster.nodes, node)
	}
	return cluster
}

func (c *testCluster) startAll() {
	for _, n := range c.nodes {
		n.Start()
	}
}

func (c *testCluster) stopAll() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

func (c *testCluster) leader() *Node {
	for _, n := range c.nodes {
		if n.State().RoleNow() == Leader {
			return n
		}
	}
	return nil
}
