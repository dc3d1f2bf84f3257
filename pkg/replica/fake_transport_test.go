package replica

import (
	"context"
	"fmt"
	"sync"

	"github.com/orneryd/quorumraft/pkg/netaddr"
	"github.com/orneryd/quorumraft/pkg/network"
)

// fakeSwitchboard is an in-memory stand-in for the TCP fabric: it lets tests
// wire several Replicas together without binding real sockets, the way
// scenario_test.go in the teacher exercises ClusterTransport end to end.
type fakeSwitchboard struct {
	mu    sync.Mutex
	nodes map[netaddr.HostAndPort]map[network.MessageType]network.Handler
}

func newFakeSwitchboard() *fakeSwitchboard {
	return &fakeSwitchboard{nodes: make(map[netaddr.HostAndPort]map[network.MessageType]network.Handler)}
}

func (sb *fakeSwitchboard) register(addr netaddr.HostAndPort, handlers map[network.MessageType]network.Handler) {
	sb.mu.Lock()
	sb.nodes[addr] = handlers
	sb.mu.Unlock()
}

type fakeTransport struct {
	sb       *fakeSwitchboard
	handlers map[network.MessageType]network.Handler
}

func newFakeTransport(sb *fakeSwitchboard) *fakeTransport {
	return &fakeTransport{sb: sb, handlers: make(map[network.MessageType]network.Handler)}
}

func (f *fakeTransport) RegisterHandler(t network.MessageType, h network.Handler) {
	f.handlers[t] = h
}

func (f *fakeTransport) Listen(ctx context.Context, bind netaddr.HostAndPort) error {
	f.sb.register(bind, f.handlers)
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, target netaddr.HostAndPort, env network.Envelope) (*network.Envelope, error) {
	f.sb.mu.Lock()
	handlers, ok := f.sb.nodes[target]
	f.sb.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fake: no node listening at %s", target)
	}
	h, ok := handlers[env.Type]
	if !ok {
		return nil, fmt.Errorf("fake: no handler for %q at %s", env.Type, target)
	}
	return h(ctx, env)
}

func (f *fakeTransport) Close() error { return nil }

var _ network.Transport = (*fakeTransport)(nil)
