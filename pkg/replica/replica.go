package replica

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/quorumraft/pkg/clock"
	"github.com/orneryd/quorumraft/pkg/correlation"
	"github.com/orneryd/quorumraft/pkg/netaddr"
	"github.com/orneryd/quorumraft/pkg/network"
	"github.com/orneryd/quorumraft/pkg/queue"
)

// ErrQuorumTimeout is returned by SendToReplicasAndAwaitQuorum and
// SendToReplicaAndAwait when too few peers respond before the deadline.
var ErrQuorumTimeout = errors.New("replica: quorum not reached before timeout")

// ID identifies a replica within a cluster. Opaque beyond ordering and
// equality.
type ID uint64

// RequestBuilder produces the message type and payload to send to a given
// peer for one broadcast round. The callers in this module (election and the
// quorum KV GET/PUT) return the same payload for every peer; the peer is
// passed in so a builder can vary it.
type RequestBuilder func(peer netaddr.HostAndPort) (network.MessageType, any)

// Replica is the per-process identity every consensus variant (Raft, quorum
// KV) is built on top of: an immutable id/address/peer-list, a clock, one
// Singular Update Queue serializing all state mutations, and a
// pending-responses table correlating asynchronous replies back to their
// originating broadcast.
type Replica struct {
	id          ID
	selfAddress netaddr.HostAndPort
	peers       []netaddr.HostAndPort
	clk         clock.Clock
	queue       *queue.SingularUpdateQueue
	net         *network.AsyncNetwork

	mu      sync.Mutex
	pending map[pendingKey]chan Response
}

type pendingKey struct {
	id   correlation.ID
	peer netaddr.HostAndPort
}

// New constructs a Replica. queueCapacity sizes the SUQ's submission buffer
// (spec's suq_channel_capacity); net is the already-bound AsyncNetwork this
// replica sends and receives on.
func New(id ID, self netaddr.HostAndPort, peers []netaddr.HostAndPort, clk clock.Clock, net *network.AsyncNetwork, queueCapacity int) *Replica {
	return &Replica{
		id:          id,
		selfAddress: self,
		peers:       peers,
		clk:         clk,
		queue:       queue.New(queueCapacity),
		net:         net,
		pending:     make(map[pendingKey]chan Response),
	}
}

func (r *Replica) ID() ID                           { return r.id }
func (r *Replica) SelfAddress() netaddr.HostAndPort  { return r.selfAddress }
func (r *Replica) Peers() []netaddr.HostAndPort      { return r.peers }
func (r *Replica) Clock() clock.Clock                { return r.clk }
func (r *Replica) Network() *network.AsyncNetwork    { return r.net }

// ClusterSize is len(peers)+1, counting self.
func (r *Replica) ClusterSize() int { return len(r.peers) + 1 }

// QuorumSize is the strict majority of a cluster of the given size.
func QuorumSize(clusterSize int) int { return clusterSize/2 + 1 }

// Submit enqueues handler onto the Replica's SUQ. Every mutation to Raft
// state or quorum-KV storage must happen inside a submitted handler.
func (r *Replica) Submit(handler queue.Handler) error {
	return r.queue.Submit(handler)
}

// SubmitAsync is Submit for callers (timers, response handlers) that are not
// already running on the SUQ worker and must not block waiting for a slot.
func (r *Replica) SubmitAsync(handler queue.Handler) {
	r.queue.SubmitAsync(handler)
}

// Shutdown drains the SUQ and fails any outstanding pending slots.
func (r *Replica) Shutdown() {
	r.queue.Shutdown()

	r.mu.Lock()
	stale := r.pending
	r.pending = make(map[pendingKey]chan Response)
	r.mu.Unlock()

	for key, ch := range stale {
		ch <- Response{Peer: key.peer, Err: queue.ErrShutdown}
	}
}

// RegisterPending pre-registers a completion slot for a (correlationID,
// peer) pair, to be inserted before the network send it correlates with.
// The returned channel resolves exactly once, by RegisterResponse or by the
// caller's own cancellation.
func (r *Replica) RegisterPending(id correlation.ID, peer netaddr.HostAndPort) <-chan Response {
	ch := make(chan Response, 1)
	key := pendingKey{id: id, peer: peer}

	r.mu.Lock()
	r.pending[key] = ch
	r.mu.Unlock()

	return ch
}

// RegisterResponse resolves the pending slot for (id, peer) with resp. A
// missing slot (already resolved, cancelled, or never registered) is logged
// and dropped, per spec.
func (r *Replica) RegisterResponse(id correlation.ID, peer netaddr.HostAndPort, resp Response) bool {
	key := pendingKey{id: id, peer: peer}

	r.mu.Lock()
	ch, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !ok {
		log.Printf("[replica %d] no pending slot for correlation %s from %s; dropping response", r.id, id, peer)
		return false
	}
	ch <- resp
	return true
}

// cancelPending removes a pending slot without resolving it, for the case
// where the awaiting side gave up first (timeout, quorum already reached).
// Returns true if a slot was actually removed here.
func (r *Replica) cancelPending(id correlation.ID, peer netaddr.HostAndPort) bool {
	key := pendingKey{id: id, peer: peer}

	r.mu.Lock()
	_, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	return ok
}

// PendingCount reports the current size of the pending-responses table,
// exposed so tests can assert on S6's "table returns to its pre-broadcast
// size" property.
func (r *Replica) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// SendToReplicasWithoutCallback broadcasts fire-and-forget: it does not
// register pending slots or wait for responses, and returns the count of
// sends that failed at the transport level.
func (r *Replica) SendToReplicasWithoutCallback(ctx context.Context, id correlation.ID, build RequestBuilder) uint32 {
	var failures atomic.Uint32
	var wg sync.WaitGroup

	for _, peer := range r.peers {
		peer := peer
		msgType, payload := build(peer)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.net.SendWithSourceFootprint(ctx, peer, msgType, id, payload); err != nil {
				log.Printf("[replica %d] fire-and-forget send to %s failed: %v", r.id, peer, err)
				failures.Add(1)
			}
		}()
	}

	wg.Wait()
	return failures.Load()
}

// SendToReplicasAndAwaitQuorum registers a pending slot for every peer,
// broadcasts build's request under the shared correlation id, and returns as
// soon as quorumSize responses have arrived or totalTimeout elapses. Every
// pending slot registered here is resolved exactly once — by an arriving
// response or by cancellation once the await finishes — before this call
// returns.
func (r *Replica) SendToReplicasAndAwaitQuorum(ctx context.Context, id correlation.ID, quorumSize int, totalTimeout time.Duration, build RequestBuilder) ([]Response, error) {
	if quorumSize <= 0 {
		return nil, nil
	}
	if len(r.peers) == 0 {
		return nil, nil
	}

	awaitCtx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	aggregate := make(chan Response, len(r.peers))
	var forwarders sync.WaitGroup

	for _, peer := range r.peers {
		peer := peer
		ch := r.RegisterPending(id, peer)

		forwarders.Add(1)
		go func() {
			defer forwarders.Done()
			select {
			case resp := <-ch:
				select {
				case aggregate <- resp:
				case <-awaitCtx.Done():
				}
			case <-awaitCtx.Done():
				r.cancelPending(id, peer)
			}
		}()
	}

	for _, peer := range r.peers {
		peer := peer
		msgType, payload := build(peer)
		go func() {
			if _, err := r.net.SendWithSourceFootprint(awaitCtx, peer, msgType, id, payload); err != nil {
				log.Printf("[replica %d] quorum-await send to %s failed: %v", r.id, peer, err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		forwarders.Wait()
		close(done)
	}()

	collected := make([]Response, 0, quorumSize)
collect:
	for len(collected) < quorumSize {
		select {
		case resp := <-aggregate:
			collected = append(collected, resp)
		case <-awaitCtx.Done():
			break collect
		}
	}

	// Stop any stragglers (quorum already reached, or deadline hit) and wait
	// for their forwarders to finish cancelling — guarantees no pending slot
	// from this round outlives the call.
	cancel()
	<-done

	if len(collected) < quorumSize {
		return collected, ErrQuorumTimeout
	}
	return collected, nil
}

// SendToReplicaAndAwait sends a single request to one peer and waits for its
// correlated response. Used by the leader's per-peer AppendEntries retry
// loop, where each peer's backoff is independent of the others.
func (r *Replica) SendToReplicaAndAwait(ctx context.Context, peer netaddr.HostAndPort, id correlation.ID, timeout time.Duration, msgType network.MessageType, payload any) (Response, error) {
	ch := r.RegisterPending(id, peer)

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := r.net.SendWithSourceFootprint(sendCtx, peer, msgType, id, payload); err != nil {
		r.cancelPending(id, peer)
		return Response{}, fmt.Errorf("replica: send to %s: %w", peer, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-sendCtx.Done():
		r.cancelPending(id, peer)
		return Response{}, ErrQuorumTimeout
	}
}
