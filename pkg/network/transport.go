package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/quorumraft/pkg/netaddr"
)

// ErrTransportClosed is returned by Send/Listen once Close has been called.
var ErrTransportClosed = errors.New("network: transport closed")

// Handler processes one inbound envelope and returns the envelope to send
// back as the transport-level ack (nil for a bare empty ack). Handlers that
// need the sender's address recover it from the envelope's own source
// footprint via Footprint, not from the raw TCP peer address (which is an
// ephemeral client port, not a routable listening address).
type Handler func(ctx context.Context, env Envelope) (*Envelope, error)

// Transport is the wire-level collaborator AsyncNetwork drives. It is kept
// as an interface so tests can substitute an in-memory fake instead of
// binding real sockets.
type Transport interface {
	Listen(ctx context.Context, bind netaddr.HostAndPort) error
	RegisterHandler(t MessageType, h Handler)
	Send(ctx context.Context, target netaddr.HostAndPort, env Envelope) (*Envelope, error)
	Close() error
}

// TCPConfig configures a TCPTransport.
type TCPConfig struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxMsgSize   int
}

// DefaultTCPConfig returns sane production defaults, matching
// pkg/replication/transport.go's DefaultClusterTransportConfig.
func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		MaxMsgSize:   DefaultMaxEnvelopeSize,
	}
}

// TCPTransport implements Transport over length-delimited JSON frames on
// plain TCP connections, one persistent connection per peer, reused across
// Sends — the same shape as pkg/replication/transport.go's ClusterTransport.
type TCPTransport struct {
	cfg TCPConfig

	mu          sync.RWMutex
	connections map[netaddr.HostAndPort]*tcpConnection
	handlers    map[MessageType]Handler
	listener    net.Listener

	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewTCPTransport constructs a transport with the given configuration.
func NewTCPTransport(cfg TCPConfig) *TCPTransport {
	return &TCPTransport{
		cfg:         cfg,
		connections: make(map[netaddr.HostAndPort]*tcpConnection),
		handlers:    make(map[MessageType]Handler),
		closeCh:     make(chan struct{}),
	}
}

// RegisterHandler installs the handler invoked for inbound envelopes of the
// given type.
func (t *TCPTransport) RegisterHandler(msgType MessageType, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[msgType] = h
}

// Listen accepts connections on bind until ctx is cancelled or Close runs.
func (t *TCPTransport) Listen(ctx context.Context, bind netaddr.HostAndPort) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	listener, err := net.Listen("tcp", bind.String())
	if err != nil {
		return fmt.Errorf("network: listen on %s: %w", bind, err)
	}
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	log.Printf("[network] listening on %s", bind)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closeCh:
			return nil
		default:
		}
		if tcpListener, ok := listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(time.Second))
		}
		conn, err := listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if t.closed.Load() {
				return nil
			}
			log.Printf("[network] accept error: %v", err)
			continue
		}
		t.wg.Add(1)
		go t.serve(ctx, conn)
	}
}

// serve reads frames off an inbound connection, dispatches each to its
// registered handler, and writes back the handler's ack frame — the
// synchronous per-message request/ack loop pkg/replication/transport.go
// calls handleIncoming.
func (t *TCPTransport) serve(ctx context.Context, conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closeCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		f, err := readFrame(reader, t.cfg.MaxMsgSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.closed.Load() {
				var netErr net.Error
				if !errors.As(err, &netErr) || !netErr.Timeout() {
					log.Printf("[network] read error: %v", err)
				}
			}
			return
		}

		t.mu.RLock()
		handler, ok := t.handlers[f.Env.Type]
		t.mu.RUnlock()
		if !ok {
			log.Printf("[network] no handler for message type %q", f.Env.Type)
			continue
		}

		ackEnv, err := handler(ctx, f.Env)
		if err != nil {
			log.Printf("[network] handler error for %q: %v", f.Env.Type, err)
			continue
		}
		if ackEnv == nil {
			ackEnv = &Envelope{}
		}
		ack := &frame{RPCID: f.RPCID, Ack: true, Env: *ackEnv}

		conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
		if err := writeFrame(writer, ack); err != nil {
			log.Printf("[network] write ack error: %v", err)
			return
		}
		if err := writer.Flush(); err != nil {
			log.Printf("[network] flush ack error: %v", err)
			return
		}
	}
}

// Send delivers env to target and waits for its transport-level ack.
func (t *TCPTransport) Send(ctx context.Context, target netaddr.HostAndPort, env Envelope) (*Envelope, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	conn, err := t.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	return conn.sendRPC(ctx, env)
}

func (t *TCPTransport) connect(ctx context.Context, addr netaddr.HostAndPort) (*tcpConnection, error) {
	t.mu.RLock()
	if c, ok := t.connections[addr]; ok && c.isConnected() {
		t.mu.RUnlock()
		return c, nil
	}
	t.mu.RUnlock()

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	netConn, err := d.DialContext(dialCtx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("network: connect to %s: %w", addr, err)
	}

	c := newTCPConnection(t, addr, netConn)
	t.wg.Add(1)
	c.wg.Add(1)
	go func() {
		defer t.wg.Done()
		c.readLoop()
	}()

	t.mu.Lock()
	t.connections[addr] = c
	t.mu.Unlock()

	log.Printf("[network] connected to peer %s", addr)
	return c, nil
}

// Close shuts the transport down: the listener, every outbound connection,
// and waits for all of their goroutines to exit.
func (t *TCPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.closeCh)

	t.mu.Lock()
	if t.listener != nil {
		t.listener.Close()
	}
	for _, c := range t.connections {
		c.close()
	}
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

// tcpConnection is one persistent outbound connection, with its own
// request-id correlation table for matching a Send with its ack —
// pkg/replication/transport.go's ClusterConnection, generalized to carry an
// Envelope instead of a ClusterMessage.
type tcpConnection struct {
	transport *TCPTransport
	addr      netaddr.HostAndPort
	conn      net.Conn
	writer    *bufio.Writer
	writeMu   sync.Mutex

	connected atomic.Bool
	closeCh   chan struct{}
	wg        sync.WaitGroup

	rpcMu     sync.Mutex
	nextRPCID uint64
	pending   map[uint64]chan *frame
}

func newTCPConnection(t *TCPTransport, addr netaddr.HostAndPort, conn net.Conn) *tcpConnection {
	c := &tcpConnection{
		transport: t,
		addr:      addr,
		conn:      conn,
		writer:    bufio.NewWriter(conn),
		closeCh:   make(chan struct{}),
		pending:   make(map[uint64]chan *frame),
	}
	c.connected.Store(true)
	return c
}

func (c *tcpConnection) isConnected() bool { return c.connected.Load() }

func (c *tcpConnection) sendRPC(ctx context.Context, env Envelope) (*Envelope, error) {
	if !c.isConnected() {
		return nil, errors.New("network: connection closed")
	}

	c.rpcMu.Lock()
	rpcID := c.nextRPCID
	c.nextRPCID++
	respCh := make(chan *frame, 1)
	c.pending[rpcID] = respCh
	c.rpcMu.Unlock()

	defer func() {
		c.rpcMu.Lock()
		delete(c.pending, rpcID)
		c.rpcMu.Unlock()
	}()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.transport.cfg.WriteTimeout))
	err := writeFrame(c.writer, &frame{RPCID: rpcID, Env: env})
	if err == nil {
		err = c.writer.Flush()
	}
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("network: write: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, errors.New("network: connection closed")
	case f := <-respCh:
		return &f.Env, nil
	}
}

func (c *tcpConnection) readLoop() {
	defer c.wg.Done()
	defer func() {
		c.connected.Store(false)
		close(c.closeCh)
	}()

	reader := bufio.NewReader(c.conn)
	for {
		c.conn.SetReadDeadline(time.Now().Add(c.transport.cfg.ReadTimeout))
		f, err := readFrame(reader, c.transport.cfg.MaxMsgSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				var netErr net.Error
				if !errors.As(err, &netErr) || !netErr.Timeout() {
					log.Printf("[network] read error from %s: %v", c.addr, err)
				}
			}
			return
		}
		if !f.Ack {
			// This connection is outbound-only from our side; an inbound,
			// non-ack frame here would mean the peer is piggy-backing a
			// fresh request on our dial connection, which this transport
			// does not do (requests always open their own dial). Drop it.
			continue
		}

		c.rpcMu.Lock()
		ch, ok := c.pending[f.RPCID]
		c.rpcMu.Unlock()
		if ok {
			select {
			case ch <- f:
			default:
			}
		}
	}
}

func (c *tcpConnection) close() {
	c.conn.Close()
	c.wg.Wait()
}

var _ Transport = (*TCPTransport)(nil)
