package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/quorumraft/pkg/correlation"
	"github.com/orneryd/quorumraft/pkg/netaddr"
)

// ErrMissingFootprint is returned by Footprint when an envelope carries no
// source host/port — every request that expects an asynchronous, separately
// dispatched reply must stamp one.
var ErrMissingFootprint = errors.New("network: envelope has no source footprint")

// AsyncNetwork is the send-side of the async network: it knows how to stamp
// an outgoing envelope with the sending replica's own address (its "source
// footprint", so the recipient can route its eventual, separate response
// back) and how to recover that footprint from an inbound envelope. It
// owns no sockets itself — those belong to the underlying Transport.
type AsyncNetwork struct {
	self      netaddr.HostAndPort
	transport Transport
}

// NewAsyncNetwork binds self as the footprint stamped onto every outgoing
// send from this network.
func NewAsyncNetwork(self netaddr.HostAndPort, transport Transport) *AsyncNetwork {
	return &AsyncNetwork{self: self, transport: transport}
}

// RegisterHandler installs the handler for inbound envelopes of msgType.
func (n *AsyncNetwork) RegisterHandler(msgType MessageType, h Handler) {
	n.transport.RegisterHandler(msgType, h)
}

// Listen starts accepting inbound connections on bind.
func (n *AsyncNetwork) Listen(ctx context.Context, bind netaddr.HostAndPort) error {
	return n.transport.Listen(ctx, bind)
}

// Close shuts down the underlying transport.
func (n *AsyncNetwork) Close() error {
	return n.transport.Close()
}

// Send delivers a bare request to target without a source footprint. Use
// this only for requests that never need an asynchronous reply routed back
// (e.g. a fire-and-forget notification).
func (n *AsyncNetwork) Send(ctx context.Context, target netaddr.HostAndPort, msgType MessageType, id correlation.ID, payload any) (Envelope, error) {
	env, err := Encode(msgType, id, payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("network: encode %s: %w", msgType, err)
	}
	ack, err := n.transport.Send(ctx, target, env)
	if err != nil {
		return Envelope{}, err
	}
	if ack != nil {
		return *ack, nil
	}
	return Envelope{}, nil
}

// SendWithSourceFootprint stamps the envelope with this network's own
// address before sending, so target can correlate its eventual, separately
// dispatched response back to self via Footprint.
func (n *AsyncNetwork) SendWithSourceFootprint(ctx context.Context, target netaddr.HostAndPort, msgType MessageType, id correlation.ID, payload any) (Envelope, error) {
	env, err := Encode(msgType, id, payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("network: encode %s: %w", msgType, err)
	}
	env.ReferralHost = n.self.IP
	env.ReferralPort = n.self.Port

	ack, err := n.transport.Send(ctx, target, env)
	if err != nil {
		return Envelope{}, err
	}
	if ack != nil {
		return *ack, nil
	}
	return Envelope{}, nil
}

// Footprint recovers the source host/port an envelope was stamped with via
// SendWithSourceFootprint. Handlers use this to address their own,
// independently-dispatched reply back to the original sender instead of the
// raw TCP peer address, which for a pooled connection is not necessarily the
// sender's listening address.
func Footprint(env Envelope) (netaddr.HostAndPort, error) {
	if env.ReferralHost == "" || env.ReferralPort == 0 {
		return netaddr.HostAndPort{}, ErrMissingFootprint
	}
	return netaddr.New(env.ReferralHost, env.ReferralPort), nil
}
