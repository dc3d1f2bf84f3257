package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/quorumraft/pkg/correlation"
	"github.com/orneryd/quorumraft/pkg/netaddr"
)

type pingPayload struct {
	Text string `json:"text"`
}

type pongPayload struct {
	Text string `json:"text"`
}

func TestSendReceivesHandlerAck(t *testing.T) {
	bind := netaddr.New("127.0.0.1", 18341)
	server := NewTCPTransport(DefaultTCPConfig())
	server.RegisterHandler("ping", func(ctx context.Context, env Envelope) (*Envelope, error) {
		var in pingPayload
		require.NoError(t, env.Decode(&in))
		require.Equal(t, "hello", in.Text)

		out, err := Encode("pong", env.CorrelationID, pongPayload{Text: "world"})
		require.NoError(t, err)
		return &out, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.Listen(ctx, bind) }()
	defer server.Close()

	time.Sleep(100 * time.Millisecond)

	client := NewTCPTransport(DefaultTCPConfig())
	defer client.Close()

	id := correlation.New()
	env, err := Encode("ping", id, pingPayload{Text: "hello"})
	require.NoError(t, err)

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()

	ack, err := client.Send(sendCtx, bind, env)
	require.NoError(t, err)
	require.Equal(t, MessageType("pong"), ack.Type)

	var out pongPayload
	require.NoError(t, ack.Decode(&out))
	require.Equal(t, "world", out.Text)
}

func TestSendAfterCloseFails(t *testing.T) {
	client := NewTCPTransport(DefaultTCPConfig())
	require.NoError(t, client.Close())

	_, err := client.Send(context.Background(), netaddr.New("127.0.0.1", 18342), Envelope{Type: "ping"})
	require.ErrorIs(t, err, ErrTransportClosed)
}

func TestAsyncNetworkRoundTripWithFootprint(t *testing.T) {
	serverAddr := netaddr.New("127.0.0.1", 18343)
	clientAddr := netaddr.New("127.0.0.1", 18344)

	receivedFootprint := make(chan netaddr.HostAndPort, 1)

	server := NewTCPTransport(DefaultTCPConfig())
	serverNet := NewAsyncNetwork(serverAddr, server)
	serverNet.RegisterHandler("ping", func(ctx context.Context, env Envelope) (*Envelope, error) {
		fp, err := Footprint(env)
		if err == nil {
			receivedFootprint <- fp
		}
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = serverNet.Listen(ctx, serverAddr) }()
	defer serverNet.Close()

	time.Sleep(100 * time.Millisecond)

	client := NewTCPTransport(DefaultTCPConfig())
	clientNet := NewAsyncNetwork(clientAddr, client)
	defer clientNet.Close()

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()

	_, err := clientNet.SendWithSourceFootprint(sendCtx, serverAddr, "ping", correlation.New(), pingPayload{Text: "hi"})
	require.NoError(t, err)

	select {
	case fp := <-receivedFootprint:
		require.Equal(t, clientAddr, fp)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never observed a source footprint")
	}
}

func TestFootprintMissingReturnsError(t *testing.T) {
	env := Envelope{Type: "ping"}
	_, err := Footprint(env)
	require.ErrorIs(t, err, ErrMissingFootprint)
}
