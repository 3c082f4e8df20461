package physical_test

import (
	"context"
	"testing"

	"github.com/matheuscscp/link-chat/layers/common"
	"github.com/matheuscscp/link-chat/layers/physical"

	"github.com/stretchr/testify/require"
)

func TestUDPWireRoundTrip(t *testing.T) {
	wire1, err := physical.NewUDPWire(context.Background(), physical.UDPWireConfig{
		RecvUDPEndpoint: "127.0.0.1:50301",
		SendUDPEndpoint: "127.0.0.1:50302",
	})
	require.NoError(t, err)
	wire2, err := physical.NewUDPWire(context.Background(), physical.UDPWireConfig{
		RecvUDPEndpoint: "127.0.0.1:50302",
		SendUDPEndpoint: "127.0.0.1:50301",
	})
	require.NoError(t, err)

	payload := []byte("down the wire")
	n, err := wire1.Send(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, physical.MTU)
	n, err = wire2.Recv(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])

	require.NoError(t, wire1.Close())
	require.NoError(t, wire2.Close())
}

func TestUDPWireRejectsEmptyAndOversizedPayloads(t *testing.T) {
	wire, err := physical.NewUDPWire(context.Background(), physical.UDPWireConfig{
		RecvUDPEndpoint: "127.0.0.1:50303",
		SendUDPEndpoint: "127.0.0.1:50304",
	})
	require.NoError(t, err)
	defer wire.Close()

	_, err = wire.Send(context.Background(), nil)
	require.ErrorIs(t, err, common.ErrCannotSendEmpty)

	_, err = wire.Send(context.Background(), make([]byte, physical.MTU+1))
	require.Error(t, err)
}

func TestUDPWireRecvObservesContext(t *testing.T) {
	wire, err := physical.NewUDPWire(context.Background(), physical.UDPWireConfig{
		RecvUDPEndpoint: "127.0.0.1:50305",
		SendUDPEndpoint: "127.0.0.1:50306",
	})
	require.NoError(t, err)
	defer wire.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = wire.Recv(ctx, make([]byte, physical.MTU))
	require.ErrorIs(t, err, context.Canceled)
}
