// Package test contains helpers shared by the package-level tests.
package test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/matheuscscp/link-chat/layers/link"
	"github.com/matheuscscp/link-chat/layers/physical"

	"github.com/stretchr/testify/require"
)

// WireConfigPair returns the configs for the two ends of one simulated
// UDP wire on localhost.
func WireConfigPair(port1, port2 int) (physical.UDPWireConfig, physical.UDPWireConfig) {
	end1 := physical.UDPWireConfig{
		RecvUDPEndpoint: fmt.Sprintf("127.0.0.1:%d", port1),
		SendUDPEndpoint: fmt.Sprintf("127.0.0.1:%d", port2),
	}
	end2 := physical.UDPWireConfig{
		RecvUDPEndpoint: fmt.Sprintf("127.0.0.1:%d", port2),
		SendUDPEndpoint: fmt.Sprintf("127.0.0.1:%d", port1),
	}
	return end1, end2
}

// TransceiverConfigPair returns configs for two transceivers connected
// by one simulated UDP wire.
func TransceiverConfigPair(mac1, mac2 string, port1, port2 int) (link.TransceiverConfig, link.TransceiverConfig) {
	wire1, wire2 := WireConfigPair(port1, port2)
	conf1 := link.TransceiverConfig{
		MACAddress: mac1,
		UDPWire:    &wire1,
	}
	conf2 := link.TransceiverConfig{
		MACAddress: mac2,
		UDPWire:    &wire2,
	}
	return conf1, conf2
}

// AssertDecodedFrame expects one decoded frame on the channel within a
// short timeout and asserts its fields.
func AssertDecodedFrame(
	t *testing.T,
	ch <-chan *link.DecodedFrame,
	srcMAC, dstMAC net.HardwareAddr,
	frameType link.FrameType,
	payload []byte,
) {
	t.Helper()
	select {
	case frame := <-ch:
		require.NotNil(t, frame)
		require.Equal(t, srcMAC, frame.SrcMAC)
		require.Equal(t, dstMAC, frame.DstMAC)
		require.Equal(t, frameType, frame.Type)
		require.Equal(t, payload, frame.Payload)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for decoded frame")
	}
}

// AssertNoDecodedFrame asserts that nothing shows up on the channel
// for the given duration.
func AssertNoDecodedFrame(t *testing.T, ch <-chan *link.DecodedFrame, d time.Duration) {
	t.Helper()
	select {
	case frame := <-ch:
		t.Fatalf("unexpected decoded frame: %+v", frame)
	case <-time.After(d):
	}
}

// CloseTransceiversAndFlagErrorForUnexpectedData closes the given
// transceivers and fails the test if any of them still had decoded
// frames buffered.
func CloseTransceiversAndFlagErrorForUnexpectedData(t *testing.T, transceivers ...link.Transceiver) {
	t.Helper()
	for _, transceiver := range transceivers {
		require.NoError(t, transceiver.Close())
		for frame := range transceiver.Recv() {
			t.Errorf("unexpected decoded frame after close: %+v", frame)
		}
	}
}
