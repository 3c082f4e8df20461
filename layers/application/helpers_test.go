package application_test

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/matheuscscp/link-chat/layers/link"

	"github.com/stretchr/testify/require"
)

type (
	sentMessage struct {
		dst       net.HardwareAddr
		frameType link.FrameType
		payload   []byte
	}

	// fakeSender records outbound messages instead of hitting a wire.
	fakeSender struct {
		mu   sync.Mutex
		mac  net.HardwareAddr
		sent []sentMessage
	}
)

func newFakeSender(t *testing.T, mac string) *fakeSender {
	t.Helper()
	parsed, err := net.ParseMAC(mac)
	require.NoError(t, err)
	return &fakeSender{mac: parsed}
}

func (f *fakeSender) Send(ctx context.Context, dst net.HardwareAddr, frameType link.FrameType, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{dst: dst, frameType: frameType, payload: payload})
	return nil
}

func (f *fakeSender) MACAddress() net.HardwareAddr {
	return f.mac
}

func (f *fakeSender) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSender) lastSent(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}
