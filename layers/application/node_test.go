package application_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheuscscp/link-chat/config"
	"github.com/matheuscscp/link-chat/layers/application"
	"github.com/matheuscscp/link-chat/layers/link"
	"github.com/matheuscscp/link-chat/test"

	"github.com/stretchr/testify/require"
)

func nodePair(t *testing.T, port1, port2 int) (*application.Node, *application.Node, *test.RecorderSink, *test.RecorderSink, string) {
	t.Helper()
	conf1, conf2 := test.TransceiverConfigPair("02:00:5e:00:53:01", "02:00:5e:00:53:02", port1, port2)

	downloads2 := t.TempDir()
	sink1, sink2 := &test.RecorderSink{}, &test.RecorderSink{}
	node1, err := application.NewNode(context.Background(), application.NodeConfig{
		DownloadsDir: t.TempDir(),
		Transceiver:  conf1,
		Discovery: application.DiscoveryConfig{
			Hostname:          "node1",
			HeartbeatInterval: config.Duration(50 * time.Millisecond),
		},
		Security: application.SecurityConfig{Enabled: true},
	}, sink1)
	require.NoError(t, err)

	node2, err := application.NewNode(context.Background(), application.NodeConfig{
		DownloadsDir: downloads2,
		Transceiver:  conf2,
		Discovery: application.DiscoveryConfig{
			Hostname:          "node2",
			HeartbeatInterval: config.Duration(50 * time.Millisecond),
		},
		Security: application.SecurityConfig{Enabled: true},
	}, sink2)
	require.NoError(t, err)

	return node1, node2, sink1, sink2, downloads2
}

func TestNodesDiscoverChatAndTransferFiles(t *testing.T) {
	node1, node2, sink1, sink2, _ := nodePair(t, 50181, 50182)
	defer node1.Close()
	defer node2.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node1.Run(ctx)
	go node2.Run(ctx)

	// discovery: heartbeats populate both peer tables
	require.Eventually(t, func() bool {
		return len(node1.Peers()) == 1 && len(node2.Peers()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, "node2", node1.Peers()[0].Hostname)
	require.Equal(t, node2.MACAddress().String(), node1.Peers()[0].MAC)
	require.NotEmpty(t, sink1.PeersFound())

	// broadcast chat
	require.NoError(t, node1.SendMessage(ctx, link.BroadcastMACAddress(), "hola"))
	require.Eventually(t, func() bool {
		return sink2.HasMessage("hola")
	}, 5*time.Second, 20*time.Millisecond)

	// secure chat: handshake, then unicast gets encrypted end-to-end
	require.NoError(t, node1.InitiateKeyExchange(ctx, node2.MACAddress()))
	require.Eventually(t, func() bool {
		return node1.Security().HasSession(node2.MACAddress().String()) &&
			node2.Security().HasSession(node1.MACAddress().String())
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, node1.SendMessage(ctx, node2.MACAddress(), "secret"))
	require.Eventually(t, func() bool {
		return sink2.HasMessage("secret")
	}, 5*time.Second, 20*time.Millisecond)

	require.Empty(t, sink2.Errors())
}

func TestNodesTransferFile(t *testing.T) {
	node1, node2, _, _, downloads2 := nodePair(t, 50191, 50192)
	defer node1.Close()
	defer node2.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node1.Run(ctx)
	go node2.Run(ctx)

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))
	require.NoError(t, node1.SendFile(ctx, node2.MACAddress(), path))

	saved := filepath.Join(downloads2, "a.txt")
	require.Eventually(t, func() bool {
		content, err := os.ReadFile(saved)
		return err == nil && string(content) == "hi"
	}, 5*time.Second, 20*time.Millisecond)
}
