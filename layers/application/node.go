package application

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/matheuscscp/link-chat/layers/link"
)

type (
	// NodeConfig contains the configs for NewNode.
	NodeConfig struct {
		DownloadsDir string                 `yaml:"downloadsDir"`
		Transceiver  link.TransceiverConfig `yaml:"transceiver"`
		Discovery    DiscoveryConfig        `yaml:"discovery"`
		Security     SecurityConfig         `yaml:"security"`
	}

	// Node composes the transceiver with the application services and
	// exposes the outbound operations the front-end invokes.
	Node struct {
		conf        *NodeConfig
		transceiver link.Transceiver
		sink        EventSink
		discovery   *DiscoveryService
		security    *SecureChannel
		files       *FileService
		folders     *FolderService
		dispatcher  *Dispatcher
	}
)

// NewNode opens the transceiver and wires all services. Call Run to
// start the service loops and Close to release the medium.
func NewNode(ctx context.Context, conf NodeConfig, sink EventSink) (*Node, error) {
	transceiver, err := link.NewTransceiver(ctx, conf.Transceiver)
	if err != nil {
		return nil, fmt.Errorf("error creating transceiver: %w", err)
	}
	transceiver.SetProgressFunc(func(src net.HardwareAddr, received, total uint32, totalBytes int) {
		sink.UpdateProgress(fmt.Sprintf("receiving from %s", src), int(received), int(total))
	})

	security, err := NewSecureChannel(conf.Security, transceiver, sink)
	if err != nil {
		transceiver.Close()
		return nil, fmt.Errorf("error creating secure channel: %w", err)
	}
	discovery := NewDiscoveryService(conf.Discovery, transceiver, sink)
	files := NewFileService(transceiver, sink, conf.DownloadsDir)
	folders := NewFolderService(transceiver, sink, files, conf.DownloadsDir)
	dispatcher := NewDispatcher(transceiver, sink, discovery, security, files, folders)

	return &Node{
		conf:        &conf,
		transceiver: transceiver,
		sink:        sink,
		discovery:   discovery,
		security:    security,
		files:       files,
		folders:     folders,
		dispatcher:  dispatcher,
	}, nil
}

// Run starts the dispatcher and discovery loops and blocks until ctx
// is done.
func (n *Node) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n.dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		n.discovery.Run(ctx)
	}()
	wg.Wait()
}

// SendMessage sends a chat message. Unicast messages to peers with an
// active session are encrypted; broadcast is always sent in clear.
func (n *Node) SendMessage(ctx context.Context, dst net.HardwareAddr, text string) error {
	payload := text
	if !bytes.Equal(dst, link.BroadcastMACAddress()) && n.security.HasSession(dst.String()) {
		encrypted, err := n.security.EncryptText(dst.String(), text)
		if err != nil {
			return fmt.Errorf("error encrypting message: %w", err)
		}
		payload = encrypted
	}
	return n.transceiver.Send(ctx, dst, link.FrameTypeText, []byte(payload))
}

// SendFile transmits a file.
func (n *Node) SendFile(ctx context.Context, dst net.HardwareAddr, path string) error {
	return n.files.SendFile(ctx, dst, path)
}

// SendFolder transmits a whole directory tree.
func (n *Node) SendFolder(ctx context.Context, dst net.HardwareAddr, path string) error {
	return n.folders.SendFolder(ctx, dst, path)
}

// InitiateKeyExchange starts a secure channel handshake with a peer.
func (n *Node) InitiateKeyExchange(ctx context.Context, dst net.HardwareAddr) error {
	return n.security.InitiateKeyExchange(ctx, dst)
}

// RequestDiscovery asks all peers for an immediate heartbeat.
func (n *Node) RequestDiscovery(ctx context.Context) error {
	return n.discovery.RequestDiscovery(ctx)
}

// Peers returns the currently known live peers.
func (n *Node) Peers() []Peer {
	return n.discovery.Peers()
}

// Security exposes the secure channel service.
func (n *Node) Security() *SecureChannel {
	return n.security
}

// MACAddress returns the local hardware address.
func (n *Node) MACAddress() net.HardwareAddr {
	return n.transceiver.MACAddress()
}

// Hostname returns the name announced to peers.
func (n *Node) Hostname() string {
	return n.discovery.Hostname()
}

// Stats returns the link transceiver counters.
func (n *Node) Stats() link.Stats {
	return n.transceiver.Stats()
}

// Close releases the transceiver and its medium.
func (n *Node) Close() error {
	return n.transceiver.Close()
}
