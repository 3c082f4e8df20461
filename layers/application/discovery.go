package application

import (
	"bytes"
	"context"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/matheuscscp/link-chat/config"
	"github.com/matheuscscp/link-chat/layers/link"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/sirupsen/logrus"
)

type (
	// LinkSender is the outbound side of the link transceiver as seen
	// by the application services.
	LinkSender interface {
		Send(ctx context.Context, dst net.HardwareAddr, frameType link.FrameType, payload []byte) error
		MACAddress() net.HardwareAddr
	}

	// Peer is a neighbor discovered through heartbeats.
	Peer struct {
		MAC          string
		Hostname     string
		LastSeen     time.Time
		Capabilities []string
	}

	// DiscoveryConfig contains the configs for NewDiscoveryService.
	DiscoveryConfig struct {
		Hostname          string          `yaml:"hostname"`
		HeartbeatInterval config.Duration `yaml:"heartbeatInterval"`
		PeerTimeout       config.Duration `yaml:"peerTimeout"`
		Capabilities      []string        `yaml:"capabilities"`
	}

	// DiscoveryService broadcasts periodic heartbeats announcing this
	// node and maintains the live-peers map with a TTL.
	DiscoveryService struct {
		conf     *DiscoveryConfig
		sender   LinkSender
		sink     EventSink
		hostname string
		l        logrus.FieldLogger

		mu    sync.Mutex
		peers map[string]*Peer
	}
)

// NewDiscoveryService creates a DiscoveryService from config. The
// hostname defaults to the OS hostname, then to a generated pet name.
func NewDiscoveryService(conf DiscoveryConfig, sender LinkSender, sink EventSink) *DiscoveryService {
	hostname := conf.Hostname
	if hostname == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			hostname = h
		} else {
			hostname = petname.Generate(2, "-")
		}
	}
	return &DiscoveryService{
		conf:     &conf,
		sender:   sender,
		sink:     sink,
		hostname: hostname,
		l:        logrus.WithField("component", "discovery"),
		peers:    make(map[string]*Peer),
	}
}

// Hostname returns the name announced in heartbeats.
func (d *DiscoveryService) Hostname() string {
	return d.hostname
}

// Run announces this node periodically and sweeps expired peers on
// each tick. Returns when ctx is done.
func (d *DiscoveryService) Run(ctx context.Context) {
	interval := d.conf.HeartbeatInterval.DurationOrDefault(defaultHeartbeatInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.sendHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sendHeartbeat(ctx)
			d.sweepExpiredPeers()
		}
	}
}

// Handle processes an inbound discovery message. Own heartbeats are
// identified by source MAC and ignored.
func (d *DiscoveryService) Handle(ctx context.Context, src net.HardwareAddr, msg *DiscoveryMessage) {
	if bytes.Equal(src, d.sender.MACAddress()) {
		return
	}

	switch msg.Type {
	case discoveryTypeHeartbeat:
		d.upsertPeer(src, msg)
	case discoveryTypeRequest:
		// requests trigger an immediate heartbeat so the requester
		// learns about us without waiting a full interval
		go d.sendHeartbeat(ctx)
	default:
		d.l.
			WithField("type", msg.Type).
			Debug("ignoring unknown discovery message type")
	}
}

// Peers returns a snapshot of the live peers, sorted by MAC address.
func (d *DiscoveryService) Peers() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers := make([]Peer, 0, len(d.peers))
	for _, peer := range d.peers {
		peers = append(peers, *peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].MAC < peers[j].MAC })
	return peers
}

// RequestDiscovery broadcasts an active discovery request, asking all
// peers for an immediate heartbeat.
func (d *DiscoveryService) RequestDiscovery(ctx context.Context) error {
	payload, err := marshalWithPrefix(discoveryPrefix, &DiscoveryMessage{
		Type:      discoveryTypeRequest,
		MAC:       d.sender.MACAddress().String(),
		Timestamp: unixTimestamp(),
	})
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, link.BroadcastMACAddress(), link.FrameTypeText, []byte(payload))
}

func (d *DiscoveryService) sendHeartbeat(ctx context.Context) {
	capabilities := d.conf.Capabilities
	if len(capabilities) == 0 {
		capabilities = []string{"text", "file", "broadcast"}
	}
	payload, err := marshalWithPrefix(discoveryPrefix, &DiscoveryMessage{
		Type:         discoveryTypeHeartbeat,
		MAC:          d.sender.MACAddress().String(),
		Hostname:     d.hostname,
		Timestamp:    unixTimestamp(),
		Capabilities: capabilities,
	})
	if err != nil {
		d.l.
			WithError(err).
			Error("error building heartbeat")
		return
	}
	if err := d.sender.Send(ctx, link.BroadcastMACAddress(), link.FrameTypeText, []byte(payload)); err != nil {
		d.l.
			WithError(err).
			Error("error sending heartbeat")
	}
}

func (d *DiscoveryService) upsertPeer(src net.HardwareAddr, msg *DiscoveryMessage) {
	d.mu.Lock()
	mac := src.String()
	_, known := d.peers[mac]
	peer := &Peer{
		MAC:          mac,
		Hostname:     msg.Hostname,
		LastSeen:     time.Now(),
		Capabilities: msg.Capabilities,
	}
	d.peers[mac] = peer
	d.mu.Unlock()

	if !known {
		d.l.
			WithField("peer_mac", mac).
			WithField("peer_hostname", msg.Hostname).
			Info("new peer discovered")
		d.sink.NotifyPeerFound(*peer)
	}
}

func (d *DiscoveryService) sweepExpiredPeers() {
	timeout := d.conf.PeerTimeout.DurationOrDefault(defaultPeerTimeout)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for mac, peer := range d.peers {
		if now.Sub(peer.LastSeen) > timeout {
			d.l.
				WithField("peer_mac", mac).
				WithField("peer_hostname", peer.Hostname).
				Info("peer expired")
			delete(d.peers, mac)
		}
	}
}
