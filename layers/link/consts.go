package link

import (
	"net"
	"time"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
)

const (
	// EtherType is the protocol number carried by every chat frame.
	// 0x88B5 is the IEEE "local experimental" value.
	EtherType uint16 = 0x88B5

	// EthernetHeaderLength is the standard Ethernet header length.
	EthernetHeaderLength = 14

	// extensionHeaderLength covers frame-type (1), message-id (2),
	// fragment-index (4), fragment-total (4) and payload-length (2).
	extensionHeaderLength = 13

	// HeaderLength is the full chat frame header length.
	HeaderLength = EthernetHeaderLength + extensionHeaderLength

	// ChecksumLength is the frame check sequence length (32-bit CRC).
	ChecksumLength = 4

	// FrameOverhead is the size of a frame with an empty payload, the
	// minimum number of bytes a valid frame can have.
	FrameOverhead = HeaderLength + ChecksumLength

	// MTU is the maximum number of payload bytes per frame, chosen so
	// a full frame stays under the usual 1500-byte Ethernet payload
	// budget after our extension header.
	MTU = 1475

	// TextAssemblyTTL is how long a partial text reassembly survives
	// without new fragments.
	TextAssemblyTTL = 30 * time.Second

	// FileAssemblyTTL is how long a partial file reassembly survives
	// without new fragments. Files can be large and slow.
	FileAssemblyTTL = 30 * time.Minute

	channelSize = 1024

	promNamespace = "link_layer"
)

// BroadcastMACAddress is the MAC address used for broadcast in a local
// network.
func BroadcastMACAddress() net.HardwareAddr {
	return net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// BroadcastMACEndpoint is the broadcast MAC address as a gopacket
// endpoint, handy for comparisons.
func BroadcastMACEndpoint() gopacket.Endpoint {
	return gplayers.NewMACEndpoint(BroadcastMACAddress())
}
