//go:build linux

package physical

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/matheuscscp/link-chat/layers/common"

	"golang.org/x/sys/unix"
)

type (
	packetSocket struct {
		conf   *PacketSocketConfig
		fd     int
		hwAddr net.HardwareAddr
	}
)

// OpenPacketSocket opens a raw AF_PACKET socket bound to the given
// interface and EtherType, so only frames carrying that protocol are
// delivered by the kernel. Requires CAP_NET_RAW (usually root).
//
// Receives time out after RecvTimeout and report (0, nil) so callers
// can observe cancellation between blocking reads.
func OpenPacketSocket(conf PacketSocketConfig) (AddressedMedium, error) {
	iface, err := net.InterfaceByName(conf.Interface)
	if err != nil {
		return nil, fmt.Errorf("error looking up interface %s: %w", conf.Interface, err)
	}
	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("interface %s has no 6-byte hardware address", conf.Interface)
	}

	proto := htons(conf.Protocol)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		if errors.Is(err, unix.EPERM) {
			return nil, fmt.Errorf("error opening packet socket (need CAP_NET_RAW, try root): %w", err)
		}
		return nil, fmt.Errorf("error opening packet socket: %w", err)
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: proto,
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("error binding packet socket to %s: %w", conf.Interface, err)
	}

	timeout := unix.NsecToTimeval(RecvTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &timeout); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("error setting receive timeout: %w", err)
	}

	return &packetSocket{
		conf:   &conf,
		fd:     fd,
		hwAddr: iface.HardwareAddr,
	}, nil
}

func (p *packetSocket) Send(ctx context.Context, payload []byte) (int, error) {
	if len(payload) == 0 {
		return 0, common.ErrCannotSendEmpty
	}
	if len(payload) > MTU {
		return 0, fmt.Errorf("payload is larger than physical layer MTU (%d)", MTU)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := unix.Write(p.fd, payload)
	if err != nil {
		return 0, fmt.Errorf("error writing to packet socket: %w", err)
	}
	return n, nil
}

func (p *packetSocket) Recv(ctx context.Context, payloadBuf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, _, err := unix.Recvfrom(p.fd, payloadBuf, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			// receive timeout tick
			return 0, nil
		}
		return 0, fmt.Errorf("error reading from packet socket: %w", err)
	}
	return n, nil
}

func (p *packetSocket) Close() error {
	fd := p.fd
	if fd < 0 {
		return nil
	}
	p.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("error closing packet socket: %w", err)
	}
	return nil
}

func (p *packetSocket) HardwareAddr() net.HardwareAddr {
	return p.hwAddr
}

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}
