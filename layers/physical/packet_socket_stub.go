//go:build !linux

package physical

import "errors"

// OpenPacketSocket is only implemented for linux. Other platforms can
// still run over UDPWire-simulated segments.
func OpenPacketSocket(conf PacketSocketConfig) (AddressedMedium, error) {
	return nil, errors.New("raw packet sockets are only supported on linux")
}
