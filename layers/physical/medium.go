package physical

import (
	"context"
	"net"
)

type (
	// Medium is a byte-oriented shared medium where link-layer frames
	// are sent and received whole. No guarantee is provided about
	// delivery or integrity.
	//
	// Recv returning (0, nil) means nothing usable arrived and the
	// caller should just try again.
	Medium interface {
		Send(ctx context.Context, payload []byte) (n int, err error)
		Recv(ctx context.Context, payloadBuf []byte) (n int, err error)
		Close() error
	}

	// AddressedMedium is a Medium that knows the hardware address of
	// the local attachment point, like a real network interface card.
	AddressedMedium interface {
		Medium
		HardwareAddr() net.HardwareAddr
	}
)
