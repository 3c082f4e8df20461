package physical

import "time"

const (
	// MTU (maximum transmission unit) is the maximum number of bytes
	// that are allowed on one unit of the physical layer. 1514 is the
	// classic maximum Ethernet frame size (header plus payload), plus
	// four bytes for the frame check sequence carried explicitly by
	// the link layer.
	MTU = 1514 + 4

	// RecvTimeout bounds blocking receives so loops can observe
	// cancellation.
	RecvTimeout = time.Second

	channelSize = 1024

	promNamespace = "physical_layer"
)
