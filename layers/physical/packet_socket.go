package physical

type (
	// PacketSocketConfig contains the configs for OpenPacketSocket.
	PacketSocketConfig struct {
		Interface string `yaml:"interface"`
		Protocol  uint16 `yaml:"protocol"`
	}
)
