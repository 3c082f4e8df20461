package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/matheuscscp/link-chat/layers/physical"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
)

type (
	// SwitchConfig contains the configs for RunSwitch().
	SwitchConfig struct {
		Ports []physical.UDPWireConfig `yaml:"ports"`
	}

	// SwitchWaitFunc blocks until the switch has stopped running,
	// which happens upon the given ctx being cancelled.
	SwitchWaitFunc func()

	switchImpl struct {
		conf  *SwitchConfig
		ports []physical.Medium
	}
)

// RunSwitch runs an L2 switch between UDP-wire-simulated cables so
// three or more simulated chat nodes can share one broadcast domain.
// It learns src-MAC-to-port mappings on the fly and forwards raw
// frames transparently: broadcast and unknown destinations are flooded
// to all other ports. Frames are not re-validated, only runts shorter
// than the Ethernet header are discarded.
func RunSwitch(ctx context.Context, conf SwitchConfig) (SwitchWaitFunc, error) {
	if len(conf.Ports) < 3 {
		return nil, errors.New("switch will only run with at least three ports")
	}
	ports := make([]physical.Medium, 0, len(conf.Ports))
	for i, portConf := range conf.Ports {
		port, err := physical.NewUDPWire(ctx, portConf)
		if err != nil {
			for j := i - 1; 0 <= j; j-- {
				ports[j].Close()
			}
			return nil, fmt.Errorf("error creating switch port number %d: %w", i, err)
		}
		ports = append(ports, port)
	}
	s := &switchImpl{
		conf:  &conf,
		ports: ports,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.run(ctx)
	}()
	return func() { wg.Wait() }, nil
}

func (s *switchImpl) run(ctx context.Context) {
	var wg sync.WaitGroup

	defer func() {
		wg.Wait() // wait all port threads first
		for _, port := range s.ports {
			port.Close()
		}
	}()

	var forwardingTable sync.Map
	storeRoute := func(macAddress gopacket.Endpoint, portNumber int) {
		oldPortNumber, hasOldRoute := forwardingTable.Load(macAddress)
		if !hasOldRoute || oldPortNumber.(int) != portNumber {
			forwardingTable.Store(macAddress, portNumber)
		}
	}

	for i, fromPort := range s.ports {
		i := i
		fromPort := fromPort

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				buf := make([]byte, physical.MTU)
				n, err := fromPort.Recv(ctx, buf)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logrus.
						WithError(err).
						WithField("from_port", i).
						Error("error receiving on switch port")
					return
				}
				if n < EthernetHeaderLength {
					continue
				}
				frame := buf[:n]

				l := logrus.
					WithField("from_port", i)

				// update forwarding table
				srcMAC := gplayers.NewMACEndpoint(net.HardwareAddr(frame[6:12]))
				storeRoute(srcMAC, i)

				// fetch route and forward
				dst := net.HardwareAddr(frame[0:6])
				if !bytes.Equal(dst, BroadcastMACAddress()) {
					dstMAC := gplayers.NewMACEndpoint(dst)
					if dstPort, hasRoute := forwardingTable.Load(dstMAC); hasRoute {
						j := dstPort.(int)
						if _, err := s.ports[j].Send(ctx, frame); err != nil {
							l.
								WithError(err).
								WithField("to_port", j).
								Error("error forwarding frame")
						}
						continue
					}
				}

				// broadcast or no route, forward to all other ports
				for j, toPort := range s.ports {
					if j != i {
						if _, err := toPort.Send(ctx, frame); err != nil {
							l.
								WithError(err).
								WithField("to_port", j).
								Error("error forwarding frame")
						}
					}
				}
			}
		}()
	}
}
