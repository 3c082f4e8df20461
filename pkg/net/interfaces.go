package pkgnet

import (
	"fmt"
	"net"
	"strings"
)

type (
	// Interface is a usable physical network interface: a name to bind
	// a packet socket to and the hardware address frames go out with.
	Interface struct {
		Name         string
		HardwareAddr net.HardwareAddr
	}
)

// prefixes of virtual interfaces that cannot carry link-layer chat
// traffic to other hosts.
var virtualInterfacePrefixes = []string{
	"br-", "virbr", "veth", "tun", "tap", "wg", "docker", "lo",
}

// PhysicalInterfaces enumerates the network interfaces that look like
// physical ones: up, not loopback, carrying a 6-byte hardware address
// and not matching any known virtual interface name prefix.
func PhysicalInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("error listing network interfaces: %w", err)
	}
	var physical []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		if isVirtualInterfaceName(iface.Name) {
			continue
		}
		physical = append(physical, Interface{
			Name:         iface.Name,
			HardwareAddr: iface.HardwareAddr,
		})
	}
	return physical, nil
}

// FindInterface returns the named interface, or, when name is empty,
// the first physical interface found.
func FindInterface(name string) (*Interface, error) {
	if name == "" {
		physical, err := PhysicalInterfaces()
		if err != nil {
			return nil, err
		}
		if len(physical) == 0 {
			return nil, fmt.Errorf("no physical network interfaces found")
		}
		return &physical[0], nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("error looking up interface %s: %w", name, err)
	}
	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("interface %s has no 6-byte hardware address", name)
	}
	return &Interface{Name: iface.Name, HardwareAddr: iface.HardwareAddr}, nil
}

func isVirtualInterfaceName(name string) bool {
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return strings.HasSuffix(name, "-link")
}
