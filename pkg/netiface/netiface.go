// Package netiface validates and resolves the network interface the XDP
// program attaches to, adapted from pkg/network/bridge.go's use of
// vishvananda/netlink for link lookup and state checks.
package netiface

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Resolve looks up name and confirms it is a link the kernel will let XDP
// attach to: it must exist and be administratively up.
func Resolve(name string) (*netlink.LinkAttrs, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %q not found: %w", name, err)
	}

	attrs := link.Attrs()
	if attrs.OperState != netlink.OperUp && attrs.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("interface %q is not up", name)
	}

	return attrs, nil
}
