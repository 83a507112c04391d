// Package netutil answers whether a configured host refers to this machine.
package netutil

import (
	"fmt"
	"net"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// loopbackNames are treated as local regardless of interface state.
var loopbackNames = []string{"127.0.0.1", "localhost"}

// AddrLister returns the IPv4 addresses assigned to local interfaces.
type AddrLister func() ([]string, error)

// InterfaceAddrs lists IPv4 addresses of all local interfaces.
func InterfaceAddrs() ([]string, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []string
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			addr := a.Addr
			// gopsutil reports CIDR notation, e.g. 192.168.1.5/24
			if i := strings.IndexByte(addr, '/'); i >= 0 {
				addr = addr[:i]
			}
			ip := net.ParseIP(addr)
			if ip == nil || ip.To4() == nil {
				continue
			}
			out = append(out, ip.String())
		}
	}
	return out, nil
}

// IsLocal reports whether host is one of this machine's addresses.
func IsLocal(host string) (bool, error) { return IsLocalWith(host, InterfaceAddrs) }

// IsLocalWith is IsLocal with an explicit address source. The loopback names
// match even when listing fails; the listing error is still returned.
func IsLocalWith(host string, list AddrLister) (bool, error) {
	host = strings.TrimSpace(host)
	for _, n := range loopbackNames {
		if strings.EqualFold(host, n) {
			return true, nil
		}
	}
	if list == nil {
		return false, nil
	}
	addrs, err := list()
	if err != nil {
		return false, err
	}
	for _, a := range addrs {
		if a == host {
			return true, nil
		}
	}
	return false, nil
}
