// Package netaddr resolves the address this host uses on the local network.
package netaddr

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Loopback is returned when no usable interface address is found.
const Loopback = "127.0.0.1"

// probeTarget is only used to pick a route; nothing is sent.
const probeTarget = "192.0.2.1:9"

// Resolver finds and caches the local LAN address.
type Resolver struct {
	mu       sync.Mutex
	override string
	cached   string
}

// NewResolver returns a resolver. A non-empty override is returned as-is.
func NewResolver(override string) *Resolver {
	return &Resolver{override: override}
}

// LocalAddress returns the host's LAN IPv4 address, or Loopback.
func (r *Resolver) LocalAddress() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.override != "" {
		return r.override
	}
	if r.cached == "" {
		r.cached = LocalAddress()
		logrus.WithFields(logrus.Fields{
			"function": "Resolver.LocalAddress",
			"address":  r.cached,
		}).Info("Resolved local address")
	}
	return r.cached
}

// Refresh drops the cached address so the next call resolves again.
func (r *Resolver) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = ""
}

// LocalAddress returns the source address of the default route, falling
// back to the first IPv4 address on an up, non-loopback interface.
func LocalAddress() string {
	if ip := routeAddress(); ip != "" {
		return ip
	}
	return interfaceAddress()
}

func routeAddress() string {
	conn, err := net.Dial("udp4", probeTarget)
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsLoopback() || addr.IP.IsUnspecified() {
		return ""
	}
	return addr.IP.String()
}

func interfaceAddress() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return Loopback
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return Loopback
}
