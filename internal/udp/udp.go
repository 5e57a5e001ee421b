// Package udp provides the two socket shapes the LAN services need: a
// broadcast-capable send socket and a reusable listen socket. Sockets are
// created per owning goroutine and never shared.
package udp

import (
	"context"
	"fmt"
	"net"
)

// NewBroadcastConn returns an unconnected IPv4 UDP socket with SO_BROADCAST
// set, bound to an ephemeral local port. The caller owns the socket.
func NewBroadcastConn() (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: setBroadcast}
	pc, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("broadcast socket: %w", err)
	}
	return pc.(*net.UDPConn), nil
}

// Listen binds an IPv4 UDP socket on all interfaces. The address is reusable
// so several peer processes on one host can share the heartbeat and chat
// ports, each receiving its own copy of broadcast datagrams.
func Listen(port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: setReuse}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen udp :%d: %w", port, err)
	}
	return pc.(*net.UDPConn), nil
}
