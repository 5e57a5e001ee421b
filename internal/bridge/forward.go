// Package bridge is the peer-side client of the persistence bridge: a
// fire-and-forget UDP forwarder for outgoing chat copies, and an HTTP reader
// for history replay. The LAN path never depends on the bridge being up;
// every failure here degrades to a log line or an empty result.
package bridge

import (
	"fmt"
	"net"

	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/proto"
)

var log = logging.Logger("bridge")

// Forwarder sends best-effort copies of outgoing chat to the bridge's ingest
// port. Delivery is unacknowledged and independent of LAN delivery.
type Forwarder struct {
	addr string
}

// NewForwarder targets the bridge ingest endpoint.
func NewForwarder(host string, port int) *Forwarder {
	return &Forwarder{addr: fmt.Sprintf("%s:%d", host, port)}
}

// Forward sends one copy of the envelope. Errors are logged and swallowed:
// an unreachable bridge must never affect the LAN send that preceded it.
func (f *Forwarder) Forward(env proto.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		log.Errorf("encode for bridge: %v", err)
		return
	}
	conn, err := net.Dial("udp4", f.addr)
	if err != nil {
		log.Debugf("bridge unreachable: %v", err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		log.Debugf("bridge forward: %v", err)
	}
}
