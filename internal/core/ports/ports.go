// Package ports defines the narrow interfaces the relay/UDP pipelines and
// the instance manager depend on, following the teacher's convention of
// keeping adapter contracts in a core package (its one adapter import is
// health, for the FailoverHealth type in TCPObserver).
package ports

import (
	"net"

	"github.com/relaymesh/grelay/internal/adapter/health"
	"github.com/relaymesh/grelay/internal/core/domain"
)

// TCPObserver is notified of connection lifecycle events by the TCP relay
// pipeline so a caller (the instance stats tracker) can aggregate counters
// without the pipeline itself knowing anything about persistence or HTTP.
type TCPObserver interface {
	OnConnectionOpen(peer net.Addr) uint64
	OnConnectionBackend(id uint64, backend domain.RemoteAddr)
	OnConnectionBytes(id uint64, inboundDelta, outboundDelta uint64)
	OnConnectionEnd(id uint64, err error)
	OnFailoverHealth(h *health.FailoverHealth)
}

// UDPObserver mirrors TCPObserver for the session-oriented UDP pipeline.
type UDPObserver interface {
	OnSessionOpen(peer net.Addr)
	OnSessionClose(peer net.Addr)
	OnBytes(inboundDelta, outboundDelta uint64)
}

// Resolver resolves a domain name to a dialable address. Production code
// uses the cached net.Resolver-backed implementation in adapter/dns.
type Resolver interface {
	Resolve(host string, port uint16) (net.Addr, error)
}
