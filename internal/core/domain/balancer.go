package domain

import "net"

// Token identifies a candidate remote peer by its position: 0 is always the
// primary remote, 1..N are extra remotes in configuration order.
type Token uint8

// BalanceCtx carries per-connection context a Balancer may use to pick or
// order candidates, e.g. client source IP for IpHash.
type BalanceCtx struct {
	SrcIP net.IP
}

// Balancer selects or orders remote peer candidates for a connection.
// Strategy implementations must be safe for concurrent use.
type Balancer interface {
	// Strategy returns the strategy name, used for logging and the route API.
	Strategy() string
	// Candidates returns the ordered list of peer tokens to try for this
	// connection. Off and IpHash/RoundRobin normally return a single token;
	// Failover returns every token in preference order.
	Candidates(ctx BalanceCtx) []Token
	// Total returns the number of remote peers (primary + extras) this
	// balancer was built against.
	Total() uint8
}
