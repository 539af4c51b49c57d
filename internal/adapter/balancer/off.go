// Package balancer implements the relay's peer-selection strategies: Off,
// Failover, IpHash and RoundRobin. Each strategy is grounded on the matching
// construct in realm_lb (balancer.rs / failover.rs / iphash.rs / roundrobin.rs)
// but reshaped into a single Go interface (domain.Balancer) instead of a tagged
// enum, matching how the teacher's selectors implement a shared interface.
package balancer

import "github.com/relaymesh/grelay/internal/core/domain"

const (
	StrategyOff        = "off"
	StrategyFailover   = "failover"
	StrategyIPHash      = "iphash"
	StrategyRoundRobin = "roundrobin"
)

// Off always selects the primary peer and never evaluates additional tokens.
// It's the default when no balance directive is configured.
type Off struct {
	total uint8
}

func NewOff(weights []uint8) *Off {
	return &Off{total: uint8(len(weights))}
}

func (o *Off) Strategy() string { return StrategyOff }

func (o *Off) Candidates(domain.BalanceCtx) []domain.Token {
	return []domain.Token{0}
}

func (o *Off) Total() uint8 { return o.total }
