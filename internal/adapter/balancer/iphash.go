package balancer

import (
	"hash/fnv"

	"github.com/relaymesh/grelay/internal/core/domain"
)

// IpHash deterministically routes a given client IP to the same peer for as
// long as the peer set doesn't change, using the same weighted slot
// expansion as RoundRobin so heavier peers get proportionally more keys.
type IpHash struct {
	slots []domain.Token
}

func NewIPHash(weights []uint8) *IpHash {
	return &IpHash{slots: expandWeights(weights)}
}

func (h *IpHash) Strategy() string { return StrategyIPHash }

func (h *IpHash) Candidates(ctx domain.BalanceCtx) []domain.Token {
	if len(h.slots) == 0 {
		return []domain.Token{0}
	}
	sum := fnv.New32a()
	if ctx.SrcIP != nil {
		_, _ = sum.Write(ctx.SrcIP)
	}
	idx := sum.Sum32() % uint32(len(h.slots))
	return []domain.Token{h.slots[idx]}
}

func (h *IpHash) Total() uint8 { return uint8(len(weightsFromSlots(h.slots))) }
