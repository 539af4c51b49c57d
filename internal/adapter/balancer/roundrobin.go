package balancer

import (
	"sync/atomic"

	"github.com/relaymesh/grelay/internal/core/domain"
)

// RoundRobin cycles through peers in proportion to their configured weight.
// Weights are expanded into a flat slot table once at construction time so
// that Candidates is a single atomic increment plus an index lookup.
type RoundRobin struct {
	slots   []domain.Token
	counter atomic.Uint64
}

func NewRoundRobin(weights []uint8) *RoundRobin {
	return &RoundRobin{slots: expandWeights(weights)}
}

func (r *RoundRobin) Strategy() string { return StrategyRoundRobin }

func (r *RoundRobin) Candidates(domain.BalanceCtx) []domain.Token {
	if len(r.slots) == 0 {
		return []domain.Token{0}
	}
	next := r.counter.Add(1) - 1
	return []domain.Token{r.slots[next%uint64(len(r.slots))]}
}

func (r *RoundRobin) Total() uint8 { return uint8(len(weightsFromSlots(r.slots))) }

// expandWeights flattens e.g. weights=[2,1] into slots=[0,0,1] so a plain
// modular counter yields the right proportional distribution. A weight of 0
// still reserves one slot so the peer is reachable, matching the sanitize
// behaviour of the other strategies (a fully-zero weight vector degenerates
// to uniform distribution across all peers).
func expandWeights(weights []uint8) []domain.Token {
	if len(weights) == 0 {
		return nil
	}
	total := 0
	for _, w := range weights {
		if w == 0 {
			total++
		} else {
			total += int(w)
		}
	}
	slots := make([]domain.Token, 0, total)
	for idx, w := range weights {
		n := int(w)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			slots = append(slots, domain.Token(idx))
		}
	}
	return slots
}

func weightsFromSlots(slots []domain.Token) []uint8 {
	max := 0
	for _, t := range slots {
		if int(t) > max {
			max = int(t)
		}
	}
	return make([]uint8, max+1)
}
