package balancer

import "github.com/relaymesh/grelay/internal/core/domain"

// Failover always prefers the primary peer (Token 0). Candidates returns
// every configured peer in order so the caller can walk down the list,
// skipping peers FailoverHealth reports as down.
type Failover struct {
	total uint8
}

func NewFailover(weights []uint8) *Failover {
	return &Failover{total: uint8(len(weights))}
}

func (f *Failover) Strategy() string { return StrategyFailover }

func (f *Failover) Candidates(domain.BalanceCtx) []domain.Token {
	out := make([]domain.Token, f.total)
	for i := range out {
		out[i] = domain.Token(i)
	}
	return out
}

func (f *Failover) Total() uint8 { return f.total }

// Order exposes the same sequence as Candidates for callers (the background
// prober) that don't have a BalanceCtx to provide.
func (f *Failover) Order() []domain.Token {
	return f.Candidates(domain.BalanceCtx{})
}
