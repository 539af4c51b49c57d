package health

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/grelay/internal/core/domain"
)

// Dialer opens a probe connection to a candidate peer. Production callers
// pass the relay's socket-layer Connect; tests substitute a stub.
type Dialer func(ctx context.Context, addr net.Addr, timeout time.Duration) error

// Prober runs a background warm-up round immediately, then probes every
// configured peer on a fixed interval, bounding concurrency the same way the
// original probing task does (peer count clamped to [1,8] concurrent dials).
type Prober struct {
	health  *FailoverHealth
	peers   []net.Addr
	opts    domain.FailoverOpts
	dial    Dialer
}

func NewProber(health *FailoverHealth, peers []net.Addr, opts domain.FailoverOpts, dial Dialer) *Prober {
	return &Prober{health: health, peers: peers, opts: opts, dial: dial}
}

// Run blocks until ctx is cancelled. Callers launch it in its own goroutine.
func (p *Prober) Run(ctx context.Context) {
	if p.opts.ProbeIntervalMs == 0 || len(p.peers) == 0 {
		return
	}

	p.round(ctx)

	ticker := time.NewTicker(time.Duration(p.opts.ProbeIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.round(ctx)
		}
	}
}

func (p *Prober) round(ctx context.Context) {
	concurrency := len(p.peers)
	if concurrency < 1 {
		concurrency = 1
	} else if concurrency > 8 {
		concurrency = 8
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, peer := range p.peers {
		idx := domain.Token(i)
		addr := peer
		g.Go(func() error {
			timeout := time.Duration(p.opts.ProbeTimeoutMs) * time.Millisecond
			dialCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			if err := p.dial(dialCtx, addr, timeout); err != nil {
				p.health.MarkFail(idx, p.opts.BackoffBaseMs, p.opts.BackoffMaxMs)
			} else {
				p.health.MarkOK(idx)
			}
			return nil
		})
	}
	// warm-up/interval rounds never fail the prober itself; dial outcomes are
	// recorded individually above.
	_ = g.Wait()
}
