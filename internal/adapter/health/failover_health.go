// Package health tracks per-peer liveness for failover-balanced endpoints.
// It is grounded on the teacher's circuit breaker (internal/adapter/health
// circuit_breaker.go): per-target atomic counters, a monotonic clock instead
// of wall time, and an exponential backoff window instead of a hard open/closed
// state machine.
package health

import (
	"time"

	"go.uber.org/atomic"

	"github.com/relaymesh/grelay/internal/core/domain"
)

// PeerHealth is the atomic state kept for a single candidate peer.
type PeerHealth struct {
	downUntilMs atomic.Uint64
	lastOkMs    atomic.Uint64
	failCount   atomic.Uint32
}

// FailoverHealth is a fixed-size vector of PeerHealth, one slot per
// configured remote peer (primary + extras), indexed by domain.Token. The
// size never changes after construction so every operation is lock-free.
type FailoverHealth struct {
	peers []PeerHealth
	start time.Time
}

func NewFailoverHealth(total uint8) *FailoverHealth {
	return &FailoverHealth{
		peers: make([]PeerHealth, total),
		start: time.Now(),
	}
}

func (h *FailoverHealth) nowMs() uint64 {
	return uint64(time.Since(h.start).Milliseconds())
}

// ShouldSkip reports whether idx is still inside its backoff window.
func (h *FailoverHealth) ShouldSkip(idx domain.Token) bool {
	if int(idx) >= len(h.peers) {
		return false
	}
	downUntil := h.peers[idx].downUntilMs.Load()
	return downUntil > h.nowMs()
}

// IsRecentOK reports whether idx connected successfully within okTTL.
func (h *FailoverHealth) IsRecentOK(idx domain.Token, okTTLMs uint64) bool {
	if int(idx) >= len(h.peers) {
		return false
	}
	lastOk := h.peers[idx].lastOkMs.Load()
	if lastOk == 0 {
		return false
	}
	now := h.nowMs()
	var elapsed uint64
	if now > lastOk {
		elapsed = now - lastOk
	}
	return elapsed <= okTTLMs
}

// MarkOK resets idx to a clean, healthy state.
func (h *FailoverHealth) MarkOK(idx domain.Token) {
	if int(idx) >= len(h.peers) {
		return
	}
	p := &h.peers[idx]
	p.downUntilMs.Store(0)
	// lastOkMs == 0 means "never", so a success inside the first
	// millisecond is recorded as 1.
	now := h.nowMs()
	if now == 0 {
		now = 1
	}
	p.lastOkMs.Store(now)
	p.failCount.Store(0)
}

// MarkFail records a failed attempt against idx and extends its backoff
// window exponentially, capped at backoffMaxMs. The exponent itself is
// capped at 16 so fail_count can climb indefinitely without ever overflowing
// the shift.
func (h *FailoverHealth) MarkFail(idx domain.Token, backoffBaseMs, backoffMaxMs uint64) {
	if int(idx) >= len(h.peers) {
		return
	}
	p := &h.peers[idx]
	fails := p.failCount.Add(1)
	exp := fails
	if exp > 16 {
		exp = 16
	}
	backoff := backoffBaseMs << exp
	if backoffMaxMs > 0 && backoff > backoffMaxMs {
		backoff = backoffMaxMs
	}
	p.downUntilMs.Store(h.nowMs() + backoff)
}

// PeerSnapshot is a point-in-time read of a peer's health, used by the route
// inspection API and by tests.
type PeerSnapshot struct {
	DownUntilMs uint64
	LastOkMs    uint64
	FailCount   uint32
	ShouldSkip  bool
	OkRecent    bool
}

func (h *FailoverHealth) Snapshot(idx domain.Token, okTTLMs uint64) PeerSnapshot {
	if int(idx) >= len(h.peers) {
		return PeerSnapshot{}
	}
	p := &h.peers[idx]
	return PeerSnapshot{
		DownUntilMs: p.downUntilMs.Load(),
		LastOkMs:    p.lastOkMs.Load(),
		FailCount:   p.failCount.Load(),
		ShouldSkip:  h.ShouldSkip(idx),
		OkRecent:    h.IsRecentOK(idx, okTTLMs),
	}
}

func (h *FailoverHealth) Len() int { return len(h.peers) }
