package health

import (
	"testing"

	"github.com/relaymesh/grelay/internal/core/domain"
)

func TestMarkFail_BackoffGrowsExponentiallyAndCapsAtMax(t *testing.T) {
	h := NewFailoverHealth(2)
	const base, max = uint64(100), uint64(1000)

	h.MarkFail(0, base, max)
	if !h.ShouldSkip(0) {
		t.Fatal("expected peer to be skipped immediately after a failure")
	}
	first := h.Snapshot(0, 1000)
	if first.DownUntilMs < base<<1 {
		t.Fatalf("expected first backoff of at least %d ms, got down-until %d", base<<1, first.DownUntilMs)
	}

	for i := 0; i < 10; i++ {
		h.MarkFail(0, base, max)
	}
	snap := h.Snapshot(0, 1000)
	if snap.DownUntilMs == 0 {
		t.Fatal("expected a nonzero backoff window")
	}
	if snap.DownUntilMs <= first.DownUntilMs {
		t.Fatalf("expected backoff to grow: %d then %d", first.DownUntilMs, snap.DownUntilMs)
	}
	if snap.DownUntilMs > h.nowMs()+max {
		t.Fatalf("expected backoff capped at %d ms, got down-until %d", max, snap.DownUntilMs)
	}
}

func TestMarkOK_ClearsFailuresAndBackoff(t *testing.T) {
	h := NewFailoverHealth(1)
	h.MarkFail(0, 100, 1000)
	h.MarkOK(0)

	if h.ShouldSkip(0) {
		t.Fatal("expected peer to no longer be skipped after MarkOK")
	}
	snap := h.Snapshot(0, 60_000)
	if snap.FailCount != 0 {
		t.Fatalf("expected fail count reset to 0, got %d", snap.FailCount)
	}
	if !snap.OkRecent {
		t.Fatal("expected OkRecent to be true immediately after MarkOK")
	}
}

func TestShouldSkip_OutOfRangeTokenIsNeverSkipped(t *testing.T) {
	h := NewFailoverHealth(1)
	if h.ShouldSkip(domain.Token(5)) {
		t.Fatal("an out-of-range token should never be reported as skipped")
	}
}
