package balancer

import (
	"testing"

	"github.com/relaymesh/grelay/internal/core/domain"
)

func TestParse_UnknownStrategyReturnsErrorInsteadOfPanicking(t *testing.T) {
	if _, err := Parse("nonsense: 1,2", 1); err == nil {
		t.Fatal("expected an error for an unknown strategy")
	}
}

func TestParse_FailoverWithoutWeightsInfersPeerCount(t *testing.T) {
	b, err := Parse("failover", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Total() != 3 {
		t.Fatalf("expected total=3, got %d", b.Total())
	}
}

func TestParse_FailoverRequiresPrimaryHighestWeight(t *testing.T) {
	if _, err := Parse("failover: 1, 5", 1); err == nil {
		t.Fatal("expected an error when a secondary weight exceeds the primary")
	}
}

func TestFailoverCandidatesAreInOrder(t *testing.T) {
	b, err := Parse("failover: 10, 1, 1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := b.Candidates(domain.BalanceCtx{})
	want := []domain.Token{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestOffAlwaysSelectsPrimary(t *testing.T) {
	b, err := Parse("off", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		c := b.Candidates(domain.BalanceCtx{})
		if len(c) != 1 || c[0] != 0 {
			t.Fatalf("expected [0], got %v", c)
		}
	}
}

func TestRoundRobinCyclesAcrossSlots(t *testing.T) {
	b, err := Parse("roundrobin: 1, 1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[domain.Token]bool{}
	for i := 0; i < 4; i++ {
		c := b.Candidates(domain.BalanceCtx{})
		seen[c[0]] = true
	}
	if !seen[0] || !seen[1] {
		t.Fatalf("expected round robin to visit both peers, saw %v", seen)
	}
}
