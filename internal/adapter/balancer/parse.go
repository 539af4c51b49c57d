package balancer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relaymesh/grelay/internal/core/domain"
)

// Parse builds a domain.Balancer from a "$strategy: $w1, $w2, ..." directive,
// e.g. "failover: 10, 1" or just "roundrobin". extraCount is the number of
// extra remotes configured alongside the primary, used to infer a weight
// vector when none is supplied.
//
// This never panics on an unrecognised strategy; it returns an error instead,
// matching the Go convention of explicit error returns even though the
// behaviour it's grounded on (a Rust `From<&str>` impl) panics.
func Parse(raw string, extraCount int) (domain.Balancer, error) {
	strategy, weightsPart, _ := strings.Cut(raw, ":")
	strategy = strings.ToLower(strings.TrimSpace(strategy))

	var weights []uint8
	if trimmed := strings.TrimSpace(weightsPart); trimmed != "" {
		for _, part := range strings.Split(trimmed, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			w, err := strconv.ParseUint(part, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid weight %q: %w", part, err)
			}
			weights = append(weights, uint8(w))
		}
	}

	switch strategy {
	case StrategyOff, "":
		if len(weights) == 0 {
			weights = make([]uint8, 1+extraCount)
		}
		return NewOff(weights), nil

	case StrategyFailover:
		if len(weights) == 0 {
			weights = make([]uint8, 1+extraCount)
			for i := range weights {
				weights[i] = 1
			}
		} else if len(weights) != 1+extraCount {
			return nil, fmt.Errorf("expected %d weights for failover, got %d", 1+extraCount, len(weights))
		} else {
			highest := weights[0]
			for _, w := range weights[1:] {
				if w > highest {
					highest = w
				}
			}
			if weights[0] < highest {
				return nil, fmt.Errorf("failover requires the primary remote to carry the highest weight")
			}
		}
		return NewFailover(weights), nil

	case StrategyIPHash:
		if len(weights) == 0 {
			weights = make([]uint8, 1+extraCount)
			for i := range weights {
				weights[i] = 1
			}
		}
		return NewIPHash(weights), nil

	case StrategyRoundRobin:
		if len(weights) == 0 {
			weights = make([]uint8, 1+extraCount)
			for i := range weights {
				weights[i] = 1
			}
		}
		return NewRoundRobin(weights), nil

	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}
