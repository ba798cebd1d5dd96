// Package balancer picks healthy upstreams for the reverse proxy.
package balancer

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Strategy names accepted in the config.
const (
	RoundRobinName         = "round_robin"
	RandomName             = "random"
	WeightedRoundRobinName = "weighted_round_robin"
)

// Strategy chooses the next upstream index in [0, n).
// Implementations are safe for concurrent use.
type Strategy interface {
	Next(n int) int
	Name() string
}

// NewStrategy builds the named strategy. An empty name selects random; an
// unknown name also selects random and reports ok=false so the caller can warn.
func NewStrategy(name string, weights []int) (s Strategy, ok bool) {
	switch name {
	case RoundRobinName:
		return &RoundRobin{}, true
	case WeightedRoundRobinName:
		return NewWeighted(weights), true
	case RandomName, "":
		return Random{}, true
	default:
		return Random{}, false
	}
}

// RoundRobin cycles through upstreams in order.
type RoundRobin struct {
	next atomic.Uint64
}

func (r *RoundRobin) Next(n int) int {
	if n <= 0 {
		return 0
	}
	return int((r.next.Add(1) - 1) % uint64(n))
}

func (*RoundRobin) Name() string { return RoundRobinName }

// Random picks uniformly.
type Random struct{}

func (Random) Next(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(n)
}

func (Random) Name() string { return RandomName }

// Weighted serves upstream i weights[i] times in a row before moving on.
// Missing or non-positive weights count as 1.
type Weighted struct {
	mu      sync.Mutex
	weights []int
	cur     int
	served  int
}

func NewWeighted(weights []int) *Weighted {
	return &Weighted{weights: append([]int(nil), weights...)}
}

func (w *Weighted) Next(n int) int {
	if n <= 0 {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cur >= n {
		w.cur, w.served = 0, 0
	}
	if w.served >= w.weight(w.cur) {
		w.cur = (w.cur + 1) % n
		w.served = 0
	}
	w.served++
	return w.cur
}

func (w *Weighted) weight(i int) int {
	if i < len(w.weights) && w.weights[i] > 0 {
		return w.weights[i]
	}
	return 1
}

func (*Weighted) Name() string { return WeightedRoundRobinName }
