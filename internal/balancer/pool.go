package balancer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// ErrNoHealthyUpstream is returned by Pick when every retry round failed.
var ErrNoHealthyUpstream = errors.New("no healthy upstream")

// Backoff controls how Pick waits between rounds that found nothing healthy.
type Backoff struct {
	Initial time.Duration // first pause
	Step    time.Duration // added to the pause after every round
	Retries int           // rounds after the first one
}

// DefaultBackoff waits 2s, 3s and 4s before giving up.
var DefaultBackoff = Backoff{Initial: 2 * time.Second, Step: time.Second, Retries: 3}

// Pool is a fixed set of upstreams with per-upstream health flags.
// Every upstream starts healthy.
type Pool struct {
	upstreams []string
	healthy   []atomic.Bool
	strategy  Strategy
	backoff   Backoff
}

// NewPool returns a pool over upstreams ("host:port" or absolute URLs).
func NewPool(upstreams []string, s Strategy, b Backoff) *Pool {
	if s == nil {
		s = Random{}
	}
	p := &Pool{
		upstreams: append([]string(nil), upstreams...),
		healthy:   make([]atomic.Bool, len(upstreams)),
		strategy:  s,
		backoff:   b,
	}
	for i := range p.healthy {
		p.healthy[i].Store(true)
	}
	return p
}

// Len returns the number of upstreams.
func (p *Pool) Len() int { return len(p.upstreams) }

// Upstream returns the address of upstream i.
func (p *Pool) Upstream(i int) string { return p.upstreams[i] }

// Healthy reports the last known health of upstream i.
func (p *Pool) Healthy(i int) bool { return p.healthy[i].Load() }

// SetHealthy records the health of upstream i and reports whether it changed.
func (p *Pool) SetHealthy(i int, ok bool) bool { return p.healthy[i].Swap(ok) != ok }

// Strategy returns the selection strategy in use.
func (p *Pool) Strategy() Strategy { return p.strategy }

// Pick asks the strategy for an upstream until it lands on a healthy one.
// Each round makes Len()+1 attempts; between rounds Pick sleeps according to
// the pool's Backoff. It returns ErrNoHealthyUpstream when all rounds fail,
// or ctx.Err() if ctx is done while waiting.
func (p *Pool) Pick(ctx context.Context) (string, error) {
	n := len(p.upstreams)
	if n == 0 {
		return "", ErrNoHealthyUpstream
	}
	pause := p.backoff.Initial
	for round := 0; ; round++ {
		for range n + 1 {
			if i := p.strategy.Next(n); p.healthy[i].Load() {
				return p.upstreams[i], nil
			}
		}
		if round >= p.backoff.Retries {
			return "", ErrNoHealthyUpstream
		}
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
		pause += p.backoff.Step
	}
}

// URL turns an upstream address into a base URL. Bare "host:port" values get
// the http scheme.
func URL(addr string) (*url.URL, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("upstream %q: %w", addr, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream %q: missing host", addr)
	}
	return u, nil
}
