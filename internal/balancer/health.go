package balancer

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"
)

// Health check defaults.
const (
	DefaultCheckInterval = 10 * time.Second
	DefaultCheckTimeout  = 5 * time.Second
)

// Checker periodically probes every upstream of a pool with GET <path>.
// An upstream is healthy iff it answers 200 within Timeout.
type Checker struct {
	Pool     *Pool
	Path     string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Logger   *log.Logger
}

// NewChecker returns a checker with the default interval and timeout.
func NewChecker(p *Pool, path string, logger *log.Logger) *Checker {
	if logger == nil {
		logger = log.Default()
	}
	return &Checker{
		Pool:     p,
		Path:     path,
		Interval: DefaultCheckInterval,
		Timeout:  DefaultCheckTimeout,
		Client:   http.DefaultClient,
		Logger:   logger,
	}
}

// Run probes immediately and then every Interval until ctx is done.
// It always returns nil so it can run inside an errgroup.
func (c *Checker) Run(ctx context.Context) error {
	t := time.NewTicker(c.Interval)
	defer t.Stop()
	for {
		c.CheckAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// CheckAll probes each upstream once, sequentially, and updates the pool.
func (c *Checker) CheckAll(ctx context.Context) {
	for i := range c.Pool.Len() {
		if ctx.Err() != nil {
			return
		}
		addr := c.Pool.Upstream(i)
		ok := c.probe(ctx, addr)
		if c.Pool.SetHealthy(i, ok) {
			state := "down"
			if ok {
				state = "up"
			}
			c.Logger.Printf("health: upstream %s is %s", addr, state)
		}
	}
}

func (c *Checker) probe(ctx context.Context, addr string) bool {
	u, err := URL(addr)
	if err != nil {
		return false
	}
	u.Path = c.Path

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode == http.StatusOK
}
