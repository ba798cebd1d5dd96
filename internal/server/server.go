// Package server builds HTTP listeners from config and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/IvanBrykalov/edgecache/cache"
	"github.com/IvanBrykalov/edgecache/internal/balancer"
	"github.com/IvanBrykalov/edgecache/internal/config"
	"github.com/IvanBrykalov/edgecache/internal/fileserver"
	"github.com/IvanBrykalov/edgecache/internal/proxy"
	"github.com/IvanBrykalov/edgecache/metrics/prom"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds graceful shutdown of a generation of listeners.
const ShutdownTimeout = 5 * time.Second

// Options carries dependencies shared by all listeners.
type Options struct {
	// Logger receives access and lifecycle logs (nil => log.Default()).
	Logger *log.Logger

	// Registry enables Prometheus cache and request metrics when non-nil.
	Registry prometheus.Registerer

	// Backoff is used by proxy pools when no upstream is healthy.
	// Zero value => balancer.DefaultBackoff.
	Backoff balancer.Backoff

	// Ready, when set, is called once every listener is bound.
	Ready func(ls []*Listener)
}

func (o Options) logger() *log.Logger {
	if o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

// Listener is one configured HTTP endpoint with the cache or upstream pool it owns.
type Listener struct {
	conf    config.Server
	id      string
	srv     *http.Server
	ln      net.Listener
	cache   cache.Cache       // static mode
	pool    *balancer.Pool    // proxy mode
	checker *balancer.Checker // proxy mode with proxy_health
	logger  *log.Logger
}

// NewListener wires the handler stack for one config entry.
func NewListener(sc config.Server, opt Options) (*Listener, error) {
	return newListener(sc, sc.Addr(), opt)
}

// newListener labels metrics with id, which must be unique per generation.
func newListener(sc config.Server, id string, opt Options) (*Listener, error) {
	logger := opt.logger()
	l := &Listener{conf: sc, id: id, logger: logger}
	name := sc.Addr()

	var (
		h   http.Handler
		err error
	)
	switch sc.Mode() {
	case config.ModeProxy:
		h, err = l.buildProxy(opt)
	default:
		h, err = l.buildStatic(opt)
	}
	if err != nil {
		l.close()
		return nil, fmt.Errorf("listener %s: %w", name, err)
	}

	if opt.Registry != nil {
		h = prom.NewHTTP(opt.Registry, "edge").Middleware(id, sc.Mode(), h)
	}
	h = accessLog(name, logger, h)
	h = requestID(h)

	l.srv = &http.Server{
		Addr:              name,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger,
	}
	return l, nil
}

func (l *Listener) buildStatic(opt Options) (http.Handler, error) {
	sc := l.conf
	copt := cache.Options{
		CapacityKiB: sc.Cache,
		TTL:         time.Duration(sc.CacheTTL),
		Shards:      sc.CacheShards,
	}
	if opt.Registry != nil {
		copt.Metrics = prom.New(opt.Registry, "edge", "cache", prometheus.Labels{"listener": l.id})
	}
	l.cache = cache.New(copt)
	fsrv, err := fileserver.New(sc.Root, l.cache, sc.CacheMaxFileBytes(), l.logger)
	if err != nil {
		return nil, err
	}
	return fsrv, nil
}

func (l *Listener) buildProxy(opt Options) (http.Handler, error) {
	sc := l.conf
	strategy, ok := balancer.NewStrategy(sc.Strategy, sc.UpstreamWeights())
	if !ok {
		l.logger.Printf("server: %s: unknown strategy %q, using %s", sc.Addr(), sc.Strategy, strategy.Name())
	}
	backoff := opt.Backoff
	if backoff == (balancer.Backoff{}) {
		backoff = balancer.DefaultBackoff
	}
	l.pool = balancer.NewPool(sc.Proxy, strategy, backoff)
	if sc.ProxyHealth != "" {
		l.checker = balancer.NewChecker(l.pool, sc.ProxyHealth, l.logger)
	}
	return proxy.New(l.pool, nil, l.logger)
}

// Name is the configured host:port.
func (l *Listener) Name() string { return l.conf.Addr() }

// Mode is config.ModeStatic or config.ModeProxy.
func (l *Listener) Mode() string { return l.conf.Mode() }

// Cache returns the listener's cache, or nil in proxy mode.
func (l *Listener) Cache() cache.Cache { return l.cache }

// Pool returns the listener's upstream pool, or nil in static mode.
func (l *Listener) Pool() *balancer.Pool { return l.pool }

// Addr returns the bound address once Listen succeeded.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Listen binds the socket, honouring reuse_port.
func (l *Listener) Listen(ctx context.Context) error {
	if l.ln != nil {
		return nil
	}
	var lc net.ListenConfig
	if l.conf.ReusePort {
		lc.Control = reusePort
	}
	ln, err := lc.Listen(ctx, "tcp", l.conf.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.conf.Addr(), err)
	}
	l.ln = ln
	return nil
}

func (l *Listener) describe() string {
	if l.Mode() == config.ModeProxy {
		return "proxy -> " + strings.Join(l.conf.Proxy, ", ")
	}
	return fmt.Sprintf("static %s (cache %d KiB)", l.conf.Root, l.conf.Cache)
}

func (l *Listener) close() {
	if l.ln != nil {
		_ = l.ln.Close()
	}
	if l.cache != nil {
		_ = l.cache.Close()
	}
}

// Build creates one Listener per config entry. On error every listener built
// so far is closed.
func Build(cfg config.Config, opt Options) ([]*Listener, error) {
	ls := make([]*Listener, 0, len(cfg.HTTP))
	for i, sc := range cfg.HTTP {
		l, err := newListener(sc, metricsID(i, sc), opt)
		if err != nil {
			closeAll(ls)
			return nil, err
		}
		ls = append(ls, l)
	}
	return ls, nil
}

// metricsID is the listener label value. Port 0 may repeat on one bind
// address, so those entries also carry their config index.
func metricsID(i int, sc config.Server) string {
	if sc.Listen == 0 {
		return fmt.Sprintf("%s#%d", sc.Addr(), i)
	}
	return sc.Addr()
}

// Bind calls Listen on every listener; on failure all of them are closed.
func Bind(ctx context.Context, ls []*Listener) error {
	for _, l := range ls {
		if err := l.Listen(ctx); err != nil {
			closeAll(ls)
			return err
		}
	}
	return nil
}

func closeAll(ls []*Listener) {
	for _, l := range ls {
		l.close()
	}
}

// Serve builds the listeners for cfg and runs them until ctx is done.
func Serve(ctx context.Context, cfg config.Config, opt Options) error {
	ls, err := Build(cfg, opt)
	if err != nil {
		return err
	}
	return Run(ctx, ls, opt)
}

// Run binds every listener not bound yet, serves them concurrently along with their health
// checkers, and shuts all of them down gracefully when ctx is done or any
// listener fails.
func Run(ctx context.Context, ls []*Listener, opt Options) error {
	logger := opt.logger()
	if err := Bind(ctx, ls); err != nil {
		return err
	}
	if opt.Ready != nil {
		opt.Ready(ls)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range ls {
		logger.Printf("server: %s listening, %s", l.Addr(), l.describe())
		g.Go(func() error {
			if err := l.srv.Serve(l.ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", l.Name(), err)
			}
			return nil
		})
		if l.checker != nil {
			g.Go(func() error { return l.checker.Run(gctx) })
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, l := range ls {
			if err := l.srv.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", l.Name(), err))
			}
			l.close()
		}
		logger.Printf("server: %d listener(s) stopped", len(ls))
		return errors.Join(errs...)
	})
	return g.Wait()
}
