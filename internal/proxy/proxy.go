// Package proxy forwards requests to upstreams chosen by a balancer pool.
package proxy

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/IvanBrykalov/edgecache/internal/balancer"
)

type targetKey struct{}

// Handler is an http.Handler that reverse-proxies each request to one
// healthy upstream of its pool.
type Handler struct {
	pool    *balancer.Pool
	targets map[string]*url.URL
	rp      *httputil.ReverseProxy
	logger  *log.Logger
}

// New builds a proxy over pool. A nil transport uses http.DefaultTransport.
func New(pool *balancer.Pool, transport http.RoundTripper, logger *log.Logger) (*Handler, error) {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		pool:    pool,
		targets: make(map[string]*url.URL, pool.Len()),
		logger:  logger,
	}
	for i := range pool.Len() {
		addr := pool.Upstream(i)
		u, err := balancer.URL(addr)
		if err != nil {
			return nil, err
		}
		h.targets[addr] = u
	}
	h.rp = &httputil.ReverseProxy{
		Rewrite:      rewrite,
		Transport:    transport,
		ErrorHandler: h.upstreamError,
		ErrorLog:     logger,
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr, err := h.pool.Pick(r.Context())
	if err != nil {
		if errors.Is(err, balancer.ErrNoHealthyUpstream) {
			h.logger.Printf("proxy: %s %s: %v", r.Method, r.URL.Path, err)
		}
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	ctx := context.WithValue(r.Context(), targetKey{}, h.targets[addr])
	h.rp.ServeHTTP(w, r.WithContext(ctx))
}

func rewrite(pr *httputil.ProxyRequest) {
	target := pr.In.Context().Value(targetKey{}).(*url.URL)
	pr.SetURL(target)
	pr.SetXForwarded()
}

func (h *Handler) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		// Client went away; nobody is left to answer.
		return
	}
	target, _ := r.Context().Value(targetKey{}).(*url.URL)
	h.logger.Printf("proxy: upstream %v: %v", target, err)
	w.WriteHeader(http.StatusBadGateway)
}
