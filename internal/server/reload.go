package server

import (
	"context"

	"github.com/IvanBrykalov/edgecache/internal/config"
)

// Reloader runs generations of listeners. Each signal on the reload channel
// loads the config again and builds its listeners while the running
// generation keeps serving. A config that fails to load or build is logged
// and the current generation stays; otherwise the current generation is shut
// down and the new one takes its ports. If those ports cannot be bound the
// previous config is rebuilt and served again.
type Reloader struct {
	Load    func() (config.Config, error)
	Options Options
}

// Run serves until ctx is done or a generation fails.
func (r *Reloader) Run(ctx context.Context, reload <-chan struct{}) error {
	logger := r.Options.logger()
	cfg, err := r.Load()
	if err != nil {
		return err
	}
	ls, err := Build(cfg, r.Options)
	if err != nil {
		return err
	}
	for gen := 1; ; gen++ {
		genCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func(ls []*Listener) { done <- Run(genCtx, ls, r.Options) }(ls)

		next, nextCfg, err := r.wait(ctx, reload, done)
		cancel()
		if next == nil {
			return err
		}
		if err := <-done; err != nil {
			logger.Printf("reload: generation %d stopped with error: %v", gen, err)
		}

		if ctx.Err() != nil {
			closeAll(next)
			return nil
		}
		if err := Bind(ctx, next); err != nil {
			logger.Printf("reload: %v; restoring previous config", err)
			if next, err = Build(cfg, r.Options); err != nil {
				return err
			}
		} else {
			cfg = nextCfg
		}
		logger.Printf("reload: starting generation %d with %d listener(s)", gen+1, len(next))
		ls = next
	}
}

// wait blocks until the generation ends (next == nil) or a config arrives
// whose listeners were built successfully. Built listeners are not bound yet.
func (r *Reloader) wait(ctx context.Context, reload <-chan struct{}, done <-chan error) ([]*Listener, config.Config, error) {
	logger := r.Options.logger()
	for {
		select {
		case err := <-done:
			return nil, config.Config{}, err
		case <-ctx.Done():
			return nil, config.Config{}, <-done
		case _, ok := <-reload:
			if !ok {
				reload = nil
				continue
			}
			cfg, err := r.Load()
			if err != nil {
				logger.Printf("reload: keeping current config: %v", err)
				continue
			}
			ls, err := Build(cfg, r.Options)
			if err != nil {
				logger.Printf("reload: keeping current config: %v", err)
				continue
			}
			return ls, cfg, nil
		}
	}
}
