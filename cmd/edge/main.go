// Command edge serves static files through an in-memory LRU cache and
// load-balances reverse-proxy listeners, as described by a YAML/JSONC config.
//
// Usage:
//
//	edge [--config=config.yaml] [--metrics-addr=:9100] [--pprof=:6060] [--watch=2s]
//	edge --init [--config=config.yaml]
//
// SIGHUP, or a change of the config file when --watch is set, rebuilds all
// listeners from the new config. An invalid config is logged and ignored.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IvanBrykalov/edgecache/internal/config"
	"github.com/IvanBrykalov/edgecache/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("edge", flag.ContinueOnError)
	var (
		cfgPath     = flags.StringP("config", "c", config.DefaultPath, "path to the YAML or JSONC config file")
		metricsAddr = flags.String("metrics-addr", "", "serve Prometheus metrics at addr (e.g. :9100); empty = disabled")
		pprofAddr   = flags.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		watch       = flags.Duration("watch", 0, "poll the config file for changes at this interval; 0 = disabled")
		initCfg     = flags.Bool("init", false, "write a starter config to --config and exit")
		force       = flags.Bool("force", false, "with --init, overwrite an existing file")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

	if *initCfg {
		if err := config.WriteSample(*cfgPath, *force); err != nil {
			return err
		}
		logger.Printf("edge: wrote %s", *cfgPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opt := server.Options{Logger: logger}
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opt.Registry = reg

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		go serveAux(logger, "metrics", *metricsAddr, mux)
	}
	if *pprofAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		go serveAux(logger, "pprof", *pprofAddr, mux)
	}

	r := &server.Reloader{
		Load:    func() (config.Config, error) { return config.Load(*cfgPath) },
		Options: opt,
	}
	return r.Run(ctx, reloadSignals(ctx, *cfgPath, *watch))
}

// reloadSignals merges SIGHUP and config file changes into one channel.
func reloadSignals(ctx context.Context, path string, every time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	var changes <-chan struct{}
	if every > 0 {
		changes = config.Watch(ctx, path, every)
	}

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
			case _, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

func serveAux(logger *log.Logger, name, addr string, h http.Handler) {
	logger.Printf("%s: serving at %s", name, addr)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	logger.Println(srv.ListenAndServe())
}
