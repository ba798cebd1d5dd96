// Command bench replays a synthetic file-request workload against the byte
// cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/edgecache/cache"
	pmet "github.com/IvanBrykalov/edgecache/metrics/prom"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

func main() {
	// ---- Flags ----
	var (
		capacity = flag.Int("cap", 64*1024, "cache capacity (KiB)")
		shards   = flag.Int("shards", 1, "number of shards (-1 = auto)")
		ttl      = flag.Duration("ttl", 0, "entry TTL (0 = none)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 90, "read percentage [0..100]")

		files   = flag.Int("files", 100_000, "number of distinct paths")
		minSize = flag.Int("min-size", 512, "smallest payload (bytes)")
		maxSize = flag.Int("max-size", 64*1024, "largest payload (bytes)")
		zipfS   = flag.Float64("zipf-s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf-v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	if *minSize < 0 || *maxSize < *minSize {
		log.Fatalf("invalid payload sizes: min=%d max=%d", *minSize, *maxSize)
	}

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "edge", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build cache ----
	c := cache.New(cache.Options{
		CapacityKiB: *capacity,
		Shards:      *shards,
		TTL:         *ttl,
		Metrics:     metrics,
	})
	defer func() { _ = c.Close() }()

	// Payloads are shared read-only templates; the cache copies on Add.
	blob := make([]byte, *maxSize)
	rand.New(rand.NewSource(*seed)).Read(blob)
	span := *maxSize - *minSize + 1

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	filesMax := uint64(*files - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	minSizeVal := *minSize
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, writes, hits, misses, total, bytesServed uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, filesMax)

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				n := localZipf.Uint64()
				path := "/static/" + strconv.FormatUint(n, 10) + ".bin"
				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					if data, ok := c.Get(path); ok {
						atomic.AddUint64(&hits, 1)
						atomic.AddUint64(&bytesServed, uint64(len(data)))
						continue
					}
					atomic.AddUint64(&misses, 1)
				}
				// Miss or explicit write: "read the file" and admit it.
				atomic.AddUint64(&writes, 1)
				size := minSizeVal + int(n%uint64(span))
				c.Add(path, blob[:size])
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)
	servedN := atomic.LoadUint64(&bytesServed)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}
	st := c.Stats()

	fmt.Printf("cap=%dKiB shards=%d workers=%d files=%d sizes=%d..%d dur=%v seed=%d\n",
		*capacity, *shards, workersN, *files, *minSize, *maxSize, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%  served=%.1f MiB/s\n",
		hitsN, missesN, hitRate, float64(servedN)/(1<<20)/elapsed.Seconds())
	fmt.Printf("Len()=%d  Size()=%d/%d bytes  evictions=%d\n", st.Entries, st.Bytes, st.Capacity, st.Evictions)
}
