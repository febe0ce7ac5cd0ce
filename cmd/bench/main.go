// Command bench drives the loader with a Zipf-distributed URL workload against
// a synthetic upstream and exposes optional pprof and Prometheus endpoints.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/imgcache/fetch"
	"github.com/IvanBrykalov/imgcache/key"
	"github.com/IvanBrykalov/imgcache/loader"
	pmet "github.com/IvanBrykalov/imgcache/metrics/prom"
	"github.com/IvanBrykalov/imgcache/policy"
	"github.com/IvanBrykalov/imgcache/policy/twoq"
)

func main() {
	// ---- Flags ----
	var (
		capacity    = flag.Int("cap", 1_000, "memory tier capacity (images)")
		shards      = flag.Int("shards", 0, "number of shards (0=auto)")
		policyName  = flag.String("policy", "lru", "eviction policy: lru | 2q")
		concurrency = flag.Int("k", loader.DefaultMaxConcurrent, "max concurrent fetches")

		workers  = flag.Int("workers", 4*runtime.GOMAXPROCS(0), "number of caller goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		latency  = flag.Duration("latency", 20*time.Millisecond, "synthetic upstream latency")
		failPct  = flag.Int("fail", 2, "percentage of upstream fetches that fail [0..100]")

		urls  = flag.Int("urls", 10_000, "URL space size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics ----
	metrics := pmet.New(nil, "", map[string]string{"run": "bench"})
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, mux))
	}()

	// ---- Synthetic upstream ----
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 32))); err != nil {
		log.Fatal(err)
	}
	body := buf.Bytes()
	var upstreamCalls atomic.Uint64
	failVal := *failPct
	upstream := fetch.FetcherFunc(func(ctx context.Context, r key.Request) ([]byte, error) {
		n := upstreamCalls.Add(1)
		select {
		case <-time.After(*latency):
		case <-ctx.Done():
			return nil, fetch.Transport(r.URL, ctx.Err())
		}
		if int(n%100) < failVal {
			return nil, fetch.Server(r.URL, http.StatusServiceUnavailable)
		}
		return body, nil
	})

	// ---- Build loader ----
	var pol policy.Policy[key.Key, *loader.Image]
	switch *policyName {
	case "lru":
		// nil => LRU by default
	case "2q":
		pol = twoq.New[key.Key, *loader.Image](*capacity/4, *capacity/2)
	default:
		log.Fatalf("unknown policy: %q (use lru or 2q)", *policyName)
	}
	l, err := loader.New(loader.Options{
		Fetcher:       upstream,
		MaxConcurrent: *concurrency,
		Capacity:      *capacity,
		Shards:        *shards,
		Policy:        pol,
		Metrics:       metrics,
		CacheMetrics:  metrics,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Close() }()

	// ---- Snapshot flags for goroutines ----
	urlsMax := uint64(*urls - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := max(*workers, 1)

	// ---- Load generation ----
	var total, placeholders atomic.Uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := range workersN {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, urlsMax)

			for ctx.Err() == nil {
				u := "https://bench.invalid/img/" + strconv.FormatUint(localZipf.Uint64(), 10) + ".png"
				img := l.Fetch(ctx, u)
				total.Add(1)
				if img.Placeholder && ctx.Err() == nil {
					placeholders.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := total.Load()
	calls := upstreamCalls.Load()
	saved := 0.0
	if ops > 0 {
		saved = (1 - float64(calls)/float64(ops)) * 100
	}
	st := l.Stats()

	fmt.Printf("policy=%s cap=%d shards=%d k=%d workers=%d urls=%d dur=%v seed=%d\n",
		*policyName, *capacity, *shards, *concurrency, workersN, *urls, elapsed, seedBase)
	fmt.Printf("loads=%d (%.0f loads/s)  upstream=%d  saved=%.2f%%  placeholders=%d\n",
		ops, float64(ops)/elapsed.Seconds(), calls, saved, placeholders.Load())
	fmt.Printf("cached=%d bytes=%d tracked=%d\n", st.Cached, st.Bytes, st.Tracked)
}
