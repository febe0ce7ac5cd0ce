package prom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/IvanBrykalov/imgcache/cache"
	"github.com/IvanBrykalov/imgcache/fetch"
	"github.com/IvanBrykalov/imgcache/key"
	"github.com/IvanBrykalov/imgcache/loader"
)

func TestAdapterMemoryMetrics(t *testing.T) {
	a := New(prometheus.NewRegistry(), "", nil)
	c := cache.New[string, int](cache.Options[string, int]{
		Capacity: 1,
		Shards:   1,
		Cost:     func(v int) int64 { return int64(v) },
		Metrics:  a,
	})
	c.Set("a", 10)
	c.Set("b", 20) // evicts a
	c.Get("b")
	c.Get("a")

	families := gather(t, a,
		"imgcache_memory_hits_total", "imgcache_memory_misses_total",
		"imgcache_memory_evictions_total", "imgcache_memory_entries", "imgcache_memory_bytes")

	expectValue(t, families["imgcache_memory_hits_total"][0].GetCounter().GetValue(), 1)
	expectValue(t, families["imgcache_memory_misses_total"][0].GetCounter().GetValue(), 1)
	ev := findMetric(t, families["imgcache_memory_evictions_total"], map[string]string{"reason": "policy"})
	expectValue(t, ev.GetCounter().GetValue(), 1)
	expectValue(t, families["imgcache_memory_entries"][0].GetGauge().GetValue(), 1)
	expectValue(t, families["imgcache_memory_bytes"][0].GetGauge().GetValue(), 20)
}

func TestAdapterLoaderMetrics(t *testing.T) {
	a := New(nil, "test", prometheus.Labels{"instance": "unit"})
	l, err := loader.New(loader.Options{
		Fetcher: fetch.FetcherFunc(func(_ context.Context, r key.Request) ([]byte, error) {
			return nil, fetch.Server(r.URL, http.StatusBadGateway)
		}),
		Metrics:      a,
		CacheMetrics: a,
		BlobMetrics:  a,
	})
	if err != nil {
		t.Fatalf("loader.New: %v", err)
	}
	defer func() { _ = l.Close() }()

	if img := l.Fetch(context.Background(), "https://example.com/a.png"); !img.Placeholder {
		t.Fatal("expected placeholder")
	}

	families := gather(t, a,
		"test_loader_requests_total", "test_loader_fetches_total",
		"test_loader_fetch_duration_seconds", "test_loader_placeholders_total", "test_loader_slots_in_use")

	req := findMetric(t, families["test_loader_requests_total"], map[string]string{"result": loader.ResultFailed, "instance": "unit"})
	expectValue(t, req.GetCounter().GetValue(), 1)
	f := findMetric(t, families["test_loader_fetches_total"], map[string]string{"outcome": "server"})
	expectValue(t, f.GetCounter().GetValue(), 1)
	h := findMetric(t, families["test_loader_fetch_duration_seconds"], map[string]string{"outcome": "server"})
	if h.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one latency sample, got %d", h.GetHistogram().GetSampleCount())
	}
	expectValue(t, families["test_loader_placeholders_total"][0].GetCounter().GetValue(), 1)
	expectValue(t, families["test_loader_slots_in_use"][0].GetGauge().GetValue(), 0)
}

func TestAdapterBlobMetrics(t *testing.T) {
	a := New(prometheus.NewRegistry(), "", nil)
	a.BlobHit()
	a.BlobMiss()
	a.BlobMiss()
	a.BlobError("write")

	families := gather(t, a, "imgcache_blob_lookups_total", "imgcache_blob_errors_total")
	expectValue(t, findMetric(t, families["imgcache_blob_lookups_total"], map[string]string{"result": "miss"}).GetCounter().GetValue(), 2)
	expectValue(t, findMetric(t, families["imgcache_blob_errors_total"], map[string]string{"op": "write"}).GetCounter().GetValue(), 1)
}

func TestAdapterHandler(t *testing.T) {
	a := New(nil, "", nil)
	a.Fetch("ok", 30*time.Millisecond)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatal("expected response body")
	}

	var nilAdapter *Adapter
	rr = httptest.NewRecorder()
	nilAdapter.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil adapter: expected 503, got %d", rr.Code)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, "", nil)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
		if err, ok := r.(error); ok {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				t.Fatalf("unexpected panic: %v", err)
			}
		}
	}()
	New(reg, "", nil)
}

func expectValue(t *testing.T, got, want float64) {
	t.Helper()
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func gather(t *testing.T, a *Adapter, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := a.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	for name, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == name && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
