package jembatan

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsCollectorWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}
	if collector.Registry() != registry {
		t.Error("Registry() should return the supplied registerer")
	}
}

func TestRecordRequest(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordRequest("GET", "api.example.com/users", 200, 150*time.Millisecond)
	collector.RecordRequest("GET", "api.example.com/users", 200, 50*time.Millisecond)

	got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", "api.example.com/users"))
	if got != 2 {
		t.Errorf("requests_total = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(collector.requestDuration); n != 1 {
		t.Errorf("request_duration series = %d, want 1", n)
	}
}

func TestRecordRequestInFlight(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	gauge := collector.requestsInFlight.WithLabelValues("GET", "e")

	collector.RecordRequestStart("GET", "e")
	collector.RecordRequestStart("GET", "e")
	if got := testutil.ToFloat64(gauge); got != 2 {
		t.Errorf("in_flight = %v, want 2", got)
	}

	collector.RecordRequestEnd("GET", "e")
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Errorf("in_flight = %v, want 1", got)
	}
}

func TestRecordRetry(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordRetry("GET", "e", 1)
	collector.RecordRetry("GET", "e", 2)
	collector.RecordRetry("GET", "e", 2)

	if got := testutil.ToFloat64(collector.retriesTotal.WithLabelValues("GET", "e", "2")); got != 2 {
		t.Errorf("retries_total{attempt=2} = %v, want 2", got)
	}
}

func TestRecordCacheMetrics(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordCacheHit("GET", "e")
	collector.RecordCacheMiss("GET", "e")
	collector.RecordCacheMiss("GET", "e")
	collector.RecordCacheRevalidated("GET", "e")
	collector.RecordCacheSize(7)

	if got := testutil.ToFloat64(collector.cacheHits.WithLabelValues("GET", "e")); got != 1 {
		t.Errorf("cache_hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.cacheMisses.WithLabelValues("GET", "e")); got != 2 {
		t.Errorf("cache_misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.cacheRevalidations.WithLabelValues("GET", "e")); got != 1 {
		t.Errorf("cache_revalidations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.cacheSize); got != 7 {
		t.Errorf("cache_size = %v, want 7", got)
	}
}

func TestRecordTokenRefreshAndError(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordTokenRefresh("success")
	collector.RecordTokenRefresh("failure")
	collector.RecordError(KindRateLimited, "GET", "e")

	if got := testutil.ToFloat64(collector.tokenRefreshes.WithLabelValues("failure")); got != 1 {
		t.Errorf("token_refreshes{failure} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("rate_limited", "GET", "e")); got != 1 {
		t.Errorf("errors_total{rate_limited} = %v, want 1", got)
	}
}

func TestMetricsCollectorWithNil(t *testing.T) {
	var collector *MetricsCollector

	collector.RecordRequest("GET", "e", 200, time.Second)
	collector.RecordRequestStart("GET", "e")
	collector.RecordRequestEnd("GET", "e")
	collector.RecordRetry("GET", "e", 1)
	collector.RecordCacheHit("GET", "e")
	collector.RecordCacheMiss("GET", "e")
	collector.RecordCacheRevalidated("GET", "e")
	collector.RecordCacheSize(1)
	collector.RecordTokenRefresh("success")
	collector.RecordError(KindServer, "GET", "e")

	if collector.Registry() != nil {
		t.Error("nil collector should have no registry")
	}
}

func TestMetricsIntegration(t *testing.T) {
	registry := prometheus.NewRegistry()
	tr := TransportFunc(func(_ context.Context, req *Request) (*Response, error) {
		if req.Header.Get("Authorization") == "" {
			return nil, fail(503)
		}
		return &Response{Status: 200, StatusText: "OK", Header: http.Header{}, Body: []byte(`{}`)}, nil
	})

	cfg := DefaultConfig("https://api.example.com")
	cfg.EnableCaching = true
	cfg.MaxRetries = 1
	client := newTestClient(t, cfg, tr, WithMetricsRegistry(registry))
	collector := client.metrics

	if _, err := client.Get(context.Background(), "/down"); err == nil {
		t.Fatal("expected failure without credentials")
	}

	client.SetCredential(Credential{AccessToken: "abc"})
	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), "/up"); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	const down, up = "api.example.com/down", "api.example.com/up"
	if got := testutil.ToFloat64(collector.retriesTotal.WithLabelValues("GET", down, "1")); got != 1 {
		t.Errorf("retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("server", "GET", down)); got != 1 {
		t.Errorf("errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "503", down)); got != 1 {
		t.Errorf("requests_total{503} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", up)); got != 2 {
		t.Errorf("requests_total{200} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.cacheHits.WithLabelValues("GET", up)); got != 1 {
		t.Errorf("cache_hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.cacheSize); got != 1 {
		t.Errorf("cache_size = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("GET", up)); got != 0 {
		t.Errorf("in_flight = %v, want 0", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("expected metrics in the custom registry")
	}
}
