package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"helios-hq/helios/pkg/adapterfactory"
	"helios-hq/helios/pkg/registry"
)

func localProvider(slug, url string, enabled bool) *registry.Provider {
	return &registry.Provider{
		ID:      slug,
		Slug:    slug,
		Type:    registry.AdapterLocal,
		Enabled: enabled,
		Models: []registry.ModelMapping{
			{PublicModel: "gpt-4", InternalModel: "local-gpt4"},
		},
		Local: &registry.LocalConfig{URL: url},
	}
}

func seedProber(t *testing.T, providers ...*registry.Provider) (*Prober, *registry.MemoryStore) {
	t.Helper()
	store := registry.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	for _, p := range providers {
		if err := store.Put(context.Background(), p); err != nil {
			t.Fatalf("Put(%s): %v", p.Slug, err)
		}
	}
	pool := adapterfactory.NewCache()
	t.Cleanup(func() { pool.Close() })
	return NewProber(store, pool, nil, ""), store
}

func healthOf(t *testing.T, store registry.Store, slug string) registry.HealthStatus {
	t.Helper()
	p, err := store.Get(context.Background(), slug)
	if err != nil {
		t.Fatalf("Get(%s): %v", slug, err)
	}
	return p.Health
}

func TestSweepMarksHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	prober, store := seedProber(t, localProvider("llama", srv.URL, true))
	prober.Sweep(context.Background())

	h := healthOf(t, store, "llama")
	if h.Status != registry.HealthHealthy {
		t.Errorf("Status = %q, want healthy", h.Status)
	}
	if h.LastChecked.IsZero() {
		t.Error("LastChecked was not stamped")
	}
	if h.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", h.ErrorMessage)
	}
}

func TestSweepMarksUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	prober, store := seedProber(t, localProvider("llama", srv.URL, true))
	prober.Sweep(context.Background())

	h := healthOf(t, store, "llama")
	if h.Status != registry.HealthUnhealthy {
		t.Errorf("Status = %q, want unhealthy", h.Status)
	}
	if h.ErrorMessage == "" {
		t.Error("ErrorMessage is empty, want the probe failure recorded")
	}
}

func TestSweepSkipsDisabledProviders(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	prober, store := seedProber(t, localProvider("idle", srv.URL, false))
	prober.Sweep(context.Background())

	if got := hits.Load(); got != 0 {
		t.Errorf("probe requests = %d, want 0 for a disabled provider", got)
	}
	if h := healthOf(t, store, "idle"); h.Status != registry.HealthUnknown {
		t.Errorf("Status = %q, want unknown left untouched", h.Status)
	}
}

func TestStartRunsInitialSweep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	prober, store := seedProber(t, localProvider("llama", srv.URL, true))
	// A long period keeps the cron schedule out of the picture; only the
	// immediate startup sweep should fire.
	prober.schedule = "@every 1h"

	if err := prober.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer prober.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if healthOf(t, store, "llama").Status == registry.HealthHealthy {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("provider never became healthy after Start; status = %q",
		healthOf(t, store, "llama").Status)
}

func TestStartTwiceIsIdempotent(t *testing.T) {
	prober, _ := seedProber(t)
	if err := prober.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer prober.Stop()
	if err := prober.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	prober, _ := seedProber(t)
	prober.schedule = "every minute or so"
	if err := prober.Start(); err == nil {
		prober.Stop()
		t.Fatal("Start accepted a malformed schedule")
	}
}

func TestStoreSinkTransitions(t *testing.T) {
	store := registry.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	if err := store.Put(context.Background(), localProvider("openai", "http://127.0.0.1:1", true)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	sink := NewStoreSink(store, nil)

	sink.MarkUnhealthy("openai", "circuit opened")
	h := healthOf(t, store, "openai")
	if h.Status != registry.HealthUnhealthy || h.ErrorMessage != "circuit opened" {
		t.Errorf("after MarkUnhealthy: %+v", h)
	}

	sink.MarkUnknown("openai")
	h = healthOf(t, store, "openai")
	if h.Status != registry.HealthUnknown || h.ErrorMessage != "" {
		t.Errorf("after MarkUnknown: %+v", h)
	}
}

func TestStoreSinkUnknownProvider(t *testing.T) {
	store := registry.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	// Must not panic; the failure is logged and dropped.
	NewStoreSink(store, nil).MarkUnhealthy("ghost", "whatever")
}
