package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"helios-hq/helios/pkg/registry"
)

func testProvider(slug string, priority int, enabled bool, models ...registry.ModelMapping) *registry.Provider {
	return &registry.Provider{
		ID:       slug,
		Slug:     slug,
		Type:     registry.AdapterHTTP,
		Enabled:  enabled,
		Priority: priority,
		Models:   models,
		HTTP:     &registry.HTTPConfig{BaseURL: "http://example.invalid"},
	}
}

func chatMapping(public, internal string) registry.ModelMapping {
	return registry.ModelMapping{
		PublicModel:       public,
		InternalModel:     internal,
		SupportsStreaming: true,
	}
}

func seedStore(t *testing.T, providers ...*registry.Provider) registry.Store {
	t.Helper()
	store := registry.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	for _, p := range providers {
		if err := store.Put(context.Background(), p); err != nil {
			t.Fatalf("Put(%s): %v", p.Slug, err)
		}
	}
	return store
}

func TestResolveOrdersByPriorityThenSlug(t *testing.T) {
	store := seedStore(t,
		testProvider("beta", 2, true, chatMapping("gpt-4", "beta-gpt4")),
		testProvider("alpha", 1, true, chatMapping("gpt-4", "alpha-gpt4")),
		testProvider("zeta", 1, true, chatMapping("gpt-4", "zeta-gpt4")),
	)
	r := New(store, time.Second)

	candidates, err := r.Resolve(context.Background(), "gpt-4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := []string{"alpha", "zeta", "beta"}
	if len(candidates) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(candidates), len(want))
	}
	for i, slug := range want {
		if candidates[i].Provider.Slug != slug {
			t.Errorf("candidates[%d] = %q, want %q", i, candidates[i].Provider.Slug, slug)
		}
	}
	if candidates[0].Mapping.InternalModel != "alpha-gpt4" {
		t.Errorf("mapping internal model = %q, want alpha-gpt4", candidates[0].Mapping.InternalModel)
	}
}

func TestResolveExcludesDisabledProviders(t *testing.T) {
	store := seedStore(t,
		testProvider("alpha", 1, false, chatMapping("gpt-4", "alpha-gpt4")),
		testProvider("beta", 2, true, chatMapping("gpt-4", "beta-gpt4")),
	)
	r := New(store, time.Second)

	candidates, err := r.Resolve(context.Background(), "gpt-4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Provider.Slug != "beta" {
		t.Fatalf("candidates = %+v, want just beta", candidates)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	store := seedStore(t,
		testProvider("alpha", 1, true, chatMapping("gpt-4", "alpha-gpt4")),
	)
	r := New(store, time.Second)

	_, err := r.Resolve(context.Background(), "no-such-model")
	var nf *ModelNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Resolve error = %v, want ModelNotFoundError", err)
	}
	if nf.Model != "no-such-model" {
		t.Errorf("error model = %q, want no-such-model", nf.Model)
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	store := seedStore(t,
		testProvider("alpha", 1, true, chatMapping("gpt-4", "alpha-gpt4")),
	)
	r := New(store, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), "gpt-4"); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}

	hits, misses := r.CacheStats()
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
}

func TestResolveSeesStoreChangesImmediately(t *testing.T) {
	store := seedStore(t,
		testProvider("alpha", 1, true, chatMapping("gpt-4", "alpha-gpt4")),
	)
	// Long TTL so only the change notification can refresh the snapshot.
	r := New(store, time.Hour)

	if _, err := r.Resolve(context.Background(), "gpt-4"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	beta := testProvider("beta", 0, true, chatMapping("gpt-4", "beta-gpt4"))
	if err := store.Put(context.Background(), beta); err != nil {
		t.Fatalf("Put(beta): %v", err)
	}

	candidates, err := r.Resolve(context.Background(), "gpt-4")
	if err != nil {
		t.Fatalf("Resolve after Put: %v", err)
	}
	if len(candidates) != 2 || candidates[0].Provider.Slug != "beta" {
		t.Fatalf("candidates after Put = %+v, want beta first of 2", candidates)
	}
}

func TestInvalidateDropsSnapshot(t *testing.T) {
	store := seedStore(t,
		testProvider("alpha", 1, true, chatMapping("gpt-4", "alpha-gpt4")),
	)
	r := New(store, time.Hour)

	if _, err := r.Resolve(context.Background(), "gpt-4"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.Invalidate()
	if _, err := r.Resolve(context.Background(), "gpt-4"); err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}

	_, misses := r.CacheStats()
	if misses != 2 {
		t.Errorf("misses = %d, want 2", misses)
	}
}

func TestModelsDedupedByBestPriority(t *testing.T) {
	store := seedStore(t,
		testProvider("backup", 5, true,
			chatMapping("gpt-4", "backup-gpt4"),
			chatMapping("claude-3", "backup-claude"),
		),
		testProvider("primary", 1, true, chatMapping("gpt-4", "primary-gpt4")),
		testProvider("offline", 0, false, chatMapping("mistral", "offline-mistral")),
	)
	r := New(store, time.Second)

	models, err := r.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}

	if len(models) != 2 {
		t.Fatalf("got %d models, want 2: %+v", len(models), models)
	}
	// Sorted by public id.
	if models[0].Mapping.PublicModel != "claude-3" || models[0].OwnedBy != "backup" {
		t.Errorf("models[0] = %+v, want claude-3 owned by backup", models[0])
	}
	if models[1].Mapping.PublicModel != "gpt-4" || models[1].OwnedBy != "primary" {
		t.Errorf("models[1] = %+v, want gpt-4 owned by primary", models[1])
	}
}
