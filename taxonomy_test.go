package main

import (
	"testing"
	"time"
)

func TestCanonicalCaseInsensitive(t *testing.T) {
	tax := Taxonomy{Ministries: defaultMinistries, Categories: defaultCategories}

	if got := tax.CanonicalMinistry("ministry of health"); got != "Ministry of Health" {
		t.Errorf("CanonicalMinistry = %q", got)
	}
	if got := tax.CanonicalMinistry("  Ministry of ENERGY  "); got != "Ministry of Energy" {
		t.Errorf("CanonicalMinistry = %q", got)
	}
	if got := tax.CanonicalMinistry("Ministry of Magic"); got != "" {
		t.Errorf("non-member should canonicalize to empty, got %q", got)
	}
	if !tax.HasCategory("service delay") {
		t.Errorf("HasCategory should be case-insensitive")
	}
}

func TestTaxonomyCacheTTL(t *testing.T) {
	db := testDB(t)
	clock := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	cache := NewTaxonomyCache(db, 5*time.Minute)
	cache.now = func() time.Time { return clock }

	first := cache.Get()
	if len(first.Ministries) != len(defaultMinistries) {
		t.Fatalf("initial load got %d ministries", len(first.Ministries))
	}

	if _, err := db.Exec(`INSERT INTO ministries (name) VALUES (?)`, "Ministry of Tourism"); err != nil {
		t.Fatalf("insert ministry: %v", err)
	}

	// Within the TTL the stale snapshot keeps serving.
	within := cache.Get()
	if within.HasMinistry("Ministry of Tourism") {
		t.Errorf("snapshot refreshed before TTL expiry")
	}

	clock = clock.Add(6 * time.Minute)
	after := cache.Get()
	if !after.HasMinistry("Ministry of Tourism") {
		t.Errorf("snapshot not refreshed after TTL expiry")
	}
}

func TestTaxonomyRefreshForcesReload(t *testing.T) {
	db := testDB(t)
	cache := NewTaxonomyCache(db, time.Hour)
	cache.Get()

	if _, err := db.Exec(`INSERT INTO categories (name) VALUES (?)`, "Land Disputes"); err != nil {
		t.Fatalf("insert category: %v", err)
	}
	if err := cache.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !cache.Get().HasCategory("Land Disputes") {
		t.Errorf("Refresh did not pick up the new category")
	}
}

func TestTaxonomyFailedRefreshKeepsSnapshot(t *testing.T) {
	db := testDB(t)
	clock := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	cache := NewTaxonomyCache(db, time.Minute)
	cache.now = func() time.Time { return clock }

	first := cache.Get()
	if len(first.Ministries) == 0 {
		t.Fatalf("initial load empty")
	}

	db.Close()
	clock = clock.Add(2 * time.Minute)

	stale := cache.Get()
	if len(stale.Ministries) != len(first.Ministries) {
		t.Errorf("failed refresh should keep serving the old snapshot")
	}
	if err := cache.Refresh(); err == nil {
		t.Errorf("Refresh on a closed db should error")
	}
}
