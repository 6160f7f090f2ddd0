package main

import (
	"database/sql"
	"log"
	"sync"
	"time"
)

// Taxonomy is one immutable snapshot of the allowed ministries and
// complaint categories. Refreshes swap the whole snapshot so concurrent
// readers never observe a half-updated list.
type Taxonomy struct {
	Ministries []string
	Categories []string
}

func (t Taxonomy) HasMinistry(name string) bool { return containsFold(t.Ministries, name) }
func (t Taxonomy) HasCategory(name string) bool { return containsFold(t.Categories, name) }

// CanonicalMinistry returns the taxonomy's own spelling for name, or ""
// when name is not a member.
func (t Taxonomy) CanonicalMinistry(name string) string { return canonical(t.Ministries, name) }
func (t Taxonomy) CanonicalCategory(name string) string { return canonical(t.Categories, name) }

func containsFold(list []string, name string) bool {
	return canonical(list, name) != ""
}

func canonical(list []string, name string) string {
	needle := normalizeTextToken(name)
	if needle == "" {
		return ""
	}
	for _, entry := range list {
		if normalizeTextToken(entry) == needle {
			return entry
		}
	}
	return ""
}

// TaxonomyCache serves taxonomy snapshots with a short TTL so that a
// classification never costs a database round trip of its own.
type TaxonomyCache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	snapshot  Taxonomy
	loadedAt  time.Time
	refreshMu sync.Mutex
}

func NewTaxonomyCache(db *sql.DB, ttl time.Duration) *TaxonomyCache {
	return &TaxonomyCache{db: db, ttl: ttl, now: time.Now}
}

// Get returns the current snapshot, refreshing from the database when the
// TTL has expired. A failed refresh keeps serving the previous snapshot.
func (c *TaxonomyCache) Get() Taxonomy {
	c.mu.RLock()
	snap, loadedAt := c.snapshot, c.loadedAt
	c.mu.RUnlock()

	if !loadedAt.IsZero() && c.now().Sub(loadedAt) < c.ttl {
		return snap
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	c.mu.RLock()
	snap, loadedAt = c.snapshot, c.loadedAt
	c.mu.RUnlock()
	if !loadedAt.IsZero() && c.now().Sub(loadedAt) < c.ttl {
		return snap
	}

	fresh, err := c.load()
	if err != nil {
		log.Printf("taxonomy refresh error: %v", err)
		if loadedAt.IsZero() {
			return Taxonomy{}
		}
		return snap
	}

	c.mu.Lock()
	c.snapshot = fresh
	c.loadedAt = c.now()
	c.mu.Unlock()
	return fresh
}

// Refresh forces a reload regardless of TTL. Used by the background sweep.
func (c *TaxonomyCache) Refresh() error {
	fresh, err := c.load()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snapshot = fresh
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}

func (c *TaxonomyCache) load() (Taxonomy, error) {
	ministries, err := GetMinistries(c.db)
	if err != nil {
		return Taxonomy{}, err
	}
	categories, err := GetCategories(c.db)
	if err != nil {
		return Taxonomy{}, err
	}
	return Taxonomy{Ministries: ministries, Categories: categories}, nil
}
