package main

import (
	"database/sql"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the periodic maintenance pass: stale terminal sessions
// are deleted, idle agent transcripts are evicted, and the taxonomy
// snapshot is refreshed from the store.
type Sweeper struct {
	cfg      Config
	db       *sql.DB
	agent    *Agent
	taxonomy *TaxonomyCache
	now      func() time.Time
}

func NewSweeper(cfg Config, db *sql.DB, agent *Agent, taxonomy *TaxonomyCache) *Sweeper {
	return &Sweeper{cfg: cfg, db: db, agent: agent, taxonomy: taxonomy, now: time.Now}
}

// Start registers the sweep on its cron schedule and starts the
// scheduler. The returned cron is already running; the caller stops it
// on shutdown.
func (s *Sweeper) Start() (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.SweepSchedule, s.Sweep); err != nil {
		return nil, err
	}
	c.Start()
	log.Printf("sweeper started schedule=%q", s.cfg.SweepSchedule)
	return c, nil
}

// Sweep runs one maintenance pass. Each step logs and continues on
// failure; a broken store must not stop transcript eviction.
func (s *Sweeper) Sweep() {
	cutoff := s.now().UTC().Add(-s.cfg.SessionSweepAge())
	deleted, err := DeleteStaleSessions(s.db, cutoff)
	if err != nil {
		log.Printf("sweep session cleanup error: %v", err)
	}

	evicted := s.agent.EvictStale(s.cfg.TranscriptTTL())

	if err := s.taxonomy.Refresh(); err != nil {
		log.Printf("sweep taxonomy refresh error: %v", err)
	}

	log.Printf("sweep done sessions_deleted=%d transcripts_evicted=%d", deleted, evicted)
}
