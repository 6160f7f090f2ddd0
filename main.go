package main

import (
	"log"
	"net/http"
)

func main() {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	var keywords *KeywordMap
	if cfg.KeywordMapPath != "" {
		keywords, err = LoadKeywordMap(cfg.KeywordMapPath)
		if err != nil {
			log.Fatalf("Failed to load keyword map: %v", err)
		}
	}

	taxonomy := NewTaxonomyCache(db, cfg.TaxonomyTTL())
	fallback := NewFallbackMatcher(keywords, cfg.KeywordThreshold, cfg.EditDistanceRatio)
	classifier := NewClassifier(cfg, taxonomy, fallback)
	tracking := NewTrackingService(db)
	handlers := NewHandlers(cfg, db, classifier, tracking)
	manager := NewConversationManager(db, handlers)
	tools := NewToolRegistry(cfg, db, taxonomy, classifier, tracking)
	agent := NewAgent(cfg, tools)

	sweeper := NewSweeper(cfg, db, agent, taxonomy)
	sched, err := sweeper.Start()
	if err != nil {
		log.Fatalf("Failed to start sweeper: %v", err)
	}
	defer sched.Stop()

	gateway := NewGateway(agent)
	webhook := NewChannelWebhook(manager)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWS)
	mux.Handle("/webhook", webhook)
	mux.HandleFunc("/healthz", handleHealthz)

	log.Printf("Starting grievance intake service on %s...", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
