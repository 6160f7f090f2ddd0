package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	DBPath          string `yaml:"db_path"`
	KeywordMapPath  string `yaml:"keyword_map_path"`
	TaxonomyTTLSecs int    `yaml:"taxonomy_ttl_seconds"`

	// Classification thresholds. The values are carried over from the
	// original rollout and are deliberately overridable rather than
	// hard-coded: nobody has re-derived them since.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	KeywordThreshold    float64 `yaml:"keyword_threshold"`
	EditDistanceRatio   float64 `yaml:"edit_distance_ratio"`

	AgentMaxIterations   int    `yaml:"agent_max_iterations"`
	TranscriptTTLMinutes int    `yaml:"transcript_ttl_minutes"`
	SessionSweepAgeHours int    `yaml:"session_sweep_age_hours"`
	SweepSchedule        string `yaml:"sweep_schedule"`
	MinDescriptionLength int    `yaml:"min_description_length"`
	MaxDescriptionLength int    `yaml:"max_description_length"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.KeywordMapPath, "KEYWORD_MAP_PATH")
	envOverrideInt(&cfg.TaxonomyTTLSecs, "TAXONOMY_TTL_SECONDS")
	envOverrideFloat(&cfg.ConfidenceThreshold, "CONFIDENCE_THRESHOLD")
	envOverrideFloat(&cfg.KeywordThreshold, "KEYWORD_THRESHOLD")
	envOverrideFloat(&cfg.EditDistanceRatio, "EDIT_DISTANCE_RATIO")
	envOverrideInt(&cfg.AgentMaxIterations, "AGENT_MAX_ITERATIONS")
	envOverrideInt(&cfg.TranscriptTTLMinutes, "TRANSCRIPT_TTL_MINUTES")
	envOverrideInt(&cfg.SessionSweepAgeHours, "SESSION_SWEEP_AGE_HOURS")
	envOverride(&cfg.SweepSchedule, "SWEEP_SCHEDULE")
	envOverrideInt(&cfg.MinDescriptionLength, "MIN_DESCRIPTION_LENGTH")
	envOverrideInt(&cfg.MaxDescriptionLength, "MAX_DESCRIPTION_LENGTH")

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./grievancebot.db"
	}
	if cfg.TaxonomyTTLSecs == 0 {
		cfg.TaxonomyTTLSecs = 300
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.70
	}
	if cfg.KeywordThreshold == 0 {
		cfg.KeywordThreshold = 0.30
	}
	if cfg.EditDistanceRatio == 0 {
		cfg.EditDistanceRatio = 0.60
	}
	if cfg.AgentMaxIterations == 0 {
		cfg.AgentMaxIterations = 5
	}
	if cfg.TranscriptTTLMinutes == 0 {
		cfg.TranscriptTTLMinutes = 30
	}
	if cfg.SessionSweepAgeHours == 0 {
		cfg.SessionSweepAgeHours = 24
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "*/10 * * * *"
	}
	if cfg.MinDescriptionLength == 0 {
		cfg.MinDescriptionLength = 20
	}
	if cfg.MaxDescriptionLength == 0 {
		cfg.MaxDescriptionLength = 4000
	}

	if cfg.AnthropicAPIKey == "" {
		log.Fatalf("Required config 'anthropic_api_key' is not set (via config.yaml or env var)")
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		log.Fatalf("invalid confidence_threshold '%f': must be between 0 and 1", cfg.ConfidenceThreshold)
	}
	if cfg.KeywordThreshold < 0 || cfg.KeywordThreshold > 1 {
		log.Fatalf("invalid keyword_threshold '%f': must be between 0 and 1", cfg.KeywordThreshold)
	}
	if cfg.EditDistanceRatio <= 0 || cfg.EditDistanceRatio > 1 {
		log.Fatalf("invalid edit_distance_ratio '%f': must be in (0, 1]", cfg.EditDistanceRatio)
	}
	if cfg.AgentMaxIterations < 1 {
		log.Fatalf("invalid agent_max_iterations '%d': must be >= 1", cfg.AgentMaxIterations)
	}
	if cfg.MinDescriptionLength < 1 {
		log.Fatalf("invalid min_description_length '%d': must be >= 1", cfg.MinDescriptionLength)
	}
	if cfg.KeywordMapPath != "" {
		if _, err := LoadKeywordMap(cfg.KeywordMapPath); err != nil {
			log.Fatalf("invalid keyword_map_path '%s': %v", cfg.KeywordMapPath, err)
		}
	}

	return cfg
}

func (c Config) TaxonomyTTL() time.Duration {
	return time.Duration(c.TaxonomyTTLSecs) * time.Second
}

func (c Config) TranscriptTTL() time.Duration {
	return time.Duration(c.TranscriptTTLMinutes) * time.Minute
}

func (c Config) SessionSweepAge() time.Duration {
	return time.Duration(c.SessionSweepAgeHours) * time.Hour
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
