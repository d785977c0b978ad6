package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaults registers every key so that AutomaticEnv can resolve it.
var defaults = map[string]any{
	"project_id": "",
	"port":       8080,
	"log_level":  "info",
	"api_key":    "",

	"primary.processor_id": "",
	"primary.kind":         "documentai",
	"primary.location":     "eu",
	"primary.project_id":   "",

	"fallback.processor_id": "",
	"fallback.kind":         "documentai",
	"fallback.location":     "eu",
	"fallback.project_id":   "",

	"vertex_ai.region": "europe-west3",
	"vertex_ai.model":  "gemini-1.5-pro",

	"selector.unavailable_ttl": 5 * time.Minute,
	"selector.probe_interval":  time.Minute,
	"selector.probe_timeout":   10 * time.Second,
	"selector.primary_timeout": 30 * time.Second,
	"selector.request_timeout": 90 * time.Second,
	"selector.max_attempts":    2,
	"selector.initial_backoff": 500 * time.Millisecond,
	"selector.max_backoff":     4 * time.Second,

	"classifier.max_edit_distance": 3,
	"classifier.max_edit_ratio":    0.2,
	"classifier.min_fuzzy_length":  4,

	"confidence.upstream_weight":     0.4,
	"confidence.classified_weight":   0.4,
	"confidence.segmentation_weight": 0.2,

	"aliases.source": "",

	"limits.max_pages":         30,
	"limits.max_payload_bytes": int64(20 << 20),

	"firestore.collection": "",

	"workflow.id":       "",
	"workflow.location": "europe-west3",
}

// newViper builds a Viper instance reading YAML, with environment
// variables overriding every key: "primary.processor_id" resolves to
// PRIMARY_PROCESSOR_ID.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// Load reads the YAML file at configPath if it is non-empty, merges
// environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
		}
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from environment variables and defaults only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	// Processors inherit the service project.
	if cfg.Primary.ProjectID == "" {
		cfg.Primary.ProjectID = cfg.ProjectID
	}
	if cfg.Fallback.ProjectID == "" {
		cfg.Fallback.ProjectID = cfg.ProjectID
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}
