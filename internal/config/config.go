// Package config defines the service configuration and its validation.
// Loading lives in loader.go.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/Lllllllleong/labreportparser/internal/processor"
)

// ErrNoProcessor is fatal at startup: nothing can be parsed without a
// primary processor.
var ErrNoProcessor = errors.New("config: primary.processor_id is required")

// ProcessorConfig describes one upstream processor.
type ProcessorConfig struct {
	ProcessorID string `mapstructure:"processor_id"`
	Kind        string `mapstructure:"kind"` // "documentai" | "gemini"
	Location    string `mapstructure:"location"`
	ProjectID   string `mapstructure:"project_id"`
}

func (p ProcessorConfig) descriptor(role processor.Role) processor.Descriptor {
	return processor.Descriptor{
		ID:        p.ProcessorID,
		Role:      role,
		Kind:      processor.Kind(p.Kind),
		ProjectID: p.ProjectID,
		Location:  p.Location,
	}
}

type VertexConfig struct {
	Region string `mapstructure:"region"`
	Model  string `mapstructure:"model"`
}

// SelectorConfig holds the timeout and retry budgets of processor selection.
type SelectorConfig struct {
	UnavailableTTL time.Duration `mapstructure:"unavailable_ttl"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	PrimaryTimeout time.Duration `mapstructure:"primary_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type ClassifierConfig struct {
	MaxEditDistance int     `mapstructure:"max_edit_distance"`
	MaxEditRatio    float64 `mapstructure:"max_edit_ratio"`
	MinFuzzyLength  int     `mapstructure:"min_fuzzy_length"`
}

type ConfidenceConfig struct {
	UpstreamWeight     float64 `mapstructure:"upstream_weight"`
	ClassifiedWeight   float64 `mapstructure:"classified_weight"`
	SegmentationWeight float64 `mapstructure:"segmentation_weight"`
}

// AliasConfig points at a replacement alias table: a local path or a
// gs:// uri. Empty means the built-in table.
type AliasConfig struct {
	Source string `mapstructure:"source"`
}

type LimitsConfig struct {
	MaxPages        int   `mapstructure:"max_pages"`
	MaxPayloadBytes int64 `mapstructure:"max_payload_bytes"`
}

// FirestoreConfig enables the run ledger when Collection is set.
type FirestoreConfig struct {
	Collection string `mapstructure:"collection"`
}

// WorkflowConfig enables the downstream hand-off when ID is set.
type WorkflowConfig struct {
	ID       string `mapstructure:"id"`
	Location string `mapstructure:"location"`
}

// Config is the immutable per-process configuration.
type Config struct {
	ProjectID  string           `mapstructure:"project_id"`
	Port       int              `mapstructure:"port"`
	LogLevel   string           `mapstructure:"log_level"`
	APIKey     string           `mapstructure:"api_key"`
	Primary    ProcessorConfig  `mapstructure:"primary"`
	Fallback   ProcessorConfig  `mapstructure:"fallback"`
	VertexAI   VertexConfig     `mapstructure:"vertex_ai"`
	Selector   SelectorConfig   `mapstructure:"selector"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Confidence ConfidenceConfig `mapstructure:"confidence"`
	Aliases    AliasConfig      `mapstructure:"aliases"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Firestore  FirestoreConfig  `mapstructure:"firestore"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
}

// HasFallback reports whether a fallback processor is configured.
func (c *Config) HasFallback() bool { return c.Fallback.ProcessorID != "" }

// Descriptors returns the primary processor and, if configured, the fallback.
func (c *Config) Descriptors() (processor.Descriptor, *processor.Descriptor) {
	primary := c.Primary.descriptor(processor.RolePrimary)
	if !c.HasFallback() {
		return primary, nil
	}
	fallback := c.Fallback.descriptor(processor.RoleFallback)
	return primary, &fallback
}

func (c *Config) SelectorOptions() processor.Options {
	s := c.Selector
	return processor.Options{
		UnavailableTTL: s.UnavailableTTL,
		ProbeInterval:  s.ProbeInterval,
		ProbeTimeout:   s.ProbeTimeout,
		PrimaryTimeout: s.PrimaryTimeout,
		RequestTimeout: s.RequestTimeout,
		MaxAttempts:    s.MaxAttempts,
		InitialBackoff: s.InitialBackoff,
		MaxBackoff:     s.MaxBackoff,
	}
}

// PipelineConfig builds the parser configuration around aliases.
func (c *Config) PipelineConfig(aliases *parser.AliasTable) parser.Config {
	cfg := parser.DefaultConfig()
	cfg.Aliases = aliases
	cfg.Classifier = parser.ClassifierOptions{
		MaxEditDistance: c.Classifier.MaxEditDistance,
		MaxEditRatio:    c.Classifier.MaxEditRatio,
		MinFuzzyLength:  c.Classifier.MinFuzzyLength,
	}
	cfg.Weights = parser.Weights{
		Upstream:     c.Confidence.UpstreamWeight,
		Classified:   c.Confidence.ClassifiedWeight,
		Segmentation: c.Confidence.SegmentationWeight,
	}
	return cfg
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Primary.ProcessorID == "" {
		return ErrNoProcessor
	}
	if err := c.validateProcessor("primary", c.Primary); err != nil {
		return err
	}
	if c.HasFallback() {
		if err := c.validateProcessor("fallback", c.Fallback); err != nil {
			return err
		}
		if c.Fallback.ProcessorID == c.Primary.ProcessorID {
			return fmt.Errorf("config: fallback.processor_id must differ from primary.processor_id")
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d is out of range [1, 65535]", c.Port)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level %q is invalid; expected debug|info|warn|error", c.LogLevel)
	}

	s := c.Selector
	for name, d := range map[string]time.Duration{
		"unavailable_ttl": s.UnavailableTTL,
		"probe_interval":  s.ProbeInterval,
		"probe_timeout":   s.ProbeTimeout,
		"primary_timeout": s.PrimaryTimeout,
		"request_timeout": s.RequestTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: selector.%s must be positive, got %s", name, d)
		}
	}
	if s.PrimaryTimeout >= s.RequestTimeout && c.HasFallback() {
		return fmt.Errorf("config: selector.primary_timeout must be shorter than selector.request_timeout")
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("config: selector.max_attempts must be >= 1, got %d", s.MaxAttempts)
	}
	if s.InitialBackoff < 0 || s.MaxBackoff < 0 {
		return fmt.Errorf("config: selector backoff must not be negative")
	}

	if c.Classifier.MaxEditDistance < 0 || c.Classifier.MaxEditRatio < 0 || c.Classifier.MinFuzzyLength < 0 {
		return fmt.Errorf("config: classifier thresholds must not be negative")
	}
	w := c.Confidence
	if w.UpstreamWeight < 0 || w.ClassifiedWeight < 0 || w.SegmentationWeight < 0 {
		return fmt.Errorf("config: confidence weights must not be negative")
	}
	if w.UpstreamWeight+w.ClassifiedWeight+w.SegmentationWeight == 0 {
		return fmt.Errorf("config: at least one confidence weight must be positive")
	}

	if c.Limits.MaxPages < 1 {
		return fmt.Errorf("config: limits.max_pages must be >= 1, got %d", c.Limits.MaxPages)
	}
	if c.Limits.MaxPayloadBytes < 1 {
		return fmt.Errorf("config: limits.max_payload_bytes must be positive")
	}

	if (c.Firestore.Collection != "" || c.Workflow.ID != "") && c.ProjectID == "" {
		return fmt.Errorf("config: project_id is required for the run ledger and workflow hand-off")
	}
	if c.Workflow.ID != "" && c.Workflow.Location == "" {
		return fmt.Errorf("config: workflow.location is required when workflow.id is set")
	}
	return nil
}

func (c *Config) validateProcessor(name string, p ProcessorConfig) error {
	switch processor.Kind(p.Kind) {
	case processor.KindDocumentAI:
		if p.Location == "" {
			return fmt.Errorf("config: %s.location is required for documentai processors", name)
		}
		if p.ProjectID == "" {
			return fmt.Errorf("config: %s.project_id (or project_id) is required for documentai processors", name)
		}
	case processor.KindGemini:
		if c.VertexAI.Region == "" || c.ProjectID == "" {
			return fmt.Errorf("config: %s uses gemini and needs project_id and vertex_ai.region", name)
		}
	default:
		return fmt.Errorf("config: %s.kind %q is invalid; expected documentai|gemini", name, p.Kind)
	}
	return nil
}
