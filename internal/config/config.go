package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-project settings directory.
	DirName  = ".narraweave"
	FileName = "config.yaml"
)

// Config holds all narraweave configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Iteration IterationConfig `yaml:"iteration"`
	Changelog ChangelogConfig `yaml:"changelog"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig selects the completion backend.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai, anthropic, gemini, openrouter
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`
}

// IterationConfig holds the feedback pipeline thresholds.
type IterationConfig struct {
	ConfidenceThreshold        float64 `yaml:"confidence_threshold"`
	RegenerateThresholdPercent float64 `yaml:"regenerate_threshold_percent"`
	ClassificationRetries      int     `yaml:"classification_retries"`
	SummaryCharLimit           int     `yaml:"summary_char_limit"`
}

// ChangelogConfig controls how applied iterations are recorded.
type ChangelogConfig struct {
	Git         bool   `yaml:"git"`
	AutoInit    bool   `yaml:"auto_init"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // empty means the platform default
}

type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "openai",
			Timeout:   "120s",
			MaxTokens: 8192,
		},
		Iteration: IterationConfig{
			ConfidenceThreshold:        0.8,
			RegenerateThresholdPercent: 30,
			ClassificationRetries:      1,
			SummaryCharLimit:           6000,
		},
		Changelog: ChangelogConfig{
			Git:         true,
			AuthorName:  "narraweave",
			AuthorEmail: "narraweave@localhost",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ProjectPath returns the config location inside a project.
func ProjectPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, FileName)
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects values the pipeline cannot work with.
func (c *Config) Validate() error {
	it := c.Iteration
	if it.ConfidenceThreshold < 0 || it.ConfidenceThreshold > 1 {
		return fmt.Errorf("iteration.confidence_threshold must be within [0,1], got %v", it.ConfidenceThreshold)
	}
	if it.RegenerateThresholdPercent < 0 || it.RegenerateThresholdPercent > 100 {
		return fmt.Errorf("iteration.regenerate_threshold_percent must be within [0,100], got %v", it.RegenerateThresholdPercent)
	}
	if it.ClassificationRetries < 0 {
		return fmt.Errorf("iteration.classification_retries must not be negative")
	}
	if _, err := c.LLM.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// TimeoutDuration parses the per-call backend timeout. Empty means none.
func (l LLMConfig) TimeoutDuration() (time.Duration, error) {
	if strings.TrimSpace(l.Timeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(l.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid llm.timeout %q: %w", l.Timeout, err)
	}
	return d, nil
}

// applyEnvOverrides applies NARRAWEAVE_* environment overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NARRAWEAVE_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("NARRAWEAVE_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("NARRAWEAVE_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("NARRAWEAVE_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("NARRAWEAVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NARRAWEAVE_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Iteration.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("NARRAWEAVE_REGENERATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Iteration.RegenerateThresholdPercent = f
		}
	}
}
