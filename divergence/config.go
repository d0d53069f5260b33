package divergence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfigFile = "config.json"

// CalibrationConfig controls the post-hoc corrections applied to every
// raw embedding set.
type CalibrationConfig struct {
	Whiten bool `json:"whiten"`
	// RemovePCs removes that many principal components after whitening.
	RemovePCs int `json:"removePcs"`
	// PCRemovalThreshold triggers an extra single-component removal when
	// the post-whitening isotropy still sits below it.
	PCRemovalThreshold float64 `json:"pcRemovalThreshold"`
	Eps                float64 `json:"eps"`
}

// ScoringConfig selects the divergence metric and the privileged
// reference source for the anchor metric.
type ScoringConfig struct {
	Metric    Metric `json:"metric"`
	Reference string `json:"reference"`
}

// Config aggregates runtime settings persisted to config.json.
type Config struct {
	// SourceLabel is the canonical label of the original-language text.
	SourceLabel    string              `json:"sourceLabel"`
	SourceLanguage string              `json:"sourceLanguage"`
	TargetLanguage string              `json:"targetLanguage"`
	Labels         map[string]string   `json:"labels,omitempty"`
	Prompt         PromptConfig        `json:"prompt"`
	Calibration    CalibrationConfig   `json:"calibration"`
	Scoring        ScoringConfig       `json:"scoring"`
	Significance   SignificanceOptions `json:"significance"`
	Embedder       EmbedderConfig      `json:"embedder"`
	TopOutliers    int                 `json:"topOutliers"`
}

// Clone creates a deep copy of the configuration so callers can mutate
// safely.
func (c Config) Clone() Config {
	buf, _ := json.Marshal(c)
	var out Config
	_ = json.Unmarshal(buf, &out)
	return out
}

// ApplyDefaults populates zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.SourceLabel == "" {
		c.SourceLabel = "Gutenberg"
	}
	if c.SourceLanguage == "" {
		c.SourceLanguage = "german"
	}
	if c.TargetLanguage == "" {
		c.TargetLanguage = "english"
	}
	if c.Labels == nil {
		c.Labels = DefaultLabelMap()
	}
	if c.Prompt.Style == "" {
		c.Prompt = DefaultPromptConfig()
	}
	if c.Calibration.PCRemovalThreshold == 0 {
		c.Calibration.PCRemovalThreshold = 0.1
	}
	if c.Calibration.Eps == 0 {
		c.Calibration.Eps = defaultEps
	}
	if c.Scoring.Metric == "" {
		c.Scoring.Metric = MetricAnchor
	}
	if c.Scoring.Reference == "" {
		c.Scoring.Reference = c.SourceLabel
	}
	c.Significance.ApplyDefaults()
	if c.Embedder.MaxSeqLen == 0 {
		c.Embedder.MaxSeqLen = 512
	}
	if c.TopOutliers == 0 {
		c.TopOutliers = 10
	}
}

// LoadConfig loads configuration from the given path or the default
// config.json. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = defaultConfigFile
	}
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.Calibration.Whiten = true
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if cfg.Embedder.CacheDir != "" {
		if err := os.MkdirAll(cfg.Embedder.CacheDir, 0o755); err != nil {
			return cfg, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return cfg, nil
}

// SaveConfig persists configuration to disk atomically.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		path = defaultConfigFile
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.ApplyDefaults()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
