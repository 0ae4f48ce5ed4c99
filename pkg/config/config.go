// Package config loads runtime configuration: coded defaults, overlaid by
// an optional JSON file, overlaid by MNEMO_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration.
type Config struct {
	DBPath string `env:"MNEMO_DB_PATH" json:"db_path"`

	Embedding     EmbeddingConfig     `envPrefix:"MNEMO_EMBEDDING_" json:"embedding"`
	LLM           LLMConfig           `envPrefix:"MNEMO_LLM_" json:"llm"`
	Search        SearchConfig        `envPrefix:"MNEMO_SEARCH_" json:"search"`
	Salience      SalienceConfig      `envPrefix:"MNEMO_SALIENCE_" json:"salience"`
	Consolidation ConsolidationConfig `envPrefix:"MNEMO_CONSOLIDATION_" json:"consolidation"`
	Pipeline      PipelineConfig      `envPrefix:"MNEMO_PIPELINE_" json:"pipeline"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `env:"PROVIDER" json:"provider"`
	Model    string `env:"MODEL" json:"model"`
	BaseURL  string `env:"BASE_URL" json:"base_url"`
	APIKey   string `env:"API_KEY" json:"-"`
}

// LLMConfig selects the chat model used for extraction and synthesis.
type LLMConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `env:"PROVIDER" json:"provider"`
	Model    string `env:"MODEL" json:"model"`
	BaseURL  string `env:"BASE_URL" json:"base_url"`
	APIKey   string `env:"API_KEY" json:"-"`
}

// SearchConfig tunes hybrid retrieval.
type SearchConfig struct {
	TopK             int     `env:"TOP_K" json:"top_k"`
	OversampleFactor int     `env:"OVERSAMPLE" json:"oversample"`
	MinCandidates    int     `env:"MIN_CANDIDATES" json:"min_candidates"`
	TextK            float64 `env:"TEXT_K" json:"text_k"`
	VectorK          float64 `env:"VECTOR_K" json:"vector_k"`
	SymbolicK        float64 `env:"SYMBOLIC_K" json:"symbolic_k"`
}

// SalienceConfig tunes the re-rank weights.
type SalienceConfig struct {
	WeightRecency       float64 `env:"WEIGHT_RECENCY" json:"weight_recency"`
	WeightAccess        float64 `env:"WEIGHT_ACCESS" json:"weight_access"`
	WeightSemantic      float64 `env:"WEIGHT_SEMANTIC" json:"weight_semantic"`
	WeightReinforcement float64 `env:"WEIGHT_REINFORCEMENT" json:"weight_reinforcement"`
	RecencyLambda       float64 `env:"RECENCY_LAMBDA" json:"recency_lambda"`
}

// ConsolidationConfig tunes merging.
type ConsolidationConfig struct {
	Threshold     float64 `env:"THRESHOLD" json:"threshold"`
	MaxGroup      int     `env:"MAX_GROUP" json:"max_group"`
	QueueCapacity int     `env:"QUEUE_CAPACITY" json:"queue_capacity"`
}

// PipelineConfig tunes the background controllers.
type PipelineConfig struct {
	BatchSize int           `env:"BATCH_SIZE" json:"batch_size"`
	Interval  time.Duration `env:"INTERVAL" json:"interval"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		DBPath: "mnemo.db",
		Embedding: EmbeddingConfig{
			Provider: "openai",
		},
		LLM: LLMConfig{
			Provider: "openai",
		},
		Search: SearchConfig{
			TopK:             10,
			OversampleFactor: 4,
			MinCandidates:    40,
			TextK:            60,
			VectorK:          60,
			SymbolicK:        40,
		},
		Salience: SalienceConfig{
			WeightRecency:       0.2,
			WeightAccess:        0.2,
			WeightSemantic:      0.4,
			WeightReinforcement: 0.2,
			RecencyLambda:       0.01,
		},
		Consolidation: ConsolidationConfig{
			Threshold:     0.92,
			MaxGroup:      5,
			QueueCapacity: 256,
		},
		Pipeline: PipelineConfig{
			BatchSize: 16,
			Interval:  5 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the JSON file at path when
// it exists, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
