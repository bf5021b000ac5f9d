package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xhad/aibots/internal/types"
)

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	MaxTokens      int     `yaml:"max_tokens"`
	BatchSize      int     `yaml:"batch_size"`
	Concurrency    int     `yaml:"concurrency"`
	RateLimit      float64 `yaml:"rate_limit"`
}

type ProcessorConfig struct {
	Splitter     string `yaml:"splitter"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float32 `yaml:"score_threshold"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	PersistDir  string `yaml:"persist_dir"`
	DatabaseURL string `yaml:"database_url"`
	TableName   string `yaml:"table_name"`
	VectorDim   int    `yaml:"vector_dim"`
	BatchSize   int    `yaml:"batch_size"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Config is loaded once at startup and treated as read-only afterwards.
type Config struct {
	Environment string          `yaml:"environment"`
	LogLevel    string          `yaml:"log_level"`
	LLM         LLMConfig       `yaml:"llm"`
	Processor   ProcessorConfig `yaml:"processor"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Store       StoreConfig     `yaml:"store"`
	Server      ServerConfig    `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/ai-bots/config.yaml"),
			"/etc/ai-bots/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading config file: %v", types.ErrConfiguration, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file %s: %v", types.ErrConfiguration, path, err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Environment == "" {
		config.Environment = "development"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if config.LLM.Provider == "" {
		config.LLM.Provider = "openai"
	}
	if config.LLM.Model == "" {
		switch config.LLM.Provider {
		case "ollama":
			config.LLM.Model = "mistral"
		default:
			config.LLM.Model = "gpt-4o-mini"
		}
	}
	if config.LLM.EmbeddingModel == "" && config.LLM.Provider == "ollama" {
		config.LLM.EmbeddingModel = "nomic-embed-text:latest"
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.BatchSize == 0 {
		config.LLM.BatchSize = 64
	}
	if config.LLM.Concurrency == 0 {
		config.LLM.Concurrency = 4
	}

	if config.Processor.Splitter == "" {
		config.Processor.Splitter = "window"
	}
	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 500
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 50
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 4
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "memory"
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "documents"
	}
	if config.Store.VectorDim == 0 {
		config.Store.VectorDim = 1536
	}
	if config.Store.BatchSize == 0 {
		config.Store.BatchSize = 100
	}

	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8000
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 60 * time.Second
	}
}

func mergeWithEnv(config *Config) {
	if env := os.Getenv("APP_ENV"); env != "" {
		config.Environment = env
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if isTruthy(os.Getenv("USE_FAKE")) {
		config.LLM.Provider = "fake"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" && config.LLM.Provider != "ollama" {
		config.LLM.BaseURL = baseURL
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = baseURL
	}

	if dir := os.Getenv("CHROMA_PERSIST_DIR"); dir != "" {
		config.Store.PersistDir = dir
	}
	if dir := os.Getenv("PERSIST_DIR"); dir != "" {
		config.Store.PersistDir = dir
	}
	if backend := os.Getenv("VECTOR_STORE"); backend != "" {
		config.Store.Backend = backend
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.DatabaseURL = dbURL
	}

	if port := os.Getenv("PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			config.Server.Port = p
		}
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Err joins the validation errors under types.ErrConfiguration, or returns nil.
func (c *Config) Err() error {
	verrs := c.Validate()
	if len(verrs) == 0 {
		return nil
	}
	errs := make([]error, 0, len(verrs))
	for _, v := range verrs {
		errs = append(errs, v)
	}
	return fmt.Errorf("%w: %w", types.ErrConfiguration, errors.Join(errs...))
}
