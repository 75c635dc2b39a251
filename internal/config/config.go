package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OpenAIConfig holds settings for the OpenAI-compatible embedder.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// EmbedderConfig selects and configures one embedding capability.
type EmbedderConfig struct {
	Type      string        `yaml:"type"` // "openai" or "hash"
	Dimension int           `yaml:"dimension,omitempty"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures semantic boundary detection.
type ChunkerConfig struct {
	BreakpointType   string  `yaml:"breakpoint_type"`
	BreakpointAmount float64 `yaml:"breakpoint_amount"`
	BufferSize       int     `yaml:"buffer_size"`
}

// StoreConfig configures the on-disk vector store.
type StoreConfig struct {
	Dir     string `yaml:"dir"`
	Metric  string `yaml:"metric"`  // "ip" or "l2"
	Sidecar string `yaml:"sidecar"` // "jsonl" or "bolt"
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure. Boundary is
// the embedder used for breakpoint detection; Storage embeds the final
// chunks and the queries. They may differ in model and dimension.
type AppConfig struct {
	Boundary EmbedderConfig `yaml:"boundary"`
	Storage  EmbedderConfig `yaml:"storage"`
	Chunker  ChunkerConfig  `yaml:"chunker"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/semrag/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "semrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Boundary: EmbedderConfig{Type: "hash"},
		Storage:  EmbedderConfig{Type: "hash"},
		Chunker:  ChunkerConfig{BreakpointType: "percentile", BreakpointAmount: 95},
		Store:    StoreConfig{Dir: "data/index", Metric: "ip", Sidecar: "jsonl"},
		Server:   ServerConfig{Addr: ":8080"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	for _, e := range []*EmbedderConfig{&cfg.Boundary, &cfg.Storage} {
		if e.Type == "" {
			e.Type = "hash"
		}
		if e.Type == "openai" {
			if e.OpenAI == nil {
				e.OpenAI = &OpenAIConfig{}
			}
			if e.OpenAI.APIKeyEnv == "" {
				e.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
			}
			if e.OpenAI.Model == "" {
				e.OpenAI.Model = "text-embedding-3-large"
			}
			if e.OpenAI.Dimension == 0 {
				e.OpenAI.Dimension = 3072
			}
		}
	}
	if cfg.Chunker.BreakpointType == "" {
		cfg.Chunker.BreakpointType = "percentile"
	}
	if cfg.Chunker.BufferSize == 0 {
		cfg.Chunker.BufferSize = 1
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "data/index"
	}
	if cfg.Store.Metric == "" {
		cfg.Store.Metric = "ip"
	}
	if cfg.Store.Sidecar == "" {
		cfg.Store.Sidecar = "jsonl"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}
