package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Ollama   OllamaConfig
	OpenAI   OpenAIConfig
	Storage  StorageConfig
	Memory   MemoryConfig
	Dispatch DispatchConfig
	Request  RequestConfig
	Log      LogConfig
	API      APIConfig
}

type ServerConfig struct {
	Port int
}

type LLMConfig struct {
	Backend string // "ollama" or "openai"
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type MemoryConfig struct {
	MaxTurns int
}

type DispatchConfig struct {
	// MaxConcurrency of 0 selects the number of registered workers.
	MaxConcurrency int
	MaxRetries     int
	// Ordering chains the subtasks of these worker ids in order when one
	// request routes to several of them.
	Ordering []string
}

type RequestConfig struct {
	Timeout time.Duration
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	// Token guards /v1 routes; empty disables auth.
	Token string
}

// ClassifierModel returns the model name for the selected backend.
func (c Config) ClassifierModel() string {
	if c.LLM.Backend == "openai" {
		return c.OpenAI.Model
	}
	return c.Ollama.Model
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		LLM: LLMConfig{
			Backend: "ollama",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen2.5:3b",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Memory: MemoryConfig{
			MaxTurns: 50,
		},
		Dispatch: DispatchConfig{
			MaxRetries: 1,
		},
		Request: RequestConfig{
			Timeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/orca/config.json, then applies ORCA_* environment
// overrides. Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLM.Backend {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid llm.backend %q: want ollama or openai", c.LLM.Backend)
	}
	if c.Memory.MaxTurns <= 0 {
		return fmt.Errorf("memory.max_turns must be positive, got %d", c.Memory.MaxTurns)
	}
	if c.Dispatch.MaxConcurrency < 0 {
		return fmt.Errorf("dispatch.max_concurrency must not be negative, got %d", c.Dispatch.MaxConcurrency)
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must not be negative, got %d", c.Dispatch.MaxRetries)
	}
	if c.Request.Timeout <= 0 {
		return fmt.Errorf("request.timeout must be positive, got %s", c.Request.Timeout)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "orca-data"
		}
	}
	return filepath.Join(dir, "orca")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "orca", "config.json")
}
