// Package config loads tutord configuration from defaults, an optional YAML
// file, a .env file, and TUTORD_* environment variables, in that precedence
// order (later wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Groq       GroqConfig       `yaml:"groq"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Storage    StorageConfig    `yaml:"storage"`
	Watch      WatchConfig      `yaml:"watch"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig covers the HTTP listener. The MCP server shares the process
// and speaks stdio, so it needs no port of its own.
type ServerConfig struct {
	Port int `yaml:"port"`
}

type GroqConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"-"` // secrets come from the environment only
	ChatModel       string `yaml:"chat_model"`
	ClassifierModel string `yaml:"classifier_model"`
	WhisperModel    string `yaml:"whisper_model"`
	VisionModel     string `yaml:"vision_model"`
}

type EmbeddingsConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
	Model   string `yaml:"model"`
}

type RetrievalConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	TopK      int `yaml:"top_k"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type WatchConfig struct {
	Dir string `yaml:"dir"` // empty disables the directory watcher
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Groq: GroqConfig{
			BaseURL:         "https://api.groq.com/openai/v1",
			ChatModel:       "llama-3.3-70b-versatile",
			ClassifierModel: "llama-3.3-70b-versatile",
			WhisperModel:    "whisper-large-v3-turbo",
			VisionModel:     "meta-llama/llama-4-scout-17b-16e-instruct",
		},
		Embeddings: EmbeddingsConfig{
			BaseURL: "http://localhost:11434/v1",
			Model:   "nomic-embed-text",
		},
		Retrieval: RetrievalConfig{
			ChunkSize: 500,
			TopK:      3,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tutord"
	}
	return filepath.Join(home, ".tutord")
}

// Load reads configuration. A .env file in the working directory is loaded
// first as a local development convenience; then the YAML file at
// TUTORD_CONFIG (or $dataDir/config.yaml when present); environment
// variables override everything. The Groq API key is required.
func Load() (Config, error) {
	// Missing .env is fine; real deployments use the process environment.
	_ = godotenv.Load()

	cfg := defaults()

	path := os.Getenv("TUTORD_CONFIG")
	if path == "" {
		candidate := filepath.Join(cfg.Storage.DataDir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Groq.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Groq API key. Set it via environment variable GROQ_API_KEY")
	}
	if cfg.Embeddings.APIKey == "" {
		// Local embedding servers (Ollama's OpenAI endpoint) accept any key.
		cfg.Embeddings.APIKey = cfg.Groq.APIKey
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setInt := func(key string, target *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}

	setInt("TUTORD_PORT", &cfg.Server.Port)
	setString("GROQ_API_KEY", &cfg.Groq.APIKey)
	setString("TUTORD_GROQ_BASE_URL", &cfg.Groq.BaseURL)
	setString("TUTORD_CHAT_MODEL", &cfg.Groq.ChatModel)
	setString("TUTORD_CLASSIFIER_MODEL", &cfg.Groq.ClassifierModel)
	setString("TUTORD_WHISPER_MODEL", &cfg.Groq.WhisperModel)
	setString("TUTORD_VISION_MODEL", &cfg.Groq.VisionModel)
	setString("TUTORD_EMBEDDINGS_BASE_URL", &cfg.Embeddings.BaseURL)
	setString("TUTORD_EMBEDDINGS_API_KEY", &cfg.Embeddings.APIKey)
	setString("TUTORD_EMBEDDINGS_MODEL", &cfg.Embeddings.Model)
	setInt("TUTORD_CHUNK_SIZE", &cfg.Retrieval.ChunkSize)
	setInt("TUTORD_TOP_K", &cfg.Retrieval.TopK)
	setString("TUTORD_DATA_DIR", &cfg.Storage.DataDir)
	setString("TUTORD_WATCH_DIR", &cfg.Watch.Dir)
	setString("TUTORD_LOG_LEVEL", &cfg.Log.Level)
}
