package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the lapidary search engine configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Search     SearchConfig     `yaml:"search"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Descriptor DescriptorConfig `yaml:"descriptor"`
	Speech     SpeechConfig     `yaml:"speech"`
	Language   LanguageConfig   `yaml:"language"`
	Output     OutputConfig     `yaml:"output"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds vector store settings. Driver "redis" talks to a
// Redis 8+ FT index; "local" uses an embedded bbolt file with exact scan.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, local (default: local)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	Path             string   `yaml:"path"` // bbolt file for the local driver
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig selects and configures the cross-modal embedder.
type EmbeddingConfig struct {
	Driver string       `yaml:"driver"` // onnx, openai (default: onnx)
	ONNX   ONNXConfig   `yaml:"onnx"`
	OpenAI OpenAIConfig `yaml:"openai"`
}

// ONNXConfig holds local inference settings. AdapterDir, when set and
// present on disk, points at the LoRA-merged export and takes precedence
// over ModelDir.
type ONNXConfig struct {
	ModelDir   string `yaml:"model_dir"`
	AdapterDir string `yaml:"adapter_dir"`
	OrtLibrary string `yaml:"ort_library"`
	MaxSeqLen  int    `yaml:"max_seq_len"`
	ImageSize  int    `yaml:"image_size"`
	Dimensions int    `yaml:"dimensions"`
}

// OpenAIConfig holds settings for an OpenAI-compatible embedding server
// hosting a CLIP-family model (images are sent as data URIs).
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// SearchConfig holds retrieval and fusion settings.
type SearchConfig struct {
	Collection string  `yaml:"collection"`
	FanOut     int     `yaml:"fan_out"` // embedding-stage candidate pool
	TopK       int     `yaml:"top_k"`   // final result size
	Weights    Weights `yaml:"weights"`
}

// Weights are the fusion weights per signal provenance. Explicit user text
// must stay the dominant signal; see the fusion engine for the invariant.
type Weights struct {
	Image       float64 `yaml:"image"`
	Description float64 `yaml:"description"`
	Text        float64 `yaml:"text"`
}

// RerankConfig holds cross-encoder settings. An empty BaseURL disables the
// stage (passthrough).
type RerankConfig struct {
	BaseURL    string `yaml:"base_url"`
	BatchSize  int    `yaml:"batch_size"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// DescriptorConfig holds captioning settings. An empty APIKey disables the
// stage (images are embedded uncropped, without a description).
type DescriptorConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// SpeechConfig holds translation and speech-to-text settings. An empty
// APIKey disables both; foreign-language queries then pass through as-is.
type SpeechConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// LanguageConfig holds language routing settings.
type LanguageConfig struct {
	Working string `yaml:"working"` // BCP 47 code of the working language
}

// OutputConfig holds result packaging settings.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	CopyWorkers int    `yaml:"copy_workers"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR} / ${VAR:-default}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Search requests block on model inference; give them room.
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "local"
	}
	if c.Database.Path == "" {
		c.Database.Path = "lapidary.db"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Driver == "" {
		c.Embedding.Driver = "onnx"
	}
	if c.Embedding.ONNX.MaxSeqLen <= 0 {
		c.Embedding.ONNX.MaxSeqLen = 64
	}
	if c.Embedding.ONNX.ImageSize <= 0 {
		c.Embedding.ONNX.ImageSize = 384
	}
	if c.Search.Collection == "" {
		c.Search.Collection = "jewelry"
	}
	if c.Search.FanOut <= 0 {
		c.Search.FanOut = 50
	}
	if c.Search.TopK <= 0 {
		c.Search.TopK = 20
	}
	if c.Search.Weights.Image <= 0 {
		c.Search.Weights.Image = 1.0
	}
	if c.Search.Weights.Description <= 0 {
		c.Search.Weights.Description = 0.5
	}
	if c.Search.Weights.Text <= 0 {
		c.Search.Weights.Text = 2.0
	}
	if c.Rerank.BatchSize <= 0 {
		c.Rerank.BatchSize = 16
	}
	if c.Rerank.TimeoutSec <= 0 {
		c.Rerank.TimeoutSec = 30
	}
	if c.Descriptor.Model == "" {
		c.Descriptor.Model = "gemini-2.0-flash-exp"
	}
	if c.Descriptor.TimeoutSec <= 0 {
		c.Descriptor.TimeoutSec = 20
	}
	if c.Speech.BaseURL == "" {
		c.Speech.BaseURL = "https://api.sarvam.ai"
	}
	if c.Speech.TimeoutSec <= 0 {
		c.Speech.TimeoutSec = 30
	}
	if c.Language.Working == "" {
		c.Language.Working = "en"
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "search_results"
	}
	if c.Output.CopyWorkers <= 0 {
		c.Output.CopyWorkers = 4
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis driver")
		}
	case "local":
		// path defaulted above
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	switch c.Embedding.Driver {
	case "onnx":
		if c.Embedding.ONNX.ModelDir == "" {
			return fmt.Errorf("embedding.onnx.model_dir is required for the onnx driver")
		}
	case "openai":
		if c.Embedding.OpenAI.BaseURL == "" {
			return fmt.Errorf("embedding.openai.base_url is required for the openai driver")
		}
	default:
		return fmt.Errorf("unknown embedding.driver %q", c.Embedding.Driver)
	}
	if c.Search.FanOut < c.Search.TopK {
		return fmt.Errorf("search.fan_out (%d) must not be smaller than search.top_k (%d)",
			c.Search.FanOut, c.Search.TopK)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
