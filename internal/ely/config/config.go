// Package config loads Ely's runtime configuration from an optional YAML
// file, then applies environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Ely/common/environment"
	"github.com/bdobrica/Ely/internal/ely/memory"
)

// DefaultPath is where the daemon looks for a config file when -config is
// not given.
const DefaultPath = "ely.yaml"

// ErrNoConfigFile is returned by Load when path does not exist.
var ErrNoConfigFile = errors.New("config file not found")

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// LLM providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
)

// Config is the full set of runtime settings.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	LLM     LLMConfig     `yaml:"llm"`
	Matrix  MatrixConfig  `yaml:"matrix"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// StorageConfig selects where conversation records live.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	SystemPrompt string        `yaml:"system_prompt"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// MatrixConfig holds the bot account and the rooms it joins at startup.
type MatrixConfig struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Rooms       []string `yaml:"rooms"`
	Language    string   `yaml:"language"`
	// RateLimit is prompts per sender per minute; 0 disables it.
	RateLimit int `yaml:"rate_limit"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend:      BackendFile,
			DataDir:      memory.DefaultDir,
			DatabasePath: "ely.db",
		},
		Log: LogConfig{Level: "info", Format: "text"},
		LLM: LLMConfig{
			Provider:    ProviderOpenRouter,
			Temperature: 0.7,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
		},
		Matrix: MatrixConfig{Language: "en", RateLimit: 20},
		HTTP:   HTTPConfig{Addr: ":8080"},
	}
}

// Load reads the YAML file at path over Default(). Unknown keys are
// rejected. A missing file yields an error wrapping ErrNoConfigFile.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: %s: %w", path, ErrNoConfigFile)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads path (DefaultPath when empty) and applies the environment.
// A missing file is only an error when path was given explicitly.
func Resolve(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	cfg, err := Load(path)
	if err != nil {
		if explicit || !errors.Is(err, ErrNoConfigFile) {
			return cfg, err
		}
		cfg = Default()
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// Parse decodes YAML into cfg, leaving fields absent from data untouched.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with any environment variables that are set.
func (c *Config) ApplyEnv() {
	c.Storage.Backend = environment.StringOr("ELY_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DataDir = environment.StringOr("ELY_DATA_DIR", c.Storage.DataDir)
	c.Storage.DatabasePath = environment.StringOr("ELY_DATABASE_PATH", c.Storage.DatabasePath)

	c.Log.Level = environment.StringOr("ELYBOT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = environment.StringOr("ELY_LOG_FORMAT", c.Log.Format)

	c.LLM.Provider = strings.ToLower(environment.StringOr("ELY_LLM_PROVIDER", c.LLM.Provider))
	c.LLM.Model = environment.StringOr("ELY_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = environment.StringOr("ELY_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.SystemPrompt = environment.StringOr("SYSTEM_PROMPT", c.LLM.SystemPrompt)
	c.LLM.Timeout = environment.DurationOr("ELY_LLM_TIMEOUT", c.LLM.Timeout)
	if key, _ := environment.FirstOf(c.apiKeyVars()...); key != "" {
		c.LLM.APIKey = key
	}

	c.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", c.Matrix.AccessToken)
	c.Matrix.Rooms = environment.StringSliceOr("MATRIX_ROOMS", c.Matrix.Rooms)
	c.Matrix.Language = environment.StringOr("ELY_LANG", c.Matrix.Language)
	c.Matrix.RateLimit = environment.IntOr("ELY_RATE_LIMIT", c.Matrix.RateLimit)

	c.HTTP.Addr = environment.StringOr("ELY_HTTP_ADDR", c.HTTP.Addr)
}

// apiKeyVars lists the environment variables that may carry the provider
// key, most specific first.
func (c *Config) apiKeyVars() []string {
	switch c.LLM.Provider {
	case ProviderGemini:
		return []string{"ELY_LLM_API_KEY", "GOOGLE_API_KEY"}
	case ProviderOpenAI:
		return []string{"ELY_LLM_API_KEY", "OPENAI_API_KEY"}
	default:
		return []string{"ELY_LLM_API_KEY", "OPENROUTER_API_KEY"}
	}
}

// Validate checks the settings every command needs: storage and logging.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Storage.DataDir) == "" {
			return fmt.Errorf("storage.data_dir must not be empty for the file backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.DatabasePath) == "" {
			return fmt.Errorf("storage.database_path must not be empty for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Storage.Backend)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ValidateBot additionally checks what the chat daemon needs: provider
// credentials and a Matrix account.
func (c *Config) ValidateBot() error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch c.LLM.Provider {
	case ProviderOpenRouter, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("llm.provider must be one of %s, %s, %s; got %q",
			ProviderOpenRouter, ProviderOpenAI, ProviderGemini, c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set %s)", strings.Join(c.apiKeyVars(), " or "))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2], got %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required (MATRIX_HOMESERVER)")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required (MATRIX_USER_ID)")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required (MATRIX_ACCESS_TOKEN)")
	}
	if c.Matrix.RateLimit < 0 {
		return fmt.Errorf("matrix.rate_limit must not be negative, got %d", c.Matrix.RateLimit)
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required to persist the Matrix sync token")
	}
	return nil
}

// Summary flattens the settings for a startup log line. Secret-looking
// keys still hold their raw values; pass the result through redact.Map.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"storage_backend":     c.Storage.Backend,
		"data_dir":            c.Storage.DataDir,
		"database_path":       c.Storage.DatabasePath,
		"log_level":           c.Log.Level,
		"llm_provider":        c.LLM.Provider,
		"llm_model":           c.LLM.Model,
		"llm_api_key":         c.LLM.APIKey,
		"matrix_homeserver":   c.Matrix.Homeserver,
		"matrix_user_id":      c.Matrix.UserID,
		"matrix_access_token": c.Matrix.AccessToken,
		"matrix_rooms":        len(c.Matrix.Rooms),
		"language":            c.Matrix.Language,
		"rate_limit":          c.Matrix.RateLimit,
		"http_addr":           c.HTTP.Addr,
	}
}
